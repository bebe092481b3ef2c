// Copyright 2026 The Weather Tile Pipeline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package retention

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is a minimal in-memory S3-like prefix store for testing.
type fakeStore struct {
	objects map[string]bool
}

func newFakeStore(keys ...string) *fakeStore {
	f := &fakeStore{objects: map[string]bool{}}
	for _, k := range keys {
		f.objects[k] = true
	}
	return f
}

func (f *fakeStore) ListKeys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *fakeStore) ListCommonPrefixes(_ context.Context, prefix string) ([]string, error) {
	seen := map[string]bool{}
	for k := range f.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		idx := strings.Index(rest, "/")
		if idx < 0 {
			continue
		}
		seen[prefix+rest[:idx+1]] = true
	}
	var prefixes []string
	for p := range seen {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	return prefixes, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func TestEnforceRaw_KeepsOnlyCurrentCycle(t *testing.T) {
	store := newFakeStore(
		"raw-grib2/2026/01/11/hrrr.20260111.t01z.f000.grib2",
		"raw-grib2/2026/01/11/hrrr.20260111.t01z.f003.grib2",
		"raw-grib2/2026/01/10/hrrr.20260110.t23z.f000.grib2",
	)
	e := &Enforcer{Store: store, Logger: log.NewNopLogger()}

	report := e.EnforceRaw(context.Background(), "raw-grib2/", "hrrr", "20260111", "01")

	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 0, report.DeleteErrors)

	keys, err := store.ListKeys(context.Background(), "raw-grib2/")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
	for _, k := range keys {
		assert.Contains(t, k, "20260111")
	}
}

func TestEnforceColored_RetainsExactlyOneDate(t *testing.T) {
	store := newFakeStore(
		"colored-cogs/2026-01-11/a_colored.tif",
		"colored-cogs/2026-01-10/b_colored.tif",
		"colored-cogs/2026-01-09/c_colored.tif",
	)
	e := &Enforcer{Store: store, Logger: log.NewNopLogger()}

	e.EnforceColored(context.Background(), "colored-cogs/", "2026-01-11")

	prefixes, err := store.ListCommonPrefixes(context.Background(), "colored-cogs/")
	require.NoError(t, err)
	assert.Equal(t, []string{"colored-cogs/2026-01-11/"}, prefixes)
}

func TestEnforceTiles_PerVariableKeepLatest(t *testing.T) {
	store := newFakeStore(
		"tiles/temperature_2m/20260111T01z/000/0/0/0.png",
		"tiles/temperature_2m/20260110T23z/000/0/0/0.png",
		"tiles/wind_speed/20260111T01z/000/0/0/0.png",
		"tiles/wind_speed/20260110T23z/000/0/0/0.png",
	)
	e := &Enforcer{Store: store, Logger: log.NewNopLogger()}

	report := e.EnforceTiles(context.Background(), "tiles/", "20260111", "01")
	assert.Equal(t, 2, report.Deleted)

	keys, err := store.ListKeys(context.Background(), "tiles/")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
	for _, k := range keys {
		assert.Contains(t, k, "20260111T01z")
	}
}

func TestEnforce_IdempotentOnSecondRun(t *testing.T) {
	store := newFakeStore(
		"tiles/temperature_2m/20260111T01z/000/0/0/0.png",
		"tiles/temperature_2m/20260110T23z/000/0/0/0.png",
	)
	e := &Enforcer{Store: store, Logger: log.NewNopLogger()}

	e.EnforceTiles(context.Background(), "tiles/", "20260111", "01")
	second := e.EnforceTiles(context.Background(), "tiles/", "20260111", "01")

	assert.Equal(t, 0, second.Deleted)
	assert.Equal(t, 0, second.DeleteErrors)
}
