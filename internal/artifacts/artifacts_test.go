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

package artifacts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadName_RoundTrip(t *testing.T) {
	name := DownloadName("hrrr", "20260111", "01", 6)
	assert.Equal(t, "hrrr.20260111.t01z.f006.grib2", name)

	fh, ok := ParseDownloadName(name)
	require.True(t, ok)
	assert.Equal(t, 6, fh)
}

func TestParseDownloadName_Rejects(t *testing.T) {
	_, ok := ParseDownloadName("not-a-grib.txt")
	assert.False(t, ok)
}

func TestProcessedAndColoredNames(t *testing.T) {
	dl := DownloadName("hrrr", "20260111", "01", 6)
	processed := ProcessedName("temperature_2m", dl)
	assert.Equal(t, "temperature_2m_hrrr.20260111.t01z.f006.tif", processed)

	colored := ColoredName(processed)
	assert.Equal(t, "temperature_2m_hrrr.20260111.t01z.f006_colored.tif", colored)
}

func TestTileDir(t *testing.T) {
	assert.Equal(t, filepath.Join("temperature_2m", "20260111T01z", "006"),
		TileDir("temperature_2m", "20260111", "01", 6))
}

func TestList_MissingDirIsEmpty(t *testing.T) {
	names, err := List(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestList_SortedFilesOnly(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.grib2"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.grib2"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))

	names, err := List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.grib2", "b.grib2"}, names)

	count, err := Count(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
