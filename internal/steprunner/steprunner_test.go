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

package steprunner

import (
	"context"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_DryRunNeverExecutes(t *testing.T) {
	r := &Runner{Logger: log.NewNopLogger(), DryRun: true}
	called := false

	rec := r.Run(context.Background(), Download, Invocation{Path: "/bin/does-not-exist"},
		func() (int, error) { called = true; return 7, nil }, nil)

	assert.True(t, called)
	assert.Equal(t, OutcomeOK, rec.Outcome)
	assert.Equal(t, 7, rec.ArtifactCount)
	assert.False(t, rec.EndTS.Before(rec.StartTS))
}

func TestRun_DryRunSimulationFailure(t *testing.T) {
	r := &Runner{Logger: log.NewNopLogger(), DryRun: true}

	rec := r.Run(context.Background(), Download, Invocation{Path: "/bin/sh"},
		func() (int, error) { return 0, assert.AnError }, nil)

	assert.Equal(t, OutcomeFailed, rec.Outcome)
	assert.NotEmpty(t, rec.ErrorMessage)
}

func TestRun_SuccessfulSubprocess(t *testing.T) {
	r := &Runner{Logger: log.NewNopLogger()}

	countCalled := false
	rec := r.Run(context.Background(), Colormap, Invocation{Path: "/bin/sh", Args: []string{"-c", "echo hello"}},
		nil, func() (int, error) { countCalled = true; return 3, nil })

	require.Equal(t, OutcomeOK, rec.Outcome)
	assert.True(t, countCalled)
	assert.Equal(t, 3, rec.ArtifactCount)
}

func TestRun_FailedSubprocessCapturesOutputTail(t *testing.T) {
	r := &Runner{Logger: log.NewNopLogger()}

	rec := r.Run(context.Background(), Colormap, Invocation{Path: "/bin/sh", Args: []string{"-c", "echo boom 1>&2; exit 3"}},
		nil, nil)

	assert.Equal(t, OutcomeFailed, rec.Outcome)
	assert.Contains(t, rec.ErrorMessage, "boom")
}

func TestRun_RespectsWorkingDirectoryAndEnv(t *testing.T) {
	r := &Runner{Logger: log.NewNopLogger()}
	dir := t.TempDir()

	rec := r.Run(context.Background(), Download, Invocation{
		Path: "/bin/sh",
		Args: []string{"-c", "test \"$FOO\" = bar && pwd"},
		Env:  []string{"FOO=bar"},
		Dir:  dir,
	}, nil, nil)

	assert.Equal(t, OutcomeOK, rec.Outcome)
}

func TestRun_ContextCancellationInterrupts(t *testing.T) {
	r := &Runner{Logger: log.NewNopLogger()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := r.Run(ctx, TileGeneration, Invocation{Path: "/bin/sh", Args: []string{"-c", "sleep 5"}}, nil, nil)
	assert.Equal(t, OutcomeFailed, rec.Outcome)
}
