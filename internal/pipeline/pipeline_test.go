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

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/manifest"
	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/metrics"
	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/modelprofile"
	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/retention"
	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/steprunner"
	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/workspace"
)

func testProfile() modelprofile.Profile {
	return modelprofile.Profile{
		Name:                   "testmodel",
		CadenceHours:           1,
		AvailabilityDelayHours: 3,
		DefaultForecastHours:   "0-2",
		ConfigPath:             "",
		StorePrefixes: modelprofile.StorePrefixes{
			Raw:      "raw-grib2/",
			Colored:  "colored-cogs/",
			Tiles:    "tiles/",
			Metadata: "metadata/",
		},
	}
}

func newDriver(t *testing.T, dryRun bool) *Driver {
	t.Helper()
	logger := log.NewNopLogger()
	runner := &steprunner.Runner{Logger: logger, DryRun: dryRun}
	return &Driver{
		Runner:    runner,
		Metrics:   metrics.New(nil, "testmodel", logger, dryRun),
		Retention: &retention.Enforcer{Logger: logger},
		Manifest:  &manifest.Emitter{Runner: runner, Logger: logger},
		Logger:    logger,
	}
}

func openWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.Open(t.TempDir(), log.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func TestDriver_DryRunHappyPath(t *testing.T) {
	profile := testProfile()
	flags := Flags{DryRun: true}
	ws := openWorkspace(t)

	rc, err := NewRunContext(profile, flags, ws, nil, time.Date(2026, 1, 11, 4, 30, 0, 0, time.UTC), log.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, "2026-01-11", rc.Cycle.Date)
	assert.Equal(t, 1, rc.Cycle.Hour)

	d := newDriver(t, true)
	result := d.Run(context.Background(), rc)

	require.False(t, result.Fatal)
	require.Equal(t, 0, result.ExitCode())
	require.Len(t, result.Steps, 6)

	names := make([]string, len(result.Steps))
	for i, s := range result.Steps {
		names[i] = string(s.Name)
	}
	assert.Equal(t, []string{"Download", "Processing", "Colormap", "TileGeneration", "S3Upload", "Metadata"}, names)

	assert.Equal(t, OutcomeOK, result.Steps[0].Outcome)
	assert.Equal(t, 3, result.Steps[0].ArtifactCount) // forecast hours 0,1,2

	assert.Equal(t, OutcomeOK, result.Steps[1].Outcome)
	assert.Equal(t, 3, result.Steps[1].ArtifactCount)

	assert.Equal(t, OutcomeOK, result.Steps[2].Outcome)
	assert.Equal(t, 3, result.Steps[2].ArtifactCount)

	assert.Equal(t, OutcomeOK, result.Steps[3].Outcome)
	assert.Equal(t, 1, result.Steps[3].ArtifactCount)

	assert.Equal(t, OutcomeSkipped, result.Steps[4].Outcome)

	assert.Equal(t, OutcomeOK, result.Steps[5].Outcome)
	assert.Equal(t, "testmodel", result.Manifest.Model)
	assert.Equal(t, "01", result.Manifest.ModelRun.Cycle)

	assert.Empty(t, result.RetentionReports)
}

func TestDriver_DisableTilesSkipsTileGeneration(t *testing.T) {
	profile := testProfile()
	flags := Flags{DryRun: true, DisableTiles: true}
	ws := openWorkspace(t)

	rc, err := NewRunContext(profile, flags, ws, nil, time.Date(2026, 1, 11, 4, 30, 0, 0, time.UTC), log.NewNopLogger())
	require.NoError(t, err)

	d := newDriver(t, true)
	result := d.Run(context.Background(), rc)

	require.False(t, result.Fatal)
	require.Len(t, result.Steps, 6)
	assert.Equal(t, steprunner.TileGeneration, result.Steps[3].Name)
	assert.Equal(t, OutcomeSkipped, result.Steps[3].Outcome)
}

func TestDriver_UploadAndRetentionSkippedUnderDryRunEvenWithS3Enabled(t *testing.T) {
	profile := testProfile()
	flags := Flags{DryRun: true, EnableS3: true, Bucket: "tiles-bucket"}
	ws := openWorkspace(t)

	rc, err := NewRunContext(profile, flags, ws, nil, time.Date(2026, 1, 11, 4, 30, 0, 0, time.UTC), log.NewNopLogger())
	require.NoError(t, err)

	d := newDriver(t, true)
	result := d.Run(context.Background(), rc)

	require.False(t, result.Fatal)
	assert.Equal(t, OutcomeSkipped, result.Steps[4].Outcome) // S3Upload
	assert.Empty(t, result.RetentionReports)
}

// writeMarkerScript returns a path to an executable POSIX shell script
// that writes a single file into the directory named after --output-dir
// or --output, ignoring every other flag. It stands in for the opaque
// Download/Processing/Colormap subprocesses in tests that exercise a real
// exec.Cmd round trip.
func writeMarkerScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "marker.sh")
	script := `#!/bin/sh
outdir=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "--output-dir" ] || [ "$prev" = "--output" ]; then
    outdir="$arg"
  fi
  prev="$arg"
done
if [ -z "$outdir" ]; then
  exit 1
fi
mkdir -p "$outdir"
touch "$outdir/marker_output_file"
exit 0
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestDriver_RealSubprocessFailStopAtTileGeneration(t *testing.T) {
	marker := writeMarkerScript(t)
	profile := testProfile()
	profile.Binaries.Download = marker
	profile.Binaries.Processing = marker
	profile.Binaries.Colormap = marker
	profile.Binaries.TileGeneration = "/bin/false"

	flags := Flags{DryRun: false, ForecastHours: "0"}
	ws := openWorkspace(t)

	rc, err := NewRunContext(profile, flags, ws, nil, time.Date(2026, 1, 11, 4, 30, 0, 0, time.UTC), log.NewNopLogger())
	require.NoError(t, err)

	d := newDriver(t, false)
	result := d.Run(context.Background(), rc)

	require.True(t, result.Fatal)
	assert.Equal(t, "TileGeneration", result.FatalStage)
	require.Len(t, result.Steps, 4) // Download, Processing, Colormap, TileGeneration(failed)
	assert.Equal(t, OutcomeFailed, result.Steps[3].Outcome)
	assert.Equal(t, OutcomeOK, result.Steps[0].Outcome)
	assert.Equal(t, OutcomeOK, result.Steps[1].Outcome)
	assert.Equal(t, OutcomeOK, result.Steps[2].Outcome)
}

func TestDriver_DownloadZeroFilesIsFatalEvenOnZeroExit(t *testing.T) {
	profile := testProfile()
	profile.Binaries.Download = "/bin/true" // exits 0 but writes nothing

	flags := Flags{DryRun: false, ForecastHours: "0"}
	ws := openWorkspace(t)

	rc, err := NewRunContext(profile, flags, ws, nil, time.Date(2026, 1, 11, 4, 30, 0, 0, time.UTC), log.NewNopLogger())
	require.NoError(t, err)

	d := newDriver(t, false)
	result := d.Run(context.Background(), rc)

	require.True(t, result.Fatal)
	assert.Equal(t, "Download", result.FatalStage)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, OutcomeFailed, result.Steps[0].Outcome)
}

func TestNewRunContext_RejectsBadForecastHourSpec(t *testing.T) {
	profile := testProfile()
	flags := Flags{ForecastHours: "not-a-spec"}
	ws := openWorkspace(t)

	_, err := NewRunContext(profile, flags, ws, nil, time.Date(2026, 1, 11, 4, 30, 0, 0, time.UTC), log.NewNopLogger())
	assert.Error(t, err)
}

func TestParseForecastHourSpec(t *testing.T) {
	hours, err := parseForecastHourSpec("0-3")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, hours)

	hours, err = parseForecastHourSpec("0,6,12")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 6, 12}, hours)

	_, err = parseForecastHourSpec("")
	assert.Error(t, err)
}
