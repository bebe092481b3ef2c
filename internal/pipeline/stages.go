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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-kit/log/level"

	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/artifacts"
	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/manifest"
	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/steprunner"
	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/workspace"
)

// runDownload invokes the Download subprocess once for the whole cycle. A
// zero-artifact result is treated as fatal even on exit 0, per §8's
// boundary behavior.
func (d *Driver) runDownload(ctx context.Context, rc *RunContext) StepRecord {
	dir := rc.Workspace.Dir(workspace.Downloads)
	inv := steprunner.Invocation{
		Path: rc.Profile.Binaries.Download,
		Args: []string{
			"--date", rc.Cycle.Date,
			"--cycle=" + rc.Cycle.HH(),
			"--fxx", forecastHourSpecString(rc),
			"--variables", "all",
			"--output-dir", dir,
			"--keep-local",
		},
	}

	rec := d.Runner.Run(ctx, steprunner.Download, inv,
		func() (int, error) {
			for _, fh := range rc.ForecastHours {
				name := artifacts.DownloadName(rc.Profile.Name, rc.Cycle.CompactDate(), rc.Cycle.HH(), fh)
				if err := touch(filepath.Join(dir, name)); err != nil {
					return 0, err
				}
			}
			return len(rc.ForecastHours), nil
		},
		func() (int, error) { return artifacts.Count(dir) },
	)

	if rec.Outcome == OutcomeOK && rec.ArtifactCount == 0 {
		rec.Outcome = OutcomeFailed
		rec.ErrorMessage = "download produced zero files"
	}
	return rec
}

// runProcessing invokes the Processing subprocess once per downloaded
// file. The stage is tolerant: it outcomes ok as long as at least one
// processed file exists on disk afterward, even if some invocations
// failed.
func (d *Driver) runProcessing(ctx context.Context, rc *RunContext) StepRecord {
	downloadsDir := rc.Workspace.Dir(workspace.Downloads)
	processedDir := rc.Workspace.Dir(workspace.Processed)

	names, err := artifacts.List(downloadsDir)
	start := time.Now()
	if err != nil {
		return StepRecord{Name: steprunner.Processing, StartTS: start, EndTS: time.Now(), Outcome: OutcomeFailed, ErrorMessage: err.Error()}
	}

	var lastErr string
	failures := 0
	for _, name := range names {
		inv := steprunner.Invocation{
			Path: rc.Profile.Binaries.Processing,
			Args: []string{
				"--input", filepath.Join(downloadsDir, name),
				"--output", processedDir,
				"--config", rc.Profile.ConfigPath,
				"--priority", strconv.Itoa(rc.Flags.Priority),
			},
		}
		sub := d.Runner.Run(ctx, steprunner.Processing, inv,
			func() (int, error) {
				return 1, touch(filepath.Join(processedDir, artifacts.ProcessedName("placeholder", name)))
			},
			nil,
		)
		if sub.Outcome != OutcomeOK {
			failures++
			lastErr = sub.ErrorMessage
			_ = level.Warn(d.logger()).Log("msg", "processing sub-invocation failed", "input", name, "err", sub.ErrorMessage)
		}
	}

	count, cerr := artifacts.Count(processedDir)
	if cerr != nil {
		_ = level.Warn(d.logger()).Log("msg", "failed to count processed outputs", "err", cerr)
	}

	rec := StepRecord{
		Name:          steprunner.Processing,
		StartTS:       start,
		EndTS:         time.Now(),
		ArtifactCount: count,
	}
	rec.Duration = rec.EndTS.Sub(rec.StartTS)

	d.Metrics.RecordErrors(failures)
	if count > 0 {
		rec.Outcome = OutcomeOK
	} else {
		rec.Outcome = OutcomeFailed
		rec.ErrorMessage = lastErr
		if rec.ErrorMessage == "" && len(names) == 0 {
			rec.ErrorMessage = "no downloaded files to process"
		}
	}
	return rec
}

// runColormap invokes the Colormap subprocess once over the whole
// processed directory. Strict.
func (d *Driver) runColormap(ctx context.Context, rc *RunContext) StepRecord {
	processedDir := rc.Workspace.Dir(workspace.Processed)
	coloredDir := rc.Workspace.Dir(workspace.Colored)

	inv := steprunner.Invocation{
		Path: rc.Profile.Binaries.Colormap,
		Args: []string{
			"--input", processedDir,
			"--output", coloredDir,
			"--config", rc.Profile.ConfigPath,
		},
	}

	return d.Runner.Run(ctx, steprunner.Colormap, inv,
		func() (int, error) {
			names, err := artifacts.List(processedDir)
			if err != nil {
				return 0, err
			}
			for _, name := range names {
				if err := touch(filepath.Join(coloredDir, artifacts.ColoredName(name))); err != nil {
					return 0, err
				}
			}
			return len(names), nil
		},
		func() (int, error) { return artifacts.Count(coloredDir) },
	)
}

// runTileGeneration invokes the TileGeneration subprocess once over the
// whole colored directory. Strict, and only called when tiles are
// enabled.
func (d *Driver) runTileGeneration(ctx context.Context, rc *RunContext) StepRecord {
	coloredDir := rc.Workspace.Dir(workspace.Colored)
	tilesDir := rc.Workspace.Dir(workspace.Tiles)

	inv := steprunner.Invocation{
		Path: rc.Profile.Binaries.TileGeneration,
		Args: []string{
			"--input", coloredDir,
			"--output", tilesDir,
			"--zoom", rc.Flags.Zoom,
			"--processes", "1",
			"--exclude-transparent",
			"--organize",
		},
	}

	return d.Runner.Run(ctx, steprunner.TileGeneration, inv,
		func() (int, error) {
			dir := filepath.Join(tilesDir, "placeholder", fmt.Sprintf("%sT%sz", rc.Cycle.CompactDate(), rc.Cycle.HH()), "000", "0", "0")
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return 0, err
			}
			if err := touch(filepath.Join(dir, "0.png")); err != nil {
				return 0, err
			}
			return 1, nil
		},
		func() (int, error) { return countFilesRecursive(tilesDir) },
	)
}

func touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, nil, 0o644)
}

func countFilesRecursive(root string) (int, error) {
	count := 0
	err := filepath.WalkDir(root, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	return count, nil
}

func forecastHourSpecString(rc *RunContext) string {
	if rc.Flags.ForecastHours != "" {
		return rc.Flags.ForecastHours
	}
	return rc.Profile.DefaultForecastHours
}

// runMetadata builds and, when upload is enabled, publishes the freshness
// manifest. It always runs, per §4.G.
func (d *Driver) runMetadata(ctx context.Context, rc *RunContext) (manifest.Manifest, StepRecord) {
	return d.Manifest.Emit(ctx, manifest.Params{
		Model:         rc.Profile.Name,
		Cycle:         rc.Cycle,
		ForecastHours: rc.ForecastHours,
		TilesDir:      rc.Workspace.Dir(workspace.Tiles),
		ConfigPath:    rc.Profile.ConfigPath,
		Bucket:        rc.Flags.Bucket,
		S3Prefix:      rc.Profile.StorePrefixes.Metadata,
		Binary:        rc.Profile.Binaries.Manifest,
		URLTemplate:   "{variable}/{timestamp}/{forecast}/{z}/{x}/{y}.png",
		UploadEnabled: rc.Flags.uploadEnabled() && !rc.Flags.DryRun,
	})
}

// runRetention enforces keep-latest semantics on the three managed
// prefixes. Best-effort: failures are counted, never fatal.
func (d *Driver) runRetention(ctx context.Context, rc *RunContext, result *Result) {
	rawReport := d.Retention.EnforceRaw(ctx, rc.Profile.StorePrefixes.Raw, rc.Profile.Name, rc.Cycle.CompactDate(), rc.Cycle.HH())
	result.RetentionReports["raw"] = rawReport
	d.Metrics.RecordErrors(rawReport.DeleteErrors)

	coloredReport := d.Retention.EnforceColored(ctx, rc.Profile.StorePrefixes.Colored, rc.Cycle.Date)
	result.RetentionReports["colored"] = coloredReport
	d.Metrics.RecordErrors(coloredReport.DeleteErrors)

	if !rc.Flags.DisableTiles {
		tilesReport := d.Retention.EnforceTiles(ctx, rc.Profile.StorePrefixes.Tiles, rc.Cycle.CompactDate(), rc.Cycle.HH())
		result.RetentionReports["tiles"] = tilesReport
		d.Metrics.RecordErrors(tilesReport.DeleteErrors)
	}
}
