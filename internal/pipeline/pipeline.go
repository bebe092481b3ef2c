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

// Package pipeline wires the Clock & Cycle Resolver, Workspace Manager,
// Step Runner, Metric Sink, Retention Enforcer, and Manifest Emitter into
// the fixed six-stage sequence described by the engine:
//
//	Init -> Download -> Processing -> Colormap -> TileGeneration ->
//	Upload -> Metadata -> Retention -> Flush -> Exit
//
// The Driver is the only place that knows the stage order; every
// collaborator package is stage-agnostic.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/cycle"
	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/manifest"
	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/metrics"
	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/modelprofile"
	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/retention"
	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/steprunner"
	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/workspace"
)

// StepRecord and StepOutcome are the pipeline's names for the Step Runner's
// result types; the run-level sequence the Driver builds is what §3 calls
// the StepRecord stream.
type StepRecord = steprunner.Record
type StepOutcome = steprunner.Outcome

const (
	OutcomeOK      = steprunner.OutcomeOK
	OutcomeFailed  = steprunner.OutcomeFailed
	OutcomeSkipped = steprunner.OutcomeSkipped
)

// Flags is the behavioral configuration common to both model-flavored
// binaries, one field per §6 CLI flag plus the supplemental ones.
type Flags struct {
	DryRun        bool
	Priority      int
	Zoom          string
	ForecastHours string // overrides Profile.DefaultForecastHours when non-empty
	EnableS3      bool
	Bucket        string
	DisableTiles  bool
	WorkDir       string
	LogDir        string
	MaxDuration   time.Duration // 0 means unbounded
	CycleOverride *cycle.Override
}

// uploadEnabled reports whether Upload/Retention/manifest-publication
// should run: either --enable-s3 or a non-empty bucket turns it on.
func (f Flags) uploadEnabled() bool {
	return f.EnableS3 || f.Bucket != ""
}

// Store is the subset of the object-store client the Driver needs for
// Upload, Retention, and manifest publication.
type Store interface {
	UploadFile(ctx context.Context, key, path, contentType, cacheControl string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	ListCommonPrefixes(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	UploadBytes(ctx context.Context, key string, data []byte, contentType, cacheControl string) error
}

// RunContext is the immutable-after-setup state threaded through one
// pipeline invocation.
type RunContext struct {
	Profile       modelprofile.Profile
	Cycle         cycle.Cycle
	ForecastHours []int
	Workspace     *workspace.Workspace
	Store         Store
	Flags         Flags
	StartedAt     time.Time
	Logger        log.Logger
}

// NewRunContext resolves the cycle and forecast-hour spec and returns a
// RunContext; it performs no I/O beyond what cycle.Resolve requires.
func NewRunContext(profile modelprofile.Profile, flags Flags, ws *workspace.Workspace, store Store, now time.Time, logger log.Logger) (*RunContext, error) {
	c, err := cycle.Resolve(now, profile.Cadence(), flags.CycleOverride)
	if err != nil {
		return nil, fmt.Errorf("pipeline: resolve cycle: %w", err)
	}

	spec := profile.DefaultForecastHours
	if flags.ForecastHours != "" {
		spec = flags.ForecastHours
	}
	hours, err := parseForecastHourSpec(spec)
	if err != nil {
		return nil, fmt.Errorf("pipeline: forecast-hours spec %q: %w", spec, err)
	}

	return &RunContext{
		Profile:       profile,
		Cycle:         c,
		ForecastHours: hours,
		Workspace:     ws,
		Store:         store,
		Flags:         flags,
		StartedAt:     now,
		Logger:        logger,
	}, nil
}

// Result is everything the Driver produced during one run, enough for the
// CLI layer to print the structured summary line and choose an exit code.
type Result struct {
	Cycle            cycle.Cycle
	Steps            []StepRecord
	RetentionReports map[string]retention.Report
	Manifest         manifest.Manifest
	Errors           int
	Fatal            bool
	FatalStage       string
}

// ExitCode maps a Result to the §6 exit-code contract: 0 success, 1 a
// strict stage failed.
func (r Result) ExitCode() int {
	if r.Fatal {
		return 1
	}
	return 0
}

// Driver sequences the six stages and their surrounding bookkeeping.
type Driver struct {
	Runner    *steprunner.Runner
	Metrics   *metrics.Sink
	Retention *retention.Enforcer
	Manifest  *manifest.Emitter
	Logger    log.Logger
}

func (d *Driver) logger() log.Logger {
	if d.Logger == nil {
		return log.NewNopLogger()
	}
	return d.Logger
}

// Run drives rc through the fixed stage sequence, always flushing metrics
// before returning regardless of outcome — the scope-guard pattern used
// throughout this engine for teardown.
func (d *Driver) Run(ctx context.Context, rc *RunContext) Result {
	if rc.Flags.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rc.Flags.MaxDuration)
		defer cancel()
	}

	result := Result{Cycle: rc.Cycle, RetentionReports: map[string]retention.Report{}}
	defer func() {
		d.Metrics.SetProcessingTime(time.Since(rc.StartedAt))
		if cycleTime := rc.Cycle.Time(); !cycleTime.IsZero() {
			d.Metrics.SetDataAge(time.Now().UTC().Sub(cycleTime))
		}
		result.Errors = d.Metrics.Errors()
		d.Metrics.Flush(context.Background())
	}()

	logger := log.With(d.logger(), "cycle", rc.Cycle.String(), "model", rc.Profile.Name)
	_ = level.Info(logger).Log("msg", "model run", "date", rc.Cycle.Date, "cycle", rc.Cycle.Formatted())

	// Download
	rec := d.runDownload(ctx, rc)
	result.Steps = append(result.Steps, rec)
	d.record(rc, rec)
	if rec.Outcome != OutcomeOK {
		d.Metrics.RecordError()
		result.Fatal = true
		result.FatalStage = string(steprunner.Download)
		return result
	}
	d.Metrics.AddFilesDownloaded(rec.ArtifactCount)

	// Processing (tolerant)
	rec = d.runProcessing(ctx, rc)
	result.Steps = append(result.Steps, rec)
	d.record(rc, rec)
	if rec.Outcome != OutcomeOK {
		d.Metrics.RecordError()
		result.Fatal = true
		result.FatalStage = string(steprunner.Processing)
		return result
	}
	d.Metrics.AddFilesProcessed(rec.ArtifactCount)

	// Colormap (strict)
	rec = d.runColormap(ctx, rc)
	result.Steps = append(result.Steps, rec)
	d.record(rc, rec)
	if rec.Outcome != OutcomeOK {
		d.Metrics.RecordError()
		result.Fatal = true
		result.FatalStage = string(steprunner.Colormap)
		return result
	}

	// TileGeneration (strict, skippable)
	if rc.Flags.DisableTiles {
		rec = StepRecord{Name: steprunner.TileGeneration, Outcome: OutcomeSkipped, StartTS: time.Now(), EndTS: time.Now()}
		_ = level.Info(logger).Log("msg", "tile generation skipped", "reason", "disable-tiles")
	} else {
		rec = d.runTileGeneration(ctx, rc)
		d.record(rc, rec)
		if rec.Outcome != OutcomeOK {
			result.Steps = append(result.Steps, rec)
			d.Metrics.RecordError()
			result.Fatal = true
			result.FatalStage = string(steprunner.TileGeneration)
			return result
		}
		d.Metrics.AddTilesGenerated(rec.ArtifactCount)
	}
	result.Steps = append(result.Steps, rec)

	// Upload (strict when enabled; no-op when disabled)
	rec = d.runUpload(ctx, rc)
	result.Steps = append(result.Steps, rec)
	if rec.Outcome == OutcomeFailed {
		d.record(rc, rec)
		d.Metrics.RecordError()
		result.Fatal = true
		result.FatalStage = string(steprunner.S3Upload)
		return result
	}
	if rec.Outcome == OutcomeOK {
		d.record(rc, rec)
	}

	// Metadata: always runs, uploads only when upload is enabled.
	m, mrec := d.runMetadata(ctx, rc)
	result.Manifest = m
	result.Steps = append(result.Steps, mrec)
	d.record(rc, mrec)

	// Retention: only meaningful once artifacts have actually been
	// published; best-effort, never fatal.
	if rc.Flags.uploadEnabled() && !rc.Flags.DryRun {
		d.runRetention(ctx, rc, &result)
	}

	_ = level.Info(logger).Log("msg", "run complete", "errors", d.Metrics.Errors())
	return result
}

func (d *Driver) record(rc *RunContext, rec StepRecord) {
	if rec.Outcome == OutcomeSkipped {
		return
	}
	d.Metrics.RecordStep(string(rec.Name), rec.Duration)
	_ = level.Info(log.With(d.logger(), "step", string(rec.Name))).Log(
		"msg", "step finished", "outcome", string(rec.Outcome), "duration", rec.Duration, "artifacts", rec.ArtifactCount)
}

// parseForecastHourSpec parses "0-12" or "0,3,6" or a single "0" into an
// ordered list of forecast hours. Download is the only subprocess that
// interprets the raw spec string itself; the Driver needs the parsed form
// only to name placeholder files in --dry-run mode and to fill the
// manifest's forecast_hours list.
func parseForecastHourSpec(spec string) ([]int, error) {
	if spec == "" {
		return nil, fmt.Errorf("empty forecast-hours spec")
	}
	if lo, hi, ok := splitRange(spec); ok {
		if lo > hi {
			return nil, fmt.Errorf("invalid range %q: start > end", spec)
		}
		hours := make([]int, 0, hi-lo+1)
		for h := lo; h <= hi; h++ {
			hours = append(hours, h)
		}
		return hours, nil
	}
	return splitList(spec)
}

func splitRange(spec string) (lo, hi int, ok bool) {
	idx := -1
	for i, r := range spec {
		if r == '-' && i > 0 {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, 0, false
	}
	if _, err := fmt.Sscanf(spec[:idx], "%d", &lo); err != nil {
		return 0, 0, false
	}
	if _, err := fmt.Sscanf(spec[idx+1:], "%d", &hi); err != nil {
		return 0, 0, false
	}
	return lo, hi, true
}

func splitList(spec string) ([]int, error) {
	var hours []int
	start := 0
	for i := 0; i <= len(spec); i++ {
		if i == len(spec) || spec[i] == ',' {
			var h int
			if _, err := fmt.Sscanf(spec[start:i], "%d", &h); err != nil {
				return nil, fmt.Errorf("invalid forecast hour token %q", spec[start:i])
			}
			hours = append(hours, h)
			start = i + 1
		}
	}
	return hours, nil
}
