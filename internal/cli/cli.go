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

// Package cli is the shared entry point for both model-flavored binaries:
// flag/env parsing, collaborator wiring, signal handling, and the
// structured exit-summary line. Everything here is exercised directly by
// tests, without an exec.Command round-trip.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"

	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/buildinfo"
	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/cycle"
	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/manifest"
	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/metrics"
	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/modelprofile"
	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/objectstore"
	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/pipeline"
	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/retention"
	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/steprunner"
	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/workspace"
)

// Exit codes per §6.
const (
	ExitOK              = 0
	ExitFailure         = 1
	ExitAlreadyRunning  = 2
	defaultZoomLevels   = "0-8" // source scripts disagreed (0-6 vs 0-10); §9 leaves the default to the implementer.
	defaultWorkspaceDir = "/var/lib/weather-pipeline"
	defaultLogDir       = "/var/log/weather-pipeline"
)

// config is the fully-resolved set of options after flag parsing and the
// env-var fallback layer.
type config struct {
	dryRun        bool
	priority      int
	zoom          string
	forecastHours string
	enableS3      bool
	bucket        string
	disableTiles  bool
	workDir       string
	logDir        string
	maxDuration   time.Duration
	check         bool
	version       bool
	overrideDate  string
	overrideHour  int
	hasOverride   bool
}

// Run parses args/env for the given model profile, wires up every
// collaborator, drives one pipeline cycle, and returns the process exit
// code. stdout/stderr let tests capture output without touching the real
// streams.
func Run(profile modelprofile.Profile, args []string, env []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(profile.Name+"-pipeline", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var cfg config
	fs.BoolVar(&cfg.dryRun, "dry-run", false, "skip all subprocess invocations and simulate output")
	fs.IntVar(&cfg.priority, "priority", 2, "processing priority (1-3, lower is more important)")
	fs.StringVar(&cfg.zoom, "zoom", defaultZoomLevels, "tile zoom range passed to TileGeneration")
	fs.StringVar(&cfg.forecastHours, "forecast-hours", "", "forecast-hour spec override (default: the model's own)")
	fs.BoolVar(&cfg.enableS3, "enable-s3", false, "turn on Upload and Retention")
	fs.StringVar(&cfg.bucket, "s3-bucket", "", "object-store bucket name (implies --enable-s3)")
	fs.BoolVar(&cfg.disableTiles, "disable-tiles", false, "skip TileGeneration and tile retention")
	fs.StringVar(&cfg.workDir, "work-dir", defaultWorkspaceDir, "workspace root")
	fs.StringVar(&cfg.logDir, "log-dir", defaultLogDir, "log directory")
	fs.DurationVar(&cfg.maxDuration, "max-duration", 0, "overall run timeout (0 = unbounded)")
	fs.BoolVar(&cfg.check, "check", false, "preflight: verify dependencies and exit without running a cycle")
	fs.BoolVar(&cfg.version, "version", false, "print version information and exit")
	fs.StringVar(&cfg.overrideDate, "override-date", "", "pin the resolved cycle's date (YYYY-MM-DD); requires --override-hour")
	fs.IntVar(&cfg.overrideHour, "override-hour", -1, "pin the resolved cycle's hour; requires --override-date")

	applyEnvDefaults(fs, env)

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return ExitOK
		}
		return ExitFailure
	}
	cfg.hasOverride = cfg.overrideDate != "" || cfg.overrideHour >= 0

	if cfg.version {
		fmt.Fprintln(stdout, buildinfo.String())
		return ExitOK
	}

	logger := newLogger(stderr)
	logFile, err := openRunLog(cfg.logDir, time.Now().UTC())
	if err != nil {
		_ = level.Warn(logger).Log("msg", "failed to open run log file, logging to stderr only", "err", err)
	} else {
		defer logFile.Close()
		logger = log.NewLogfmtLogger(log.NewSyncWriter(io.MultiWriter(stderr, logFile)))
		logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	}
	logger = log.With(logger, "model", profile.Name)
	_ = level.Info(logger).Log("msg", "starting", "build", buildinfo.String())

	if cfg.check {
		return runPreflight(profile, cfg, logger, stdout)
	}

	flags := pipeline.Flags{
		DryRun:        cfg.dryRun,
		Priority:      cfg.priority,
		Zoom:          cfg.zoom,
		ForecastHours: cfg.forecastHours,
		EnableS3:      cfg.enableS3,
		Bucket:        cfg.bucket,
		DisableTiles:  cfg.disableTiles,
		WorkDir:       cfg.workDir,
		LogDir:        cfg.logDir,
		MaxDuration:   cfg.maxDuration,
	}
	if cfg.hasOverride {
		flags.CycleOverride = &cycle.Override{Date: cfg.overrideDate, Hour: cfg.overrideHour}
	}

	var store *objectstore.Client
	var cwClient metrics.API
	if (flags.EnableS3 || flags.Bucket != "") && !flags.DryRun {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			_ = level.Error(logger).Log("msg", "failed to load AWS configuration", "err", err)
			return ExitFailure
		}
		store = objectstore.New(s3.NewFromConfig(awsCfg), flags.Bucket)
		cwClient = cloudwatch.NewFromConfig(awsCfg)
	}

	sink := metrics.New(cwClient, profile.Name, logger, flags.DryRun)
	runner := &steprunner.Runner{Logger: logger, DryRun: flags.DryRun}
	enforcer := &retention.Enforcer{Store: store, Logger: logger}
	emitter := &manifest.Emitter{Runner: runner, Store: store, Logger: logger}
	driver := &pipeline.Driver{Runner: runner, Metrics: sink, Retention: enforcer, Manifest: emitter, Logger: logger}

	var result pipeline.Result
	err = workspace.Run(flags.WorkDir, logger, func(ws *workspace.Workspace) error {
		var store2 pipeline.Store
		if store != nil {
			store2 = store
		}
		rc, err := pipeline.NewRunContext(profile, flags, ws, store2, time.Now().UTC(), logger)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		var g run.Group
		g.Add(func() error {
			result = driver.Run(ctx, rc)
			return nil
		}, func(error) {
			cancel()
		})
		{
			term := make(chan os.Signal, 1)
			done := make(chan struct{})
			signal.Notify(term, os.Interrupt, syscall.SIGTERM)
			g.Add(func() error {
				select {
				case <-term:
					_ = level.Warn(logger).Log("msg", "received termination signal, interrupting run")
					cancel()
				case <-done:
				}
				return nil
			}, func(error) {
				close(done)
				signal.Stop(term)
			})
		}
		return g.Run()
	})
	if err == workspace.ErrAlreadyRunning {
		_ = level.Error(logger).Log("msg", "another pipeline run holds the workspace lock")
		return ExitAlreadyRunning
	}
	if err != nil {
		_ = level.Error(logger).Log("msg", "workspace setup failed", "err", err)
		return ExitFailure
	}
	_ = level.Info(logger).Log("msg", "run summary",
		"cycle", result.Cycle.String(),
		"steps", len(result.Steps),
		"errors", result.Errors,
		"fatal", result.Fatal,
		"fatal_stage", result.FatalStage)
	fmt.Fprintf(stdout, "model=%s cycle=%s outcome=%s steps=%d errors=%d\n",
		profile.Name, result.Cycle.String(), outcomeLabel(result), len(result.Steps), result.Errors)

	return result.ExitCode()
}

func outcomeLabel(r pipeline.Result) string {
	if r.Fatal {
		return "failed"
	}
	return "ok"
}

func newLogger(w io.Writer) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	return logger
}

func openRunLog(logDir string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("cli: create log dir %q: %w", logDir, err)
	}
	name := fmt.Sprintf("pipeline_%s_%s00.log", now.Format("20060102"), now.Format("15"))
	return os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// applyEnvDefaults implements §6's "CLI overrides env; defaults fill the
// rest": every flag gets an upper-cased, underscore-separated environment
// twin consulted before flag.Parse assigns its own default, so an
// unset flag falls back to the env var and an explicit flag always wins.
func applyEnvDefaults(fs *flag.FlagSet, env []string) {
	lookup := envLookup(env)
	fs.VisitAll(func(f *flag.Flag) {
		key := envKey(f.Name)
		if v, ok := lookup[key]; ok {
			_ = f.Value.Set(v)
		}
	})
}

func envKey(flagName string) string {
	out := make([]byte, 0, len(flagName))
	for _, r := range flagName {
		if r == '-' {
			out = append(out, '_')
			continue
		}
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		out = append(out, byte(r))
	}
	return string(out)
}

func envLookup(env []string) map[string]string {
	m := make(map[string]string, len(env))
	for _, kv := range env {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				m[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return m
}

// runPreflight implements the --check mode: verify every subprocess
// binary resolves, the variables config exists, and (if S3 is requested)
// that AWS credentials load, without running a cycle.
func runPreflight(profile modelprofile.Profile, cfg config, logger log.Logger, stdout io.Writer) int {
	ok := true
	check := func(label, path string) {
		if _, err := exec.LookPath(path); err != nil {
			_ = level.Error(logger).Log("msg", "preflight: binary not found", "binary", label, "path", path, "err", err)
			fmt.Fprintf(stdout, "FAIL %s: %s not found on PATH\n", label, path)
			ok = false
			return
		}
		fmt.Fprintf(stdout, "OK   %s\n", label)
	}
	check("download", profile.Binaries.Download)
	check("processing", profile.Binaries.Processing)
	check("colormap", profile.Binaries.Colormap)
	check("manifest", profile.Binaries.Manifest)
	if !cfg.disableTiles {
		check("tile-generation", profile.Binaries.TileGeneration)
	}

	if _, err := os.Stat(profile.ConfigPath); err != nil {
		fmt.Fprintf(stdout, "FAIL config: %s: %v\n", profile.ConfigPath, err)
		ok = false
	} else {
		fmt.Fprintf(stdout, "OK   config: %s\n", profile.ConfigPath)
	}

	if cfg.enableS3 || cfg.bucket != "" {
		if _, err := awsconfig.LoadDefaultConfig(context.Background()); err != nil {
			fmt.Fprintf(stdout, "FAIL aws credentials: %v\n", err)
			ok = false
		} else {
			fmt.Fprintf(stdout, "OK   aws credentials\n")
		}
	}

	if !ok {
		return ExitFailure
	}
	return ExitOK
}
