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

// Package steprunner executes a single named pipeline stage — either a
// dry-run simulation or a real external subprocess — and records its
// timing and outcome. It owns the dry-run branch so that stages themselves
// never need to know whether dry-run is in effect.
package steprunner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Name identifies one of the canonical pipeline stages.
type Name string

// The canonical, totally-ordered sequence of stages that produce a
// StepRecord. Retention and Flush run after Metadata but are bookkeeping
// steps, not artifact-producing stages, and do not appear here.
const (
	Download       Name = "Download"
	Processing     Name = "Processing"
	Colormap       Name = "Colormap"
	TileGeneration Name = "TileGeneration"
	S3Upload       Name = "S3Upload"
	Metadata       Name = "Metadata"
)

// Outcome is the result of executing one step.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// maxErrorMessageBytes bounds the tail of subprocess output captured into a
// failed Record's ErrorMessage, per the 1 KiB cap in the stage contract.
const maxErrorMessageBytes = 1024

// Record is the timing and outcome of one executed (or simulated) step.
type Record struct {
	Name          Name
	StartTS       time.Time
	EndTS         time.Time
	Duration      time.Duration
	Outcome       Outcome
	ArtifactCount int
	ErrorMessage  string
}

// Invocation is a structured external command: an explicit argv and
// environment, never a shell string, so caller-controlled values can never
// be interpreted by a shell.
type Invocation struct {
	Path string
	Args []string
	Env  []string // appended to the process's inherited environment
	Dir  string    // working directory; empty means inherit
}

func (inv Invocation) String() string {
	return fmt.Sprintf("%s %v", inv.Path, inv.Args)
}

// Runner executes steps. A Runner MUST NOT retry a failed invocation
// internally; retry policy, if any, belongs to the caller.
type Runner struct {
	Logger      log.Logger
	DryRun      bool
	GracePeriod time.Duration // grace period before SIGKILL on cancellation; 0 means 30s
}

func (r *Runner) gracePeriod() time.Duration {
	if r.GracePeriod <= 0 {
		return 30 * time.Second
	}
	return r.GracePeriod
}

func (r *Runner) logger() log.Logger {
	if r.Logger == nil {
		return log.NewNopLogger()
	}
	return r.Logger
}

// Run executes one step named name.
//
// In dry-run mode, simulate is called instead of spawning a subprocess; it
// is expected to create placeholder output files and return how many it
// created. A dry run outcomes ok unless simulate returns an error.
//
// Otherwise inv is executed, its combined output streamed to the logger;
// on success countOutputs (which may be nil) is called to populate
// ArtifactCount from what the subprocess actually left on disk.
func (r *Runner) Run(ctx context.Context, name Name, inv Invocation, simulate func() (int, error), countOutputs func() (int, error)) (rec Record) {
	rec = Record{Name: name, StartTS: time.Now()}
	logger := log.With(r.logger(), "step", string(name))

	defer func() {
		rec.EndTS = time.Now()
		rec.Duration = rec.EndTS.Sub(rec.StartTS)
	}()

	if r.DryRun {
		count := 0
		var err error
		if simulate != nil {
			count, err = simulate()
		}
		if err != nil {
			_ = level.Error(logger).Log("msg", "dry-run simulation failed", "err", err)
			rec.Outcome = OutcomeFailed
			rec.ErrorMessage = truncate(err.Error())
			return rec
		}
		_ = level.Info(logger).Log("msg", "dry-run: skipped subprocess", "invocation", inv.String(), "placeholder_artifacts", count)
		rec.Outcome = OutcomeOK
		rec.ArtifactCount = count
		return rec
	}

	_ = level.Info(logger).Log("msg", "starting step", "invocation", inv.String())

	runCtx := ctx
	if runCtx == nil {
		runCtx = context.Background()
	}

	var combined bytes.Buffer
	cmd := exec.CommandContext(runCtx, inv.Path, inv.Args...)
	cmd.Dir = inv.Dir
	if len(inv.Env) > 0 {
		cmd.Env = append(cmd.Environ(), inv.Env...)
	}
	stepLog := log.NewStdlibAdapter(level.Debug(logger))
	cmd.Stdout = io.MultiWriter(&combined, stepLog)
	cmd.Stderr = io.MultiWriter(&combined, stepLog)

	// Interrupt on cancellation, escalate to SIGKILL only after a bounded
	// grace period, per the engine's signal-handling contract.
	cmd.Cancel = func() error {
		_ = level.Warn(logger).Log("msg", "interrupting step", "invocation", inv.String())
		return cmd.Process.Signal(interruptSignal)
	}
	cmd.WaitDelay = r.gracePeriod()

	err := cmd.Run()
	if err != nil {
		rec.Outcome = OutcomeFailed
		rec.ErrorMessage = truncate(lastBytes(combined.Bytes(), maxErrorMessageBytes))
		_ = level.Error(logger).Log("msg", "step failed", "err", err)
		return rec
	}

	rec.Outcome = OutcomeOK
	if countOutputs != nil {
		count, cerr := countOutputs()
		if cerr != nil {
			_ = level.Warn(logger).Log("msg", "failed to count step outputs", "err", cerr)
		}
		rec.ArtifactCount = count
	}
	_ = level.Info(logger).Log("msg", "step succeeded", "duration", rec.Duration, "artifact_count", rec.ArtifactCount)
	return rec
}

func lastBytes(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}

func truncate(s string) string {
	if len(s) <= maxErrorMessageBytes {
		return s
	}
	return s[len(s)-maxErrorMessageBytes:]
}
