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

// Package workspace creates and tears down the per-run scratch directories
// a pipeline invocation owns exclusively, plus a best-effort mutual
// exclusion lock over the workspace root.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gofrs/flock"
)

// Subdirectory names, one per pipeline stage's exclusive output area.
const (
	Downloads = "downloads"
	Processed = "processed"
	Colored   = "colored"
	Tiles     = "tiles"
)

var subdirs = []string{Downloads, Processed, Colored, Tiles}

// ErrAlreadyRunning is returned by Open when another process already holds
// the workspace lock.
var ErrAlreadyRunning = fmt.Errorf("workspace: another pipeline run holds the lock")

// Workspace owns the four scratch subdirectories beneath Root for the
// lifetime of one pipeline run.
type Workspace struct {
	Root   string
	logger log.Logger
	lock   *flock.Flock
}

// Open creates root and its four managed subdirectories, and acquires a
// non-blocking file lock so two runs never share a workspace concurrently.
// Callers MUST call Close on every exit path, including failure paths,
// which is why Open is normally used through Run.
func Open(root string, logger log.Logger) (*Workspace, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create root %q: %w", root, err)
	}

	lockPath := filepath.Join(root, ".pipeline.lock")
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("workspace: acquire lock %q: %w", lockPath, err)
	}
	if !locked {
		return nil, ErrAlreadyRunning
	}

	w := &Workspace{Root: root, logger: logger, lock: fl}
	for _, sub := range subdirs {
		if err := os.MkdirAll(w.Dir(sub), 0o755); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("workspace: create %q: %w", sub, err)
		}
	}
	return w, nil
}

// Dir returns the absolute path of a managed subdirectory.
func (w *Workspace) Dir(name string) string {
	return filepath.Join(w.Root, name)
}

// Close unconditionally removes the four managed subdirectories and
// releases the workspace lock. It never returns an error that should abort
// process exit: a failed removal is retried once, and a second failure is
// logged as a warning so teardown always completes.
func (w *Workspace) Close() error {
	defer func() {
		if err := w.lock.Unlock(); err != nil {
			_ = level.Warn(w.logger).Log("msg", "failed to release workspace lock", "err", err)
		}
	}()

	var firstErr error
	for _, sub := range subdirs {
		dir := w.Dir(sub)
		if err := os.RemoveAll(dir); err != nil {
			// Subprocess steps may have written files under a different
			// identity (e.g. a container runtime default user). Retry
			// once after a short pause before degrading to a warning;
			// teardown must never abort the exit path.
			time.Sleep(50 * time.Millisecond)
			if err2 := os.RemoveAll(dir); err2 != nil {
				_ = level.Warn(w.logger).Log("msg", "failed to remove workspace subdirectory", "dir", dir, "err", err2)
				if firstErr == nil {
					firstErr = err2
				}
				continue
			}
		}
	}
	return firstErr
}

// Run opens a workspace, invokes fn with it, and guarantees Close runs
// regardless of how fn returns — the scope-guard pattern used throughout
// the pipeline driver for teardown and metric flush.
func Run(root string, logger log.Logger, fn func(*Workspace) error) error {
	w, err := Open(root, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil {
			_ = level.Warn(logger).Log("msg", "workspace teardown reported an error", "err", cerr)
		}
	}()
	return fn(w)
}
