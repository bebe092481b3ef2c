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
	"strings"
	"time"

	"github.com/go-kit/log/level"

	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/artifacts"
	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/steprunner"
	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/workspace"
)

// runUpload publishes raw GRIB2, colored COGs, and tile images to the
// object store, per §6's layout. Unlike the other stages this one is
// performed directly by the engine (there is no Upload subprocess in the
// §6 contract table) rather than delegated to an external tool.
func (d *Driver) runUpload(ctx context.Context, rc *RunContext) StepRecord {
	start := time.Now()
	rec := StepRecord{Name: steprunner.S3Upload, StartTS: start}

	if !rc.Flags.uploadEnabled() || rc.Flags.DryRun {
		rec.EndTS = time.Now()
		rec.Duration = rec.EndTS.Sub(rec.StartTS)
		rec.Outcome = OutcomeSkipped
		return rec
	}

	count := 0

	rawNames, err := artifacts.List(rc.Workspace.Dir(workspace.Downloads))
	if err != nil {
		return d.uploadFailure(rec, err)
	}
	y, m, dd := splitDate(rc.Cycle.Date)
	for _, name := range rawNames {
		key := fmt.Sprintf("%s%s/%s/%s/%s", rc.Profile.StorePrefixes.Raw, y, m, dd, name)
		if err := rc.Store.UploadFile(ctx, key, filepath.Join(rc.Workspace.Dir(workspace.Downloads), name), "application/octet-stream", ""); err != nil {
			return d.uploadFailure(rec, err)
		}
		count++
	}

	coloredNames, err := artifacts.List(rc.Workspace.Dir(workspace.Colored))
	if err != nil {
		return d.uploadFailure(rec, err)
	}
	for _, name := range coloredNames {
		key := fmt.Sprintf("%s%s/%s", rc.Profile.StorePrefixes.Colored, rc.Cycle.Date, name)
		if err := rc.Store.UploadFile(ctx, key, filepath.Join(rc.Workspace.Dir(workspace.Colored), name), "image/tiff", ""); err != nil {
			return d.uploadFailure(rec, err)
		}
		count++
	}

	if !rc.Flags.DisableTiles {
		tilesDir := rc.Workspace.Dir(workspace.Tiles)
		n, err := d.uploadTree(ctx, rc, tilesDir, rc.Profile.StorePrefixes.Tiles)
		if err != nil {
			return d.uploadFailure(rec, err)
		}
		count += n
	}

	rec.EndTS = time.Now()
	rec.Duration = rec.EndTS.Sub(rec.StartTS)
	rec.Outcome = OutcomeOK
	rec.ArtifactCount = count
	return rec
}

func (d *Driver) uploadFailure(rec StepRecord, err error) StepRecord {
	rec.EndTS = time.Now()
	rec.Duration = rec.EndTS.Sub(rec.StartTS)
	rec.Outcome = OutcomeFailed
	rec.ErrorMessage = err.Error()
	_ = level.Error(d.logger()).Log("msg", "upload failed", "err", err)
	return rec
}

// uploadTree walks root and uploads every regular file beneath it,
// preserving its path relative to root under keyPrefix — used for the
// tile pyramid, whose internal <variable>/<timestamp>/<FFF>/<z>/<x>/<y>.png
// shape is opaque to the engine.
func (d *Driver) uploadTree(ctx context.Context, rc *RunContext, root, keyPrefix string) (int, error) {
	count := 0
	err := filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := keyPrefix + filepath.ToSlash(rel)
		if err := rc.Store.UploadFile(ctx, key, path, contentTypeFor(rel), "max-age=3600"); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return count, err
	}
	return count, nil
}

func contentTypeFor(name string) string {
	if strings.HasSuffix(name, ".png") {
		return "image/png"
	}
	return "application/octet-stream"
}

func splitDate(date string) (year, month, day string) {
	parts := strings.Split(date, "-")
	if len(parts) != 3 {
		return date, "", ""
	}
	return parts[0], parts[1], parts[2]
}
