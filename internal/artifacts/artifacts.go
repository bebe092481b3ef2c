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

// Package artifacts names and recognizes the files each pipeline stage
// produces in its workspace subdirectory.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// DownloadName returns the filename Download produces for one forecast hour.
func DownloadName(model, compactDate, cycleHH string, forecastHour int) string {
	return fmt.Sprintf("%s.%s.t%sz.f%03d.grib2", model, compactDate, cycleHH, forecastHour)
}

var downloadPattern = regexp.MustCompile(`^([a-zA-Z0-9_]+)\.(\d{8})\.t(\d{2})z\.f(\d{3})\.grib2$`)

// ParseDownloadName extracts the forecast hour from a download artifact
// name. ok is false if name does not match the convention.
func ParseDownloadName(name string) (forecastHour int, ok bool) {
	m := downloadPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	var fh int
	if _, err := fmt.Sscanf(m[4], "%03d", &fh); err != nil {
		return 0, false
	}
	return fh, true
}

// ProcessedName returns the filename Processing produces for one
// (variable, download-basename) pair.
func ProcessedName(variable, downloadBasename string) string {
	base := trimExt(downloadBasename, ".grib2")
	return fmt.Sprintf("%s_%s.tif", variable, base)
}

// ColoredName returns the filename Colormap produces for one processed
// file.
func ColoredName(processedBasename string) string {
	base := trimExt(processedBasename, ".tif")
	return base + "_colored.tif"
}

// TileDir returns the tile tree directory for one (variable, cycle,
// forecast-hour) triple, relative to the tiles workspace root:
// <variable>/<YYYYMMDD>T<HH>z/<FFF>.
func TileDir(variable, compactDate, cycleHH string, forecastHour int) string {
	return filepath.Join(variable, fmt.Sprintf("%sT%sz", compactDate, cycleHH), fmt.Sprintf("%03d", forecastHour))
}

func trimExt(name, ext string) string {
	if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
		return name[:len(name)-len(ext)]
	}
	return name
}

// List returns the sorted, non-directory entry names directly under dir. A
// missing directory is treated as empty, not an error, since stages run
// before Download may not have created it yet in dry-run simulations.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("artifacts: list %q: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Count returns len(List(dir)), folding the List error into 0 artifacts
// with the error propagated.
func Count(dir string) (int, error) {
	names, err := List(dir)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}
