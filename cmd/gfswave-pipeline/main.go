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

// Command gfswave-pipeline runs one ingest-transform-publish cycle for the
// global wave model component of GFS.
package main

import (
	"os"

	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/cli"
	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/modelprofile"
)

func main() {
	os.Exit(cli.Run(modelprofile.GFSWave, os.Args[1:], os.Environ(), os.Stdout, os.Stderr))
}
