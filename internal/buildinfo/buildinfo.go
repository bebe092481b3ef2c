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

// Package buildinfo holds version metadata stamped in at link time via
// -ldflags, printed by --version and in the startup log banner.
package buildinfo

import "fmt"

// Version, Revision, and BuildDate are overridden at build time, e.g.:
//
//	go build -ldflags "-X .../internal/buildinfo.Version=1.4.0 \
//	  -X .../internal/buildinfo.Revision=$(git rev-parse HEAD) \
//	  -X .../internal/buildinfo.BuildDate=$(date -u +%FT%TZ)"
var (
	Version   = "dev"
	Revision  = "unknown"
	BuildDate = "unknown"
)

// String renders a single-line summary for the log banner and --version.
func String() string {
	return fmt.Sprintf("version=%s revision=%s built=%s", Version, Revision, BuildDate)
}
