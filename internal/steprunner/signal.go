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

package steprunner

import "syscall"

// interruptSignal is sent to a step's child process on cancellation,
// before the grace period's SIGKILL escalation. The engine targets a single
// Linux VM (spec §1), so this is not abstracted for other platforms.
var interruptSignal = syscall.SIGTERM
