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

// Package modelprofile holds the per-model constants that parameterize the
// otherwise identical pipeline engine: cadence, availability delay,
// default forecast hours, object-store prefixes, and the subprocess
// binaries each stage invokes. New models are added by writing a new
// Profile value; the engine never branches on model name.
package modelprofile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/noaa-tile-ops/weather-tile-pipeline/internal/cycle"
)

// StorePrefixes are the object-store key prefixes a profile publishes
// under, per §6's object-store layout.
type StorePrefixes struct {
	Raw      string `yaml:"raw"`
	Colored  string `yaml:"colored"`
	Tiles    string `yaml:"tiles"`
	Metadata string `yaml:"metadata"`
}

// Binaries names the external executables the Step Runner invokes for
// each subprocess-backed stage. They are resolved via exec.LookPath (or
// used as absolute paths) and treated as opaque per §4.H.
type Binaries struct {
	Download       string `yaml:"download"`
	Processing     string `yaml:"processing"`
	Colormap       string `yaml:"colormap"`
	TileGeneration string `yaml:"tile_generation"`
	Manifest       string `yaml:"manifest"`
}

// Profile is the constant configuration for one forecast model.
type Profile struct {
	Name                   string        `yaml:"name"`
	CadenceHours           int           `yaml:"cadence_hours"`
	AvailabilityDelayHours int           `yaml:"availability_delay_hours"`
	DefaultForecastHours   string        `yaml:"default_forecast_hours"`
	ConfigPath             string        `yaml:"config_path"`
	StorePrefixes          StorePrefixes `yaml:"store_prefixes"`
	RecommendedCron        string        `yaml:"recommended_cron"`
	Binaries               Binaries      `yaml:"binaries"`
}

// Cadence returns the subset of the profile the Clock & Cycle Resolver
// needs.
func (p Profile) Cadence() cycle.Cadence {
	return cycle.Cadence{CadenceHours: p.CadenceHours, AvailabilityDelayHours: p.AvailabilityDelayHours}
}

// ValidCycles returns the cycle hours this profile's cadence produces.
func (p Profile) ValidCycles() []int {
	return p.Cadence().ValidHours()
}

// Validate checks the invariants a Profile must hold to parameterize the
// engine safely.
func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("modelprofile %+v: name is required", p)
	}
	if p.CadenceHours <= 0 || 24%p.CadenceHours != 0 {
		return fmt.Errorf("modelprofile %q: cadence_hours must be a positive divisor of 24, got %d", p.Name, p.CadenceHours)
	}
	if p.AvailabilityDelayHours <= 0 {
		return fmt.Errorf("modelprofile %q: availability_delay_hours must be positive", p.Name)
	}
	if p.StorePrefixes.Metadata == "" {
		return fmt.Errorf("modelprofile %q: store_prefixes.metadata is required", p.Name)
	}
	return nil
}

// Registry is a named collection of profiles, loaded once at startup.
type Registry struct {
	Profiles []Profile `yaml:"profiles"`
}

// Load parses a YAML registry file of ModelProfiles.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("modelprofile: read %q: %w", path, err)
	}
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("modelprofile: parse %q: %w", path, err)
	}
	for _, p := range reg.Profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return &reg, nil
}

// Marshal serializes the registry back to YAML. Parsing and re-serializing
// a Registry round-trips: the field order above is stable and there are no
// maps in the shape, so Marshal(Load(path)) byte-equals the canonicalized
// input.
func (r *Registry) Marshal() ([]byte, error) {
	return yaml.Marshal(r)
}

// Get returns the named profile, or an error if it is not registered.
func (r *Registry) Get(name string) (Profile, error) {
	for _, p := range r.Profiles {
		if p.Name == name {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("modelprofile: unknown model %q", name)
}

// Built-in profiles for the two models this deployment runs. The
// cmd/hrrr-pipeline and cmd/gfswave-pipeline binaries pass these values to
// cli.Run directly. Load parses the same shape from a YAML file such as
// configs/models.yaml, but no entry point reads that file.
var (
	HRRR = Profile{
		Name:                   "hrrr",
		CadenceHours:           1,
		AvailabilityDelayHours: 3,
		DefaultForecastHours:   "0-12",
		ConfigPath:             "configs/hrrr-variables.yaml",
		StorePrefixes: StorePrefixes{
			Raw:      "raw-grib2/",
			Colored:  "colored-cogs/",
			Tiles:    "tiles/",
			Metadata: "metadata/",
		},
		RecommendedCron: "5 * * * *",
		Binaries: Binaries{
			Download:       "download-grib2",
			Processing:     "process-grib2",
			Colormap:       "apply-colormap",
			TileGeneration: "generate-tiles",
			Manifest:       "build-manifest",
		},
	}

	GFSWave = Profile{
		Name:                   "gfs_wave",
		CadenceHours:           6,
		AvailabilityDelayHours: 5,
		DefaultForecastHours:   "0",
		ConfigPath:             "configs/gfs-wave-variables.yaml",
		StorePrefixes: StorePrefixes{
			Raw:      "gfs-wave/raw-grib2/",
			Colored:  "gfs-wave/colored-cogs/",
			Tiles:    "gfs-wave/tiles/",
			Metadata: "gfs-wave/metadata/",
		},
		RecommendedCron: "20 */6 * * *",
		Binaries: Binaries{
			Download:       "download-grib2",
			Processing:     "process-grib2",
			Colormap:       "apply-colormap",
			TileGeneration: "generate-tiles",
			Manifest:       "build-manifest",
		},
	}
)
