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

// Package cycle resolves the forecast model cycle a pipeline run should
// target, from wall-clock time, a model's cadence, and its data-availability
// delay.
package cycle

import (
	"fmt"
	"time"
)

// Cycle identifies a single forecast model run by date and cycle hour.
type Cycle struct {
	Date string // YYYY-MM-DD
	Hour int    // 0-23, must be a multiple of the model's cadence
}

// CompactDate returns the date with no separators (YYYYMMDD), the form used
// in object keys and filenames.
func (c Cycle) CompactDate() string {
	t, err := time.Parse("2006-01-02", c.Date)
	if err != nil {
		return c.Date
	}
	return t.Format("20060102")
}

// HH returns the zero-padded two-digit cycle hour.
func (c Cycle) HH() string {
	return fmt.Sprintf("%02d", c.Hour)
}

// Time returns the cycle's nominal timestamp in UTC: the cycle hour on the
// cycle date. Returns the zero Time if Date does not parse.
func (c Cycle) Time() time.Time {
	t, err := time.Parse("2006-01-02", c.Date)
	if err != nil {
		return time.Time{}
	}
	return t.Add(time.Duration(c.Hour) * time.Hour)
}

// Formatted returns the cycle hour in the "<HH>Z" form used in logs and the
// freshness manifest.
func (c Cycle) Formatted() string {
	return c.HH() + "Z"
}

// String renders the canonical "YYYYMMDDHH" form.
func (c Cycle) String() string {
	return c.CompactDate() + c.HH()
}

// Before reports whether c is strictly earlier than other, comparing date
// then hour.
func (c Cycle) Before(other Cycle) bool {
	if c.Date != other.Date {
		return c.Date < other.Date
	}
	return c.Hour < other.Hour
}

// Equal reports whether c and other identify the same cycle.
func (c Cycle) Equal(other Cycle) bool {
	return c.Date == other.Date && c.Hour == other.Hour
}

// Cadence describes the subset of a ModelProfile the resolver needs: how
// often cycles are produced and how long after the nominal cycle time the
// data reliably becomes available.
type Cadence struct {
	CadenceHours           int
	AvailabilityDelayHours int
}

// ValidHours returns the set of cycle hours this cadence produces in a day,
// {0, cadence, 2*cadence, ...}.
func (c Cadence) ValidHours() []int {
	hours := make([]int, 0, 24/c.CadenceHours)
	for h := 0; h < 24; h += c.CadenceHours {
		hours = append(hours, h)
	}
	return hours
}

// IsValidHour reports whether hour is one this cadence produces.
func (c Cadence) IsValidHour(hour int) bool {
	if c.CadenceHours <= 0 {
		return false
	}
	return hour >= 0 && hour < 24 && hour%c.CadenceHours == 0
}

// Override pins the resolver to an explicit cycle instead of deriving one
// from wall-clock time.
type Override struct {
	Date string
	Hour int
}

// ErrInvalidCycle is returned when an Override names an hour that is not a
// valid cycle hour for the model's cadence.
type ErrInvalidCycle struct {
	Hour    int
	Cadence int
}

func (e *ErrInvalidCycle) Error() string {
	return fmt.Sprintf("cycle hour %d is not valid for cadence %dh", e.Hour, e.Cadence)
}

// Resolve computes the target cycle for now (which MUST be in UTC), the
// given cadence, and an optional explicit override.
//
// Without an override: t = now - availability delay, then t's hour is
// rounded down to the nearest multiple of the cadence. Rounding is always
// down, never up or to nearest, so that the resolved cycle is guaranteed to
// already be published.
func Resolve(now time.Time, cadence Cadence, override *Override) (Cycle, error) {
	if now.Location() != time.UTC {
		return Cycle{}, fmt.Errorf("cycle: now must be in UTC, got location %q", now.Location())
	}

	if override != nil {
		if !cadence.IsValidHour(override.Hour) {
			return Cycle{}, &ErrInvalidCycle{Hour: override.Hour, Cadence: cadence.CadenceHours}
		}
		return Cycle{Date: override.Date, Hour: override.Hour}, nil
	}

	t := now.Add(-time.Duration(cadence.AvailabilityDelayHours) * time.Hour)
	roundedHour := (t.Hour() / cadence.CadenceHours) * cadence.CadenceHours
	return Cycle{
		Date: t.Format("2006-01-02"),
		Hour: roundedHour,
	}, nil
}
