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

// Package retention enforces keep-latest-only semantics for the three
// object-store prefixes the pipeline owns: raw GRIB2, colored COGs, and
// tile pyramids. The freshness manifest prefix is never pruned here.
package retention

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Store is the subset of the object-store client the enforcer needs.
type Store interface {
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	ListCommonPrefixes(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// Report summarizes one enforcement pass over a single managed prefix.
type Report struct {
	Deleted      int
	DeleteErrors int
}

// Enforcer prunes older cycles from the managed prefixes. Every delete
// failure is logged and counted, never fatal — the run has already passed
// its artifact-producing phase by the time Retention runs.
type Enforcer struct {
	Store  Store
	Logger log.Logger
}

func (e *Enforcer) logger() log.Logger {
	if e.Logger == nil {
		return log.NewNopLogger()
	}
	return e.Logger
}

var rawPattern = regexp.MustCompile(`^(?P<model>[a-zA-Z0-9_]+)\.(?P<date>\d{8})\.t(?P<cycle>\d{2})z\.f\d{3}\.grib2$`)

// EnforceRaw deletes every object under rawPrefix whose filename encodes a
// (date, cycle) different from the current run's, keeping only the
// current cycle's raw GRIB2 files.
func (e *Enforcer) EnforceRaw(ctx context.Context, rawPrefix, model, compactDate, cycleHH string) Report {
	keys, err := e.Store.ListKeys(ctx, rawPrefix)
	if err != nil {
		_ = level.Warn(e.logger()).Log("msg", "retention: failed to list raw prefix", "prefix", rawPrefix, "err", err)
		return Report{DeleteErrors: 1}
	}

	var report Report
	for _, key := range keys {
		base := key
		if idx := strings.LastIndex(key, "/"); idx >= 0 {
			base = key[idx+1:]
		}
		m := rawPattern.FindStringSubmatch(base)
		if m == nil {
			continue
		}
		idx := rawPattern.SubexpIndex
		if m[idx("model")] != model {
			continue
		}
		if m[idx("date")] == compactDate && m[idx("cycle")] == cycleHH {
			continue
		}
		if err := e.Store.Delete(ctx, key); err != nil {
			_ = level.Warn(e.logger()).Log("msg", "retention: failed to delete raw object", "key", key, "err", err)
			report.DeleteErrors++
			continue
		}
		report.Deleted++
	}
	return report
}

// EnforceColored deletes every immediate child "date directory" under
// coloredPrefix other than the current run's date.
func (e *Enforcer) EnforceColored(ctx context.Context, coloredPrefix, date string) Report {
	return e.enforceSingleChildPrefix(ctx, coloredPrefix, date)
}

// EnforceTiles deletes every immediate child timestamp directory
// (<YYYYMMDD>T<HH>z) under each variable directory beneath tilesPrefix,
// other than the current run's, per variable.
func (e *Enforcer) EnforceTiles(ctx context.Context, tilesPrefix, compactDate, cycleHH string) Report {
	currentTimestamp := fmt.Sprintf("%sT%sz", compactDate, cycleHH)

	variableDirs, err := e.Store.ListCommonPrefixes(ctx, ensureTrailingSlash(tilesPrefix))
	if err != nil {
		_ = level.Warn(e.logger()).Log("msg", "retention: failed to list tile variable prefixes", "prefix", tilesPrefix, "err", err)
		return Report{DeleteErrors: 1}
	}

	var total Report
	for _, variableDir := range variableDirs {
		r := e.enforceSingleChildPrefix(ctx, variableDir, currentTimestamp)
		total.Deleted += r.Deleted
		total.DeleteErrors += r.DeleteErrors
	}
	return total
}

// enforceSingleChildPrefix deletes every object beneath every immediate
// child of parentPrefix except the child literally named keep. The FFF
// forecast-hour subtree beneath a stale tile timestamp is deleted along
// with its parent, which is intentional (spec §9).
func (e *Enforcer) enforceSingleChildPrefix(ctx context.Context, parentPrefix, keep string) Report {
	children, err := e.Store.ListCommonPrefixes(ctx, ensureTrailingSlash(parentPrefix))
	if err != nil {
		_ = level.Warn(e.logger()).Log("msg", "retention: failed to list child prefixes", "prefix", parentPrefix, "err", err)
		return Report{DeleteErrors: 1}
	}

	var report Report
	for _, child := range children {
		name := lastSegment(child)
		if name == keep {
			continue
		}
		keys, err := e.Store.ListKeys(ctx, child)
		if err != nil {
			_ = level.Warn(e.logger()).Log("msg", "retention: failed to list stale child", "prefix", child, "err", err)
			report.DeleteErrors++
			continue
		}
		for _, key := range keys {
			if err := e.Store.Delete(ctx, key); err != nil {
				_ = level.Warn(e.logger()).Log("msg", "retention: failed to delete object", "key", key, "err", err)
				report.DeleteErrors++
				continue
			}
			report.Deleted++
		}
	}
	return report
}

func ensureTrailingSlash(prefix string) string {
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return prefix
	}
	return prefix + "/"
}

// lastSegment returns the final non-empty "/"-delimited segment of an S3
// common prefix such as "tiles/temperature_2m/20260111T01z/".
func lastSegment(prefix string) string {
	trimmed := strings.TrimSuffix(prefix, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}
