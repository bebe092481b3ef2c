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

// Package metrics buffers the per-run counters and per-step durations the
// pipeline driver accumulates, and flushes them to a remote metrics
// service and a local Prometheus registry on completion.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the fixed CloudWatch namespace for this system, per §4.D.
const Namespace = "WeatherPipeline"

// API is the subset of the CloudWatch client the sink depends on, so tests
// can substitute a fake.
type API interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// StepSample is one step's contribution to the StepDuration metric.
type StepSample struct {
	Step     string
	Duration time.Duration
}

// Sink buffers counters and step timings for one pipeline run and flushes
// them on completion. It is safe for concurrent use, though the driver
// currently only calls it sequentially.
type Sink struct {
	client   API
	pipeline string
	logger   log.Logger
	dryRun   bool

	mu                sync.Mutex
	steps             []StepSample
	filesDownloaded   int
	filesProcessed    int
	tilesGenerated    int
	errors            int
	dataAge           time.Duration
	processingTime    time.Duration
	dataAgeSet        bool
	processingTimeSet bool

	registry         *prometheus.Registry
	filesDownloadedG prometheus.Gauge
	filesProcessedG  prometheus.Gauge
	tilesGeneratedG  prometheus.Gauge
	errorsG          prometheus.Gauge
	successG         prometheus.Gauge
	dataAgeG         prometheus.Gauge
	processingTimeG  prometheus.Gauge
	stepDurationV    *prometheus.GaugeVec
}

// New builds a Sink for one run of pipeline (the ModelProfile name). client
// may be nil, in which case remote emission is skipped entirely (used by
// --dry-run and by tests that only care about the local registry).
func New(client API, pipeline string, logger log.Logger, dryRun bool) *Sink {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	reg := prometheus.NewRegistry()
	s := &Sink{
		client:   client,
		pipeline: pipeline,
		logger:   logger,
		dryRun:   dryRun,
		registry: reg,
		filesDownloadedG: prometheus.NewGauge(prometheus.GaugeOpts{Name: "weather_pipeline_files_downloaded", Help: "Files downloaded in the run."}),
		filesProcessedG:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "weather_pipeline_files_processed", Help: "Files processed in the run."}),
		tilesGeneratedG:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "weather_pipeline_tiles_generated", Help: "Tiles generated in the run."}),
		errorsG:          prometheus.NewGauge(prometheus.GaugeOpts{Name: "weather_pipeline_errors", Help: "Errors recorded in the run."}),
		successG:         prometheus.NewGauge(prometheus.GaugeOpts{Name: "weather_pipeline_success", Help: "1 if the run completed with zero errors."}),
		dataAgeG:         prometheus.NewGauge(prometheus.GaugeOpts{Name: "weather_pipeline_data_age_seconds", Help: "Seconds between the cycle timestamp and publication."}),
		processingTimeG:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "weather_pipeline_processing_time_seconds", Help: "Total wall time of the run."}),
		stepDurationV:    prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "weather_pipeline_step_duration_seconds", Help: "Duration of each pipeline step."}, []string{"step"}),
	}
	reg.MustRegister(s.filesDownloadedG, s.filesProcessedG, s.tilesGeneratedG, s.errorsG, s.successG, s.dataAgeG, s.processingTimeG, s.stepDurationV)
	return s
}

// Registry exposes the local Prometheus registry, e.g. for a textfile
// collector or an ad-hoc /metrics endpoint during --check runs.
func (s *Sink) Registry() *prometheus.Registry { return s.registry }

// RecordStep appends one step's duration for the StepDuration metric.
func (s *Sink) RecordStep(step string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, StepSample{Step: step, Duration: d})
}

// AddFilesDownloaded increments FilesDownloaded by n.
func (s *Sink) AddFilesDownloaded(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filesDownloaded += n
}

// AddFilesProcessed increments FilesProcessed by n.
func (s *Sink) AddFilesProcessed(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filesProcessed += n
}

// AddTilesGenerated increments TilesGenerated by n.
func (s *Sink) AddTilesGenerated(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tilesGenerated += n
}

// RecordError increments the Errors counter by one. Called on every step
// failure and on each dedicated error the driver wants tracked (e.g. a
// retention delete failure).
func (s *Sink) RecordError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors++
}

// RecordErrors increments the Errors counter by n.
func (s *Sink) RecordErrors(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors += n
}

// SetDataAge records the DataAge metric, the time between the cycle
// timestamp and publication.
func (s *Sink) SetDataAge(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataAge = d
	s.dataAgeSet = true
}

// SetProcessingTime records the ProcessingTime metric, the run's total
// wall time.
func (s *Sink) SetProcessingTime(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processingTime = d
	s.processingTimeSet = true
}

// Errors returns the current error count.
func (s *Sink) Errors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}

// Flush pushes all buffered metrics to the local registry and, unless dry
// run or no client is configured, to CloudWatch. Remote emission failures
// are logged and never returned as an error: a metrics outage must never
// fail the pipeline run.
func (s *Sink) Flush(ctx context.Context) {
	s.mu.Lock()
	steps := append([]StepSample(nil), s.steps...)
	filesDownloaded, filesProcessed, tilesGenerated := s.filesDownloaded, s.filesProcessed, s.tilesGenerated
	errs := s.errors
	dataAge, dataAgeSet := s.dataAge, s.dataAgeSet
	processingTime, processingTimeSet := s.processingTime, s.processingTimeSet
	s.mu.Unlock()

	s.filesDownloadedG.Set(float64(filesDownloaded))
	s.filesProcessedG.Set(float64(filesProcessed))
	s.tilesGeneratedG.Set(float64(tilesGenerated))
	s.errorsG.Set(float64(errs))
	if errs == 0 {
		s.successG.Set(1)
	} else {
		s.successG.Set(0)
	}
	if dataAgeSet {
		s.dataAgeG.Set(dataAge.Seconds())
	}
	if processingTimeSet {
		s.processingTimeG.Set(processingTime.Seconds())
	}
	for _, step := range steps {
		s.stepDurationV.WithLabelValues(step.Step).Set(step.Duration.Seconds())
	}

	if s.dryRun || s.client == nil {
		_ = level.Debug(s.logger).Log("msg", "metrics flush skipped", "dry_run", s.dryRun, "client_configured", s.client != nil)
		return
	}

	now := time.Now()
	data := make([]types.MetricDatum, 0, len(steps)+6)
	dims := []types.Dimension{{Name: str("pipeline"), Value: str(s.pipeline)}}

	addDatum := func(name string, value float64, unit types.StandardUnit, extraDims ...types.Dimension) {
		d := append(append([]types.Dimension(nil), dims...), extraDims...)
		data = append(data, types.MetricDatum{
			MetricName: str(name),
			Value:      aws64(value),
			Unit:       unit,
			Timestamp:  &now,
			Dimensions: d,
		})
	}

	if processingTimeSet {
		addDatum("ProcessingTime", processingTime.Seconds(), types.StandardUnitSeconds)
	}
	if dataAgeSet {
		// DataAge is emitted in seconds with an explicit Seconds unit,
		// resolving the source's unitless-minutes ambiguity.
		addDatum("DataAge", dataAge.Seconds(), types.StandardUnitSeconds)
	}
	addDatum("FilesDownloaded", float64(filesDownloaded), types.StandardUnitCount)
	addDatum("FilesProcessed", float64(filesProcessed), types.StandardUnitCount)
	addDatum("TilesGenerated", float64(tilesGenerated), types.StandardUnitCount)
	addDatum("Errors", float64(errs), types.StandardUnitCount)
	if errs == 0 {
		addDatum("Success", 1, types.StandardUnitCount)
	} else {
		addDatum("Failure", 1, types.StandardUnitCount)
	}
	for _, step := range steps {
		addDatum("StepDuration", step.Duration.Seconds(), types.StandardUnitSeconds,
			types.Dimension{Name: str("Step"), Value: str(step.Step)})
	}

	const batchSize = 20 // CloudWatch's PutMetricData limit per call.
	for i := 0; i < len(data); i += batchSize {
		end := i + batchSize
		if end > len(data) {
			end = len(data)
		}
		_, err := s.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  str(Namespace),
			MetricData: data[i:end],
		})
		if err != nil {
			_ = level.Warn(s.logger).Log("msg", "failed to emit metrics", "err", err)
		}
	}
}

func str(s string) *string   { return &s }
func aws64(f float64) *float64 { return &f }
