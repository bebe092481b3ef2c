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

package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloudWatch struct {
	calls []*cloudwatch.PutMetricDataInput
	err   error
}

func (f *fakeCloudWatch) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.calls = append(f.calls, params)
	if f.err != nil {
		return nil, f.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestFlush_EmitsExactlyOneOfSuccessOrFailure(t *testing.T) {
	fake := &fakeCloudWatch{}
	s := New(fake, "hrrr", log.NewNopLogger(), false)
	s.SetProcessingTime(10 * time.Second)
	s.AddFilesDownloaded(3)

	s.Flush(context.Background())

	var sawSuccess, sawFailure bool
	for _, call := range fake.calls {
		for _, d := range call.MetricData {
			switch *d.MetricName {
			case "Success":
				sawSuccess = true
			case "Failure":
				sawFailure = true
			}
		}
	}
	assert.True(t, sawSuccess)
	assert.False(t, sawFailure)
}

func TestFlush_ErrorsMeansFailureNotSuccess(t *testing.T) {
	fake := &fakeCloudWatch{}
	s := New(fake, "gfs_wave", log.NewNopLogger(), false)
	s.RecordError()
	s.RecordError()

	s.Flush(context.Background())

	var sawFailure bool
	for _, call := range fake.calls {
		for _, d := range call.MetricData {
			if *d.MetricName == "Failure" {
				sawFailure = true
				assert.InDelta(t, 1, *d.Value, 1e-9)
			}
			assert.NotEqual(t, "Success", *d.MetricName)
		}
	}
	assert.True(t, sawFailure)
}

func TestFlush_StepDurationHasDistinctStepDimension(t *testing.T) {
	fake := &fakeCloudWatch{}
	s := New(fake, "hrrr", log.NewNopLogger(), false)
	s.RecordStep("Download", 2*time.Second)
	s.RecordStep("Processing", 5*time.Second)

	s.Flush(context.Background())

	seen := map[string]bool{}
	for _, call := range fake.calls {
		for _, d := range call.MetricData {
			if *d.MetricName != "StepDuration" {
				continue
			}
			for _, dim := range d.Dimensions {
				if *dim.Name == "Step" {
					seen[*dim.Value] = true
				}
			}
		}
	}
	assert.True(t, seen["Download"])
	assert.True(t, seen["Processing"])
}

func TestFlush_DryRunSkipsRemoteEmission(t *testing.T) {
	fake := &fakeCloudWatch{}
	s := New(fake, "hrrr", log.NewNopLogger(), true)
	s.AddFilesDownloaded(7)

	s.Flush(context.Background())

	assert.Empty(t, fake.calls)
}

func TestFlush_RemoteFailureDoesNotPanicOrBlock(t *testing.T) {
	fake := &fakeCloudWatch{err: errors.New("throttled")}
	s := New(fake, "hrrr", log.NewNopLogger(), false)
	s.AddFilesDownloaded(1)

	require.NotPanics(t, func() { s.Flush(context.Background()) })
}

func TestFlush_NilClientIsSafe(t *testing.T) {
	s := New(nil, "hrrr", log.NewNopLogger(), false)
	require.NotPanics(t, func() { s.Flush(context.Background()) })
}
