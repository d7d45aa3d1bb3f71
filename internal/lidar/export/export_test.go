package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/landmark.report/internal/lidar/l1scan"
	"github.com/banshee-data/landmark.report/internal/lidar/l4perception"
	"github.com/banshee-data/landmark.report/internal/lidar/pipeline"
)

func sampleFrame() pipeline.Frame {
	return pipeline.Frame{
		StampNanos:    1700000000123456789,
		ValidReadings: 31,
		ClusterCount:  2,
		Landmarks: []pipeline.Landmark{{
			ClusterIndex: 0, FirstBearing: 39, LastBearing: 51,
			Circle: l4perception.CircleEstimate{
				CenterX: 0.8, CenterY: 0.8, Radius: 0.15,
				Branch: l4perception.BranchDirectSingularVector, Points: 13, RMSResidual: math.NaN(),
			},
		}},
		Failures: []pipeline.FitFailure{
			{ClusterIndex: 1, Points: 3, Err: fmt.Errorf("fit: %w", l4perception.ErrNegativeRadiusSquared)},
		},
	}
}

func TestFrameToStruct(t *testing.T) {
	s, err := FrameToStruct(sampleFrame())
	require.NoError(t, err)

	m := s.AsMap()
	assert.Equal(t, "1700000000123456789", m["stamp_ns"])
	assert.Equal(t, 31.0, m["valid_readings"])
	assert.Equal(t, 2.0, m["cluster_count"])

	landmarks := m["landmarks"].([]interface{})
	require.Len(t, landmarks, 1)
	lm := landmarks[0].(map[string]interface{})
	assert.Equal(t, 0.15, lm["radius"])
	assert.Equal(t, "direct_singular_vector", lm["branch"])
	assert.Nil(t, lm["rms_residual"])
	assert.Equal(t, 39.0, lm["first_bearing"])

	failures := m["failures"].([]interface{})
	require.Len(t, failures, 1)
	f := failures[0].(map[string]interface{})
	assert.Equal(t, pipeline.KindNegativeRadiusSq, f["kind"])
	assert.Contains(t, f["message"], "negative")
}

func TestJSONLWriter_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf)

	first := sampleFrame()
	second := pipeline.Frame{StampNanos: 7}
	require.NoError(t, w.WriteFrame(first))
	require.NoError(t, w.WriteFrame(second))
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))

	frames, err := ReadFrames(&buf)
	require.NoError(t, err)
	require.Len(t, frames, 2)

	want, err := FrameToStruct(first)
	require.NoError(t, err)
	assert.Equal(t, want.AsMap(), frames[0].AsMap())
	assert.Equal(t, "7", frames[1].AsMap()["stamp_ns"])
	assert.Empty(t, frames[1].AsMap()["landmarks"])
}

func TestReadFrames_ReportsLine(t *testing.T) {
	_, err := ReadFrames(bytes.NewBufferString("{}\n\n{not json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")

	frames, err := ReadFrames(bytes.NewBufferString(""))
	require.NoError(t, err)
	assert.Empty(t, frames)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestJSONLWriter_PropagatesWriteError(t *testing.T) {
	err := NewJSONLWriter(failingWriter{}).WriteFrame(pipeline.Frame{StampNanos: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed pipe")
}

func TestJSONLWriter_AsSink(t *testing.T) {
	var buf bytes.Buffer
	stats, err := pipeline.NewExtractor(pipeline.DefaultExtractorConfig()).
		Run(context.Background(), []l1scan.RangeScan{{StampNanos: 1}, {StampNanos: 2}}, NewJSONLWriter(&buf))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Scans)

	frames, err := ReadFrames(&buf)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "2", frames[1].AsMap()["stamp_ns"])
}
