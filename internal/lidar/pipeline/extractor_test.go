package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/landmark.report/internal/config"
	"github.com/banshee-data/landmark.report/internal/lidar"
	"github.com/banshee-data/landmark.report/internal/lidar/l1scan"
	"github.com/banshee-data/landmark.report/internal/lidar/l4perception"
	"github.com/banshee-data/landmark.report/internal/lidar/sim"
	"github.com/banshee-data/landmark.report/internal/testutil"
)

var testTubes = []sim.Tube{
	{X: 0.8, Y: 0.8, Radius: 0.15},
	{X: -1.2, Y: 0.5, Radius: 0.2},
	{X: -0.5, Y: -1.5, Radius: 0.25},
}

// fixedClusterer returns the same clusters for every scan.
type fixedClusterer struct {
	clusters []l4perception.Cluster
}

func (f *fixedClusterer) Cluster(l1scan.RangeScan) []l4perception.Cluster { return f.clusters }
func (f *fixedClusterer) GetParams() l4perception.ClusteringParams {
	return l4perception.DefaultClusteringParams()
}
func (f *fixedClusterer) SetParams(l4perception.ClusteringParams) {}

func clusterOf(points []l1scan.Point2D, firstBearing int) l4perception.Cluster {
	c := l4perception.Cluster{Points: points}
	for i := range points {
		c.Bearings = append(c.Bearings, firstBearing+i)
	}
	return c
}

func TestExtract_RecoversSimulatedTubes(t *testing.T) {
	scan := sim.SimulateScan(sim.Pose2D{}, testTubes, sim.DefaultScanParams(), nil)
	scan.StampNanos = 1234

	frame := NewExtractor(DefaultExtractorConfig()).Extract(scan)

	assert.Equal(t, int64(1234), frame.StampNanos)
	assert.Equal(t, scan.ValidCount(), frame.ValidReadings)
	require.Empty(t, frame.Failures)
	require.Len(t, frame.Landmarks, len(testTubes))
	assert.Equal(t, len(testTubes), frame.ClusterCount)

	for i, lm := range frame.Landmarks {
		tube := testTubes[i]
		assert.Equal(t, i, lm.ClusterIndex)
		assert.InDelta(t, tube.X, lm.Circle.CenterX, 1e-6, "tube %d centre x", i)
		assert.InDelta(t, tube.Y, lm.Circle.CenterY, 1e-6, "tube %d centre y", i)
		assert.InDelta(t, tube.Radius, lm.Circle.Radius, 1e-6, "tube %d radius", i)
		assert.Less(t, lm.FirstBearing, lm.LastBearing)
		if i > 0 {
			assert.Greater(t, lm.FirstBearing, frame.Landmarks[i-1].LastBearing, "angular order")
		}
	}
}

func TestExtract_OrderIndependentOfWorkers(t *testing.T) {
	scan := sim.SimulateScan(sim.Pose2D{X: 0.1, Y: -0.2, Heading: 0.3}, testTubes, sim.DefaultScanParams(), nil)

	serial := DefaultExtractorConfig()
	serial.Workers = 1
	parallel := DefaultExtractorConfig()
	parallel.Workers = 8

	want := NewExtractor(serial).Extract(scan)
	for i := 0; i < 20; i++ {
		got := NewExtractor(parallel).Extract(scan)
		require.Equal(t, want, got)
	}
}

func TestExtract_FailuresDoNotStopOtherClusters(t *testing.T) {
	good1 := clusterOf(testutil.CirclePoints(1, 2, 0.3, 12, 0, 90), 10)
	coincident := clusterOf([]l1scan.Point2D{{X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 1}}, 40)
	tooSmall := clusterOf([]l1scan.Point2D{{X: 0, Y: 0}, {X: 1, Y: 1}}, 60)
	good2 := clusterOf(testutil.CirclePoints(-3, 0.5, 0.2, 8, 180, 60), 200)

	clusterer := &fixedClusterer{clusters: []l4perception.Cluster{good1, coincident, tooSmall, good2}}
	cfg := DefaultExtractorConfig()
	cfg.Workers = 4
	frame := NewExtractorWithClusterer(cfg, clusterer).Extract(l1scan.RangeScan{})

	assert.Equal(t, 4, frame.ClusterCount)
	require.Len(t, frame.Landmarks, 2)
	assert.Equal(t, 0, frame.Landmarks[0].ClusterIndex)
	assert.Equal(t, 3, frame.Landmarks[1].ClusterIndex)
	assert.InDelta(t, 0.3, frame.Landmarks[0].Circle.Radius, 1e-9)
	assert.InDelta(t, 0.2, frame.Landmarks[1].Circle.Radius, 1e-9)
	assert.Equal(t, 10, frame.Landmarks[0].FirstBearing)
	assert.Equal(t, 21, frame.Landmarks[0].LastBearing)

	require.Len(t, frame.Failures, 2)
	assert.Equal(t, 1, frame.Failures[0].ClusterIndex)
	assert.Equal(t, 4, frame.Failures[0].Points)
	assert.ErrorIs(t, frame.Failures[0].Err, l4perception.ErrDegenerateFit)
	assert.Equal(t, 2, frame.Failures[1].ClusterIndex)
	assert.ErrorIs(t, frame.Failures[1].Err, l4perception.ErrInvalidClusterSize)
}

func TestExtract_BoundedPoolFitsEveryCluster(t *testing.T) {
	var clusters []l4perception.Cluster
	for i := 0; i < 40; i++ {
		if i%3 == 1 {
			clusters = append(clusters, clusterOf([]l1scan.Point2D{{X: 2, Y: 2}, {X: 2, Y: 2}, {X: 2, Y: 2}}, i*8))
			continue
		}
		r := 0.1 + 0.01*float64(i)
		clusters = append(clusters, clusterOf(testutil.CirclePoints(float64(i), -1, r, 6, 0, 120), i*8))
	}

	cfg := DefaultExtractorConfig()
	cfg.Workers = 3
	frame := NewExtractorWithClusterer(cfg, &fixedClusterer{clusters: clusters}).Extract(l1scan.RangeScan{})

	require.Len(t, frame.Landmarks, 27)
	require.Len(t, frame.Failures, 13)
	prev := -1
	for _, lm := range frame.Landmarks {
		assert.Greater(t, lm.ClusterIndex, prev)
		assert.NotEqual(t, 1, lm.ClusterIndex%3)
		assert.InDelta(t, 0.1+0.01*float64(lm.ClusterIndex), lm.Circle.Radius, 1e-7)
		assert.InDelta(t, float64(lm.ClusterIndex), lm.Circle.CenterX, 1e-7)
		prev = lm.ClusterIndex
	}
	for _, f := range frame.Failures {
		assert.Equal(t, 1, f.ClusterIndex%3)
		assert.ErrorIs(t, f.Err, l4perception.ErrDegenerateFit)
	}
}

func TestExtract_LogsFailuresAndSummary(t *testing.T) {
	var diag, trace bytes.Buffer
	lidar.SetLogWriters(lidar.LogWriters{Diag: &diag, Trace: &trace})
	defer lidar.SetLogWriters(lidar.LogWriters{})

	coincident := clusterOf([]l1scan.Point2D{{X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 1}}, 50)
	good := clusterOf(testutil.CirclePoints(0, 2, 0.3, 8, 200, 90), 120)
	e := NewExtractorWithClusterer(DefaultExtractorConfig(), &fixedClusterer{clusters: []l4perception.Cluster{good, coincident}})
	e.Extract(l1scan.RangeScan{StampNanos: 77})

	assert.Contains(t, diag.String(), "scan 77 cluster 1 [50..52]: 3 points: ")
	assert.NotContains(t, diag.String(), "cluster 0")
	assert.Contains(t, trace.String(), "scan 77: 0 valid readings, 2 clusters, 1 landmarks, 1 failures")
}

func TestExtract_LandmarkGate(t *testing.T) {
	scan := sim.SimulateScan(sim.Pose2D{}, testTubes, sim.DefaultScanParams(), nil)

	tests := []struct {
		name       string
		mutate     func(*ExtractorConfig)
		wantRadius []float64
		wantGated  int
	}{
		{"disabled", func(*ExtractorConfig) {}, []float64{0.15, 0.2, 0.25}, 0},
		{"max radius", func(c *ExtractorConfig) { c.MaxRadius = 0.18 }, []float64{0.15}, 2},
		{"min radius", func(c *ExtractorConfig) { c.MinRadius = 0.22 }, []float64{0.25}, 2},
		{"band", func(c *ExtractorConfig) { c.MinRadius, c.MaxRadius = 0.18, 0.22 }, []float64{0.2}, 2},
		{"residual", func(c *ExtractorConfig) { c.MaxRMSResidual = 1e-3 }, []float64{0.15, 0.2, 0.25}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultExtractorConfig()
			tt.mutate(&cfg)
			frame := NewExtractor(cfg).Extract(scan)

			require.Len(t, frame.Landmarks, len(tt.wantRadius))
			for i, r := range tt.wantRadius {
				assert.InDelta(t, r, frame.Landmarks[i].Circle.Radius, 1e-6)
			}
			require.Len(t, frame.Failures, tt.wantGated)
			for _, f := range frame.Failures {
				assert.ErrorIs(t, f.Err, ErrRejectedByGate)
			}
		})
	}
}

func TestExtract_EmptyScan(t *testing.T) {
	frame := NewExtractor(DefaultExtractorConfig()).Extract(l1scan.RangeScan{StampNanos: 5})
	assert.Equal(t, Frame{StampNanos: 5}, frame)
}

func TestRun_ForwardsFramesAndStats(t *testing.T) {
	params := sim.DefaultScanParams()
	scans := make([]l1scan.RangeScan, 3)
	for i := range scans {
		params.StampNanos = int64(i + 1)
		scans[i] = sim.SimulateScan(sim.Pose2D{}, testTubes, params, nil)
	}

	var got []int64
	sink := SinkFunc(func(f Frame) error {
		got = append(got, f.StampNanos)
		return nil
	})

	cfg := DefaultExtractorConfig()
	cfg.MaxRadius = 0.18
	stats, err := NewExtractor(cfg).Run(context.Background(), scans, sink)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, got)
	assert.Equal(t, RunStats{
		Scans:          3,
		Clusters:       9,
		Landmarks:      3,
		Failures:       6,
		RejectedByGate: 6,
	}, stats)
}

func TestRun_StopsOnSinkError(t *testing.T) {
	scans := []l1scan.RangeScan{{StampNanos: 1}, {StampNanos: 2}, {StampNanos: 3}}
	boom := errors.New("disk full")
	calls := 0
	sink := SinkFunc(func(f Frame) error {
		calls++
		if f.StampNanos == 2 {
			return boom
		}
		return nil
	})

	stats, err := NewExtractor(DefaultExtractorConfig()).Run(context.Background(), scans, sink)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "scan 1")
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, stats.Scans)
}

func TestRunStats_CountsByCause(t *testing.T) {
	var s RunStats
	s.Add(Frame{
		ClusterCount: 4,
		Failures: []FitFailure{
			{Err: l4perception.ErrDegenerateFit},
			{Err: l4perception.ErrNegativeRadiusSquared},
			{Err: l4perception.ErrInvalidClusterSize},
			{Err: ErrRejectedByGate},
		},
	})
	assert.Equal(t, RunStats{
		Scans: 1, Clusters: 4, Failures: 4,
		Degenerate: 1, NegativeRadius: 1, InvalidSize: 1, RejectedByGate: 1,
	}, s)
}

func TestExtractorConfigFromTuning(t *testing.T) {
	cfg := ExtractorConfigFromTuning(config.DefaultTuningConfig())
	assert.Equal(t, l4perception.DefaultClusteringParams(), cfg.Clustering)
	assert.Equal(t, l4perception.DefaultFitParams(), cfg.Fit)
	assert.Zero(t, cfg.Workers)
	assert.Equal(t, runtime.GOMAXPROCS(0), NewExtractor(cfg).Config().Workers)

	tuning := config.EmptyTuningConfig()
	wrap := true
	maxR := 0.4
	tuning.WrapAround = &wrap
	tuning.MaxRadius = &maxR
	cfg = ExtractorConfigFromTuning(tuning)
	assert.True(t, cfg.Clustering.WrapAround)
	assert.Equal(t, 0.4, cfg.MaxRadius)

	e := NewExtractor(ExtractorConfig{})
	assert.Equal(t, runtime.GOMAXPROCS(0), e.Config().Workers)
}

func TestFailureKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{l4perception.ErrDegenerateFit, KindDegenerate},
		{fmt.Errorf("wrapped: %w", l4perception.ErrNegativeRadiusSquared), KindNegativeRadiusSq},
		{l4perception.ErrInvalidClusterSize, KindInvalidClusterSize},
		{fmt.Errorf("%w: radius 9", ErrRejectedByGate), KindRejectedByGate},
		{errors.New("other"), KindUnknown},
		{nil, KindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FailureKind(tt.err), "%v", tt.err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	scans := []l1scan.RangeScan{{StampNanos: 1}, {StampNanos: 2}}
	sink := SinkFunc(func(Frame) error {
		cancel()
		return nil
	})

	stats, err := NewExtractor(DefaultExtractorConfig()).Run(ctx, scans, sink)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, stats.Scans)
}

func TestDefaultsFileMatchesExtractorDefaults(t *testing.T) {
	cfg := ExtractorConfigFromTuning(config.MustLoadDefaultConfig())
	want := DefaultExtractorConfig()
	assert.Equal(t, want.Clustering, cfg.Clustering)
	assert.Equal(t, want.Fit, cfg.Fit)
	assert.Zero(t, cfg.MinRadius)
	assert.Zero(t, cfg.MaxRadius)
	assert.Zero(t, cfg.MaxRMSResidual)
}
