package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/landmark.report/internal/config"
	"github.com/banshee-data/landmark.report/internal/lidar"
	"github.com/banshee-data/landmark.report/internal/lidar/l1scan"
	"github.com/banshee-data/landmark.report/internal/lidar/l4perception"
)

// ErrRejectedByGate marks a circle that fitted cleanly but falls outside
// the configured landmark gate (radius bounds or residual).
var ErrRejectedByGate = errors.New("circle rejected by landmark gate")

// Landmark is a circle estimate accepted as a landmark observation.
type Landmark struct {
	ClusterIndex int
	FirstBearing int // scan index of the first reading in the cluster
	LastBearing  int
	Circle       l4perception.CircleEstimate
}

// FitFailure records a cluster that produced no landmark.
type FitFailure struct {
	ClusterIndex int
	Points       int
	Err          error
}

// Frame is the extraction result for one scan. Landmarks and Failures
// are both in angular scan order of their source clusters.
type Frame struct {
	StampNanos    int64
	ValidReadings int
	ClusterCount  int
	Landmarks     []Landmark
	Failures      []FitFailure
}

// Sink consumes extracted frames.
type Sink interface {
	WriteFrame(frame Frame) error
}

// ExtractorConfig holds everything the extractor needs.
type ExtractorConfig struct {
	Clustering     l4perception.ClusteringParams
	Fit            l4perception.FitParams
	MinRadius      float64 // 0 disables
	MaxRadius      float64 // 0 disables
	MaxRMSResidual float64 // 0 disables
	Workers        int     // parallel fits per scan; 0 = GOMAXPROCS, resolved by NewExtractor
}

// DefaultExtractorConfig returns production defaults with the gate disabled.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		Clustering: l4perception.DefaultClusteringParams(),
		Fit:        l4perception.DefaultFitParams(),
	}
}

// ExtractorConfigFromTuning maps a TuningConfig onto an ExtractorConfig.
func ExtractorConfigFromTuning(cfg *config.TuningConfig) ExtractorConfig {
	return ExtractorConfig{
		Clustering: l4perception.ClusteringParams{
			GapThreshold:     cfg.GetGapThreshold(),
			MinClusterPoints: cfg.GetMinClusterPoints(),
			WrapAround:       cfg.GetWrapAround(),
		},
		Fit:            l4perception.FitParams{SingularThreshold: cfg.GetSingularThreshold()},
		MinRadius:      cfg.GetMinRadius(),
		MaxRadius:      cfg.GetMaxRadius(),
		MaxRMSResidual: cfg.GetMaxRMSResidual(),
		Workers:        cfg.GetWorkers(),
	}
}

// Extractor turns scans into landmark frames. It holds only immutable
// configuration and may be shared across goroutines.
type Extractor struct {
	cfg       ExtractorConfig
	clusterer l4perception.ClustererInterface
}

// NewExtractor creates an extractor using the scan clusterer.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	return NewExtractorWithClusterer(cfg, l4perception.NewScanClusterer(cfg.Clustering))
}

// NewExtractorWithClusterer creates an extractor with a caller-supplied
// clusterer.
func NewExtractorWithClusterer(cfg ExtractorConfig, clusterer l4perception.ClustererInterface) *Extractor {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return &Extractor{cfg: cfg, clusterer: clusterer}
}

// Config returns the extractor's configuration.
func (e *Extractor) Config() ExtractorConfig {
	return e.cfg
}

type fitResult struct {
	circle l4perception.CircleEstimate
	err    error
}

// Extract clusters the scan and fits a circle to every cluster. Fits run
// concurrently; a failing cluster never stops the others.
func (e *Extractor) Extract(scan l1scan.RangeScan) Frame {
	frame := Frame{
		StampNanos:    scan.StampNanos,
		ValidReadings: scan.ValidCount(),
	}

	clusters := e.clusterer.Cluster(scan)
	frame.ClusterCount = len(clusters)
	if len(clusters) == 0 {
		lidar.TraceScan(lidar.ScanSummary{StampNanos: scan.StampNanos, ValidReadings: frame.ValidReadings})
		return frame
	}

	results := e.fitAll(clusters)

	for i, res := range results {
		err := res.err
		if err == nil {
			err = e.gate(res.circle)
		}
		first, last := bearingSpan(clusters[i])
		if err != nil {
			lidar.ClusterDiagf(scan.StampNanos, i, first, last, "%d points: %v", clusters[i].Len(), err)
			frame.Failures = append(frame.Failures, FitFailure{
				ClusterIndex: i,
				Points:       clusters[i].Len(),
				Err:          err,
			})
			continue
		}
		frame.Landmarks = append(frame.Landmarks, Landmark{
			ClusterIndex: i,
			FirstBearing: first,
			LastBearing:  last,
			Circle:       res.circle,
		})
	}

	lidar.TraceScan(lidar.ScanSummary{
		StampNanos:    scan.StampNanos,
		ValidReadings: frame.ValidReadings,
		Clusters:      frame.ClusterCount,
		Landmarks:     len(frame.Landmarks),
		Failures:      len(frame.Failures),
	})
	return frame
}

// fitAll fits every cluster, bounded by cfg.Workers. Results are slotted by
// cluster index so output order never depends on scheduling.
func (e *Extractor) fitAll(clusters []l4perception.Cluster) []fitResult {
	results := make([]fitResult, len(clusters))
	workers := e.cfg.Workers
	if workers > len(clusters) {
		workers = len(clusters)
	}
	if workers <= 1 {
		for i, c := range clusters {
			results[i].circle, results[i].err = l4perception.FitPoints(c.Points, e.cfg.Fit)
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i, c := range clusters {
		g.Go(func() error {
			// Fit errors are recorded per cluster, never returned, so one
			// failure does not cancel the remaining fits.
			results[i].circle, results[i].err = l4perception.FitPoints(c.Points, e.cfg.Fit)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func bearingSpan(c l4perception.Cluster) (first, last int) {
	if len(c.Bearings) == 0 {
		return -1, -1
	}
	return c.Bearings[0], c.Bearings[len(c.Bearings)-1]
}

func (e *Extractor) gate(c l4perception.CircleEstimate) error {
	if !c.Valid() {
		return fmt.Errorf("%w: invalid radius %v", l4perception.ErrDegenerateFit, c.Radius)
	}
	if e.cfg.MinRadius > 0 && c.Radius < e.cfg.MinRadius {
		return fmt.Errorf("%w: radius %.4f below %.4f", ErrRejectedByGate, c.Radius, e.cfg.MinRadius)
	}
	if e.cfg.MaxRadius > 0 && c.Radius > e.cfg.MaxRadius {
		return fmt.Errorf("%w: radius %.4f above %.4f", ErrRejectedByGate, c.Radius, e.cfg.MaxRadius)
	}
	if e.cfg.MaxRMSResidual > 0 && c.RMSResidual > e.cfg.MaxRMSResidual {
		return fmt.Errorf("%w: rms residual %.4g above %.4g", ErrRejectedByGate, c.RMSResidual, e.cfg.MaxRMSResidual)
	}
	return nil
}

// Run extracts every scan in order and forwards each frame to the sinks.
// The first sink error, or cancellation of ctx, stops the run.
func (e *Extractor) Run(ctx context.Context, scans []l1scan.RangeScan, sinks ...Sink) (RunStats, error) {
	var stats RunStats
	for i, scan := range scans {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("run stopped before scan %d: %w", i, err)
		}
		frame := e.Extract(scan)
		stats.Add(frame)
		for _, s := range sinks {
			if err := s.WriteFrame(frame); err != nil {
				return stats, fmt.Errorf("scan %d: write frame: %w", i, err)
			}
		}
	}
	return stats, nil
}

// RunStats aggregates frame counts over a run.
type RunStats struct {
	Scans     int
	Clusters  int
	Landmarks int
	Failures  int

	// Failures broken down by cause.
	Degenerate     int
	NegativeRadius int
	RejectedByGate int
	InvalidSize    int
}

// Failure kinds reported by FailureKind.
const (
	KindDegenerate         = "degenerate"
	KindNegativeRadiusSq   = "negative_radius_squared"
	KindInvalidClusterSize = "invalid_cluster_size"
	KindRejectedByGate     = "rejected_by_gate"
	KindUnknown            = "unknown"
)

// FailureKind names the cause of a fit failure.
func FailureKind(err error) string {
	switch {
	case errors.Is(err, ErrRejectedByGate):
		return KindRejectedByGate
	case errors.Is(err, l4perception.ErrNegativeRadiusSquared):
		return KindNegativeRadiusSq
	case errors.Is(err, l4perception.ErrInvalidClusterSize):
		return KindInvalidClusterSize
	case errors.Is(err, l4perception.ErrDegenerateFit):
		return KindDegenerate
	}
	return KindUnknown
}

// Add folds one frame into the stats.
func (s *RunStats) Add(f Frame) {
	s.Scans++
	s.Clusters += f.ClusterCount
	s.Landmarks += len(f.Landmarks)
	s.Failures += len(f.Failures)
	for _, fail := range f.Failures {
		switch FailureKind(fail.Err) {
		case KindRejectedByGate:
			s.RejectedByGate++
		case KindNegativeRadiusSq:
			s.NegativeRadius++
		case KindInvalidClusterSize:
			s.InvalidSize++
		case KindDegenerate:
			s.Degenerate++
		}
	}
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Frame) error

// WriteFrame calls f(frame).
func (f SinkFunc) WriteFrame(frame Frame) error {
	return f(frame)
}
