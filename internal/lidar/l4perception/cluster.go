package l4perception

import (
	"math"

	"github.com/banshee-data/landmark.report/internal/lidar/l1scan"
)

const (
	// DefaultGapThreshold is the largest range step between neighbouring
	// readings that still counts as the same object.
	DefaultGapThreshold = 0.025

	// MinCirclePoints is the smallest cluster that can constrain a circle.
	MinCirclePoints = 3
)

// DefaultClusteringParams returns the production clustering parameters.
func DefaultClusteringParams() ClusteringParams {
	return ClusteringParams{
		GapThreshold:     DefaultGapThreshold,
		MinClusterPoints: MinCirclePoints,
	}
}

func (p ClusteringParams) normalised() ClusteringParams {
	if p.GapThreshold <= 0 || math.IsNaN(p.GapThreshold) {
		p.GapThreshold = DefaultGapThreshold
	}
	if p.MinClusterPoints < MinCirclePoints {
		p.MinClusterPoints = MinCirclePoints
	}
	return p
}

// ClusterScan partitions scan into clusters of neighbouring readings.
//
// Readings are walked in bearing order. Out-of-range readings are skipped.
// Each in-range reading joins the active cluster; if the next bearing is out
// of range, or the range step to it exceeds GapThreshold, the reading closes
// that cluster and the next one starts fresh. The transition from the last
// bearing back to the first is only evaluated when WrapAround is set, so by
// default the last reading of the scan is never visited.
//
// The cluster still open when the walk ends is kept. Clusters with fewer
// than MinClusterPoints points are then dropped. An empty scan or one
// without valid readings yields nil.
func ClusterScan(scan l1scan.RangeScan, params ClusteringParams) []Cluster {
	n := scan.Len()
	if n == 0 {
		return nil
	}
	params = params.normalised()

	end := n - 1
	if params.WrapAround {
		end = n
	}

	var clusters []Cluster
	var cur Cluster
	// Set when the last bearing steps into bearing 0 within the threshold.
	continuesIntoFirst := false
	for i := 0; i < end; i++ {
		r := scan.Ranges[i]
		if !scan.InRange(r) {
			continue
		}
		cur.add(scan.PointAt(i), i)

		j := (i + 1) % n
		next := scan.Ranges[j]
		if scan.InRange(next) && math.Abs(r-next) <= params.GapThreshold {
			if j == 0 {
				continuesIntoFirst = true
			}
			continue
		}
		clusters = append(clusters, cur)
		cur = Cluster{}
	}

	if cur.Len() > 0 {
		if continuesIntoFirst && len(clusters) > 0 && clusters[0].Bearings[0] == 0 {
			// The open cluster is the leading half of the arc through bearing 0.
			clusters[0] = joinClusters(cur, clusters[0])
		} else {
			clusters = append(clusters, cur)
		}
	}

	return filterBySize(clusters, params.MinClusterPoints)
}

func joinClusters(head, tail Cluster) Cluster {
	out := Cluster{
		Points:   make([]l1scan.Point2D, 0, head.Len()+tail.Len()),
		Bearings: make([]int, 0, head.Len()+tail.Len()),
	}
	out.Points = append(append(out.Points, head.Points...), tail.Points...)
	out.Bearings = append(append(out.Bearings, head.Bearings...), tail.Bearings...)
	return out
}

// filterBySize keeps clusters with at least minPoints points, preserving order.
func filterBySize(clusters []Cluster, minPoints int) []Cluster {
	var kept []Cluster
	for _, c := range clusters {
		if c.Len() >= minPoints {
			kept = append(kept, c)
		}
	}
	return kept
}

// ScanClusterer implements ClustererInterface with ClusterScan.
type ScanClusterer struct {
	params ClusteringParams
}

// NewScanClusterer creates a clusterer with the given parameters.
func NewScanClusterer(params ClusteringParams) *ScanClusterer {
	return &ScanClusterer{params: params.normalised()}
}

// NewDefaultScanClusterer creates a clusterer with default parameters.
func NewDefaultScanClusterer() *ScanClusterer {
	return NewScanClusterer(DefaultClusteringParams())
}

// Cluster partitions scan using the clusterer's parameters.
func (c *ScanClusterer) Cluster(scan l1scan.RangeScan) []Cluster {
	return ClusterScan(scan, c.params)
}

// GetParams returns the current clustering parameters.
func (c *ScanClusterer) GetParams() ClusteringParams {
	return c.params
}

// SetParams updates the clustering parameters.
func (c *ScanClusterer) SetParams(params ClusteringParams) {
	c.params = params.normalised()
}

// Verify at compile time that *ScanClusterer implements ClustererInterface.
var _ ClustererInterface = (*ScanClusterer)(nil)
