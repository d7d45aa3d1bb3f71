package l4perception

import "github.com/banshee-data/landmark.report/internal/lidar/l1scan"

// ClustererInterface abstracts the clustering implementation.
// This interface lets the pipeline swap segmentation strategies without
// touching the fitting stage.
type ClustererInterface interface {
	// Cluster partitions a scan into clusters in angular scan order.
	Cluster(scan l1scan.RangeScan) []Cluster

	// GetParams returns the current clustering parameters.
	GetParams() ClusteringParams

	// SetParams updates the clustering parameters.
	SetParams(params ClusteringParams)
}

// ClusteringParams holds scan clustering parameters.
type ClusteringParams struct {
	GapThreshold     float64 // Max range difference between neighbours in one cluster (metres)
	MinClusterPoints int     // Clusters smaller than this are discarded (never below 3)
	WrapAround       bool    // Evaluate the last→first bearing transition and merge across it
}
