package l4perception

import (
	"github.com/banshee-data/landmark.report/internal/lidar/l1scan"
)

// Cluster is a contiguous-in-bearing run of valid scan points judged to
// belong to one physical object. Points are in angular scan order and
// Bearings[i] is the scan index Points[i] was taken from.
//
// A Cluster is not mutated after the clusterer returns it.
type Cluster struct {
	Points   []l1scan.Point2D
	Bearings []int
}

// Len returns the number of points in the cluster.
func (c Cluster) Len() int {
	return len(c.Points)
}

func (c *Cluster) add(p l1scan.Point2D, bearing int) {
	c.Points = append(c.Points, p)
	c.Bearings = append(c.Bearings, bearing)
}
