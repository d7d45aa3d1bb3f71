package l1scan

import (
	"fmt"
	"math"
)

// FullScanSamples is the number of readings in a one-degree 360° scan.
const FullScanSamples = 360

// RangeScan is one rotation of range readings. Ranges[i] is the distance
// measured at bearing index i; for a 360 sample scan the index is the
// bearing in whole degrees. Readings outside [MinRange, MaxRange] are
// invalid and ignored by consumers.
//
// A RangeScan is treated as immutable once constructed.
type RangeScan struct {
	Ranges     []float64
	MinRange   float64
	MaxRange   float64
	StampNanos int64
}

// Point2D is a Cartesian coordinate pair in the sensor frame (metres).
type Point2D struct {
	X, Y float64
}

// Len returns the number of readings in the scan.
func (s RangeScan) Len() int {
	return len(s.Ranges)
}

// InRange reports whether r is a usable reading for this scan.
// NaN readings are never in range.
func (s RangeScan) InRange(r float64) bool {
	if math.IsNaN(r) {
		return false
	}
	return r >= s.MinRange && r <= s.MaxRange
}

// ValidCount returns the number of in-range readings.
func (s RangeScan) ValidCount() int {
	n := 0
	for _, r := range s.Ranges {
		if s.InRange(r) {
			n++
		}
	}
	return n
}

// BearingDeg returns the bearing of index i in degrees. Scans with
// FullScanSamples readings map index to whole degrees.
func (s RangeScan) BearingDeg(i int) float64 {
	n := len(s.Ranges)
	if n == 0 || n == FullScanSamples {
		return float64(i)
	}
	return float64(i) * 360.0 / float64(n)
}

// PointAt converts reading i to Cartesian coordinates.
func (s RangeScan) PointAt(i int) Point2D {
	return PolarToCartesian(s.Ranges[i], s.BearingDeg(i))
}

// Validate checks the scan's range bounds.
func (s RangeScan) Validate() error {
	if math.IsNaN(s.MinRange) || math.IsNaN(s.MaxRange) {
		return fmt.Errorf("range bounds must be numbers, got min=%v max=%v", s.MinRange, s.MaxRange)
	}
	if s.MinRange < 0 {
		return fmt.Errorf("min range must be non-negative, got %f", s.MinRange)
	}
	if s.MaxRange < s.MinRange {
		return fmt.Errorf("max range %f is below min range %f", s.MaxRange, s.MinRange)
	}
	return nil
}

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// PolarToCartesian converts a range and a bearing in degrees
// (counter-clockwise from +X) to a Cartesian point.
func PolarToCartesian(distance, bearingDeg float64) Point2D {
	theta := DegToRad(bearingDeg)
	return Point2D{
		X: distance * math.Cos(theta),
		Y: distance * math.Sin(theta),
	}
}
