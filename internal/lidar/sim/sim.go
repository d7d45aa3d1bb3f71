// Package sim generates synthetic range scans of cylindrical landmarks
// ("tubes") seen from a robot pose. It is used by the simscan command and
// as a fixture source for pipeline tests.
package sim

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/landmark.report/internal/lidar/l1scan"
)

// Pose2D is a planar robot pose in the world frame. Heading is in radians,
// counter-clockwise from the world X axis.
type Pose2D struct {
	X, Y    float64
	Heading float64
}

// Tube is a vertical cylinder in the world frame.
type Tube struct {
	X, Y   float64
	Radius float64
}

// ScanParams describes the simulated sensor.
type ScanParams struct {
	Samples    int // readings per revolution; 0 means l1scan.FullScanSamples
	MinRange   float64
	MaxRange   float64
	StampNanos int64
}

// DefaultScanParams matches a 360-sample sensor with a 0.12–3.5 m window.
func DefaultScanParams() ScanParams {
	return ScanParams{
		Samples:  l1scan.FullScanSamples,
		MinRange: 0.12,
		MaxRange: 3.5,
	}
}

// ToRobotFrame expresses a world-frame point in the robot frame of pose.
func ToRobotFrame(pose Pose2D, x, y float64) l1scan.Point2D {
	dx, dy := x-pose.X, y-pose.Y
	sin, cos := math.Sincos(pose.Heading)
	return l1scan.Point2D{
		X: cos*dx + sin*dy,
		Y: -sin*dx + cos*dy,
	}
}

// SimulateScan casts one ray per sample from the robot and returns the
// distance to the nearest tube surface. Rays that hit nothing within
// MaxRange report MaxRange+1. When noise is non-nil each hit is perturbed
// by a draw from it; perturbed ranges are clamped at zero.
//
// Tubes that contain the robot are ignored.
func SimulateScan(pose Pose2D, tubes []Tube, params ScanParams, noise *distuv.Normal) l1scan.RangeScan {
	n := params.Samples
	if n <= 0 {
		n = l1scan.FullScanSamples
	}
	scan := l1scan.RangeScan{
		Ranges:     make([]float64, n),
		MinRange:   params.MinRange,
		MaxRange:   params.MaxRange,
		StampNanos: params.StampNanos,
	}

	local := make([]Tube, 0, len(tubes))
	for _, t := range tubes {
		c := ToRobotFrame(pose, t.X, t.Y)
		local = append(local, Tube{X: c.X, Y: c.Y, Radius: t.Radius})
	}

	miss := params.MaxRange + 1
	for i := 0; i < n; i++ {
		theta := l1scan.DegToRad(float64(i) * 360.0 / float64(n))
		dx, dy := math.Cos(theta), math.Sin(theta)

		best := math.Inf(1)
		for _, t := range local {
			if d, ok := rayCircle(dx, dy, t); ok && d < best {
				best = d
			}
		}
		if best > params.MaxRange {
			scan.Ranges[i] = miss
			continue
		}
		if noise != nil {
			best = math.Max(0, best+noise.Rand())
		}
		scan.Ranges[i] = best
	}
	return scan
}

// rayCircle returns the distance along the unit ray (dx, dy) from the
// origin to the first intersection with t.
func rayCircle(dx, dy float64, t Tube) (float64, bool) {
	// |s·d − c|² = r²  →  s² − 2s(d·c) + |c|² − r² = 0
	b := dx*t.X + dy*t.Y
	c := t.X*t.X + t.Y*t.Y - t.Radius*t.Radius
	if c <= 0 {
		return 0, false
	}
	disc := b*b - c
	if disc < 0 {
		return 0, false
	}
	s := b - math.Sqrt(disc)
	if s <= 0 {
		return 0, false
	}
	return s, true
}

// ParseTubes parses "x,y,r;x,y,r;..." into tubes. Empty entries are
// skipped.
func ParseTubes(spec string) ([]Tube, error) {
	var tubes []Tube
	for _, part := range strings.Split(spec, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ",")
		if len(fields) != 3 {
			return nil, fmt.Errorf("parse tube %q: want x,y,r", part)
		}
		var vals [3]float64
		for i, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, fmt.Errorf("parse tube %q: %w", part, err)
			}
			vals[i] = v
		}
		t := Tube{X: vals[0], Y: vals[1], Radius: vals[2]}
		if !(t.Radius > 0) || math.IsInf(t.Radius, 0) {
			return nil, fmt.Errorf("tube %q: radius must be positive and finite", part)
		}
		tubes = append(tubes, t)
	}
	return tubes, nil
}
