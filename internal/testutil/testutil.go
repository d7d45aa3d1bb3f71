// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/landmark.report/internal/lidar/l1scan"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// CirclePoints returns n points evenly spaced over an arc of spanDeg
// degrees starting at startDeg on the circle (cx, cy, r). A 360° span
// does not repeat the first point.
func CirclePoints(cx, cy, r float64, n int, startDeg, spanDeg float64) []l1scan.Point2D {
	pts := make([]l1scan.Point2D, n)
	step := spanDeg / float64(n)
	if spanDeg < 360 && n > 1 {
		step = spanDeg / float64(n-1)
	}
	for i := range pts {
		theta := (startDeg + step*float64(i)) * math.Pi / 180
		pts[i] = l1scan.Point2D{X: cx + r*math.Cos(theta), Y: cy + r*math.Sin(theta)}
	}
	return pts
}

// NoisyCirclePoints is CirclePoints with independent Gaussian noise of
// standard deviation sigma added to each coordinate. The seed makes the
// noise reproducible.
func NoisyCirclePoints(cx, cy, r float64, n int, startDeg, spanDeg, sigma float64, seed uint64) []l1scan.Point2D {
	pts := CirclePoints(cx, cy, r, n, startDeg, spanDeg)
	noise := distuv.Normal{Mu: 0, Sigma: sigma, Src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}
	for i := range pts {
		pts[i].X += noise.Rand()
		pts[i].Y += noise.Rand()
	}
	return pts
}

// Translate returns pts shifted by (dx, dy).
func Translate(pts []l1scan.Point2D, dx, dy float64) []l1scan.Point2D {
	out := make([]l1scan.Point2D, len(pts))
	for i, p := range pts {
		out[i] = l1scan.Point2D{X: p.X + dx, Y: p.Y + dy}
	}
	return out
}
