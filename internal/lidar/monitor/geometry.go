package monitor

import (
	"image/color"
	"math"

	"github.com/banshee-data/landmark.report/internal/lidar/l1scan"
	"github.com/banshee-data/landmark.report/internal/lidar/l4perception"
)

// circleSegments is the number of chords used to draw a fitted circle.
const circleSegments = 72

// scanPoints returns the in-range readings of scan as Cartesian points.
func scanPoints(scan l1scan.RangeScan) []l1scan.Point2D {
	pts := make([]l1scan.Point2D, 0, scan.ValidCount())
	for i := range scan.Ranges {
		if scan.InRange(scan.Ranges[i]) {
			pts = append(pts, scan.PointAt(i))
		}
	}
	return pts
}

// outline samples a closed polygon around c.
func outline(c l4perception.CircleEstimate) []l1scan.Point2D {
	pts := make([]l1scan.Point2D, circleSegments+1)
	for i := range pts {
		theta := 2 * math.Pi * float64(i) / circleSegments
		pts[i] = l1scan.Point2D{
			X: c.CenterX + c.Radius*math.Cos(theta),
			Y: c.CenterY + c.Radius*math.Sin(theta),
		}
	}
	return pts
}

// extent returns a symmetric axis bound covering every point, at least 1 m.
func extent(sets ...[]l1scan.Point2D) float64 {
	pad := 1.0
	for _, pts := range sets {
		for _, p := range pts {
			pad = math.Max(pad, math.Max(math.Abs(p.X), math.Abs(p.Y)))
		}
	}
	return math.Ceil(pad*10) / 10
}

// palette returns n evenly spaced hues.
func palette(n int) []color.RGBA {
	out := make([]color.RGBA, n)
	for i := range out {
		out[i] = hue(float64(i) / float64(n))
	}
	return out
}

// hue converts a hue in [0,1) to a saturated RGB colour (HSV with s=0.75,
// v=0.85).
func hue(h float64) color.RGBA {
	const s, v = 0.75, 0.85
	h6 := h * 6
	sector := int(h6) % 6
	f := h6 - math.Floor(h6)
	p := v * (1 - s)
	q := v * (1 - s*f)
	t := v * (1 - s*(1-f))
	var r, g, b float64
	switch sector {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}
	return color.RGBA{R: uint8(r * 255), G: uint8(g * 255), B: uint8(b * 255), A: 255}
}

func hexColor(c color.RGBA) string {
	const digits = "0123456789abcdef"
	b := []byte{'#', 0, 0, 0, 0, 0, 0}
	for i, v := range []uint8{c.R, c.G, c.B} {
		b[1+2*i] = digits[v>>4]
		b[2+2*i] = digits[v&0x0f]
	}
	return string(b)
}
