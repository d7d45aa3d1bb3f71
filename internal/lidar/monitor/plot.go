package monitor

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/landmark.report/internal/lidar/l1scan"
	"github.com/banshee-data/landmark.report/internal/lidar/pipeline"
)

// Plot dimensions for saved images.
const (
	plotWidth  = 8 * vg.Inch
	plotHeight = 8 * vg.Inch
)

func toXYs(pts []l1scan.Point2D) plotter.XYs {
	xys := make(plotter.XYs, len(pts))
	for i, p := range pts {
		xys[i] = plotter.XY{X: p.X, Y: p.Y}
	}
	return xys
}

// ScanPlot builds a top-down plot of the scan's in-range readings with each
// accepted landmark drawn as its fitted circle and centre.
func ScanPlot(scan l1scan.RangeScan, frame pipeline.Frame) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Scan %d - %d landmarks, %d failed clusters",
		frame.StampNanos, len(frame.Landmarks), len(frame.Failures))
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	readings := scanPoints(scan)
	outlines := make([][]l1scan.Point2D, len(frame.Landmarks))
	for i, lm := range frame.Landmarks {
		outlines[i] = outline(lm.Circle)
	}
	pad := extent(append(outlines, readings)...)
	p.X.Min, p.X.Max = -pad, pad
	p.Y.Min, p.Y.Max = -pad, pad

	if len(readings) > 0 {
		sc, err := plotter.NewScatter(toXYs(readings))
		if err != nil {
			return nil, fmt.Errorf("scan scatter: %w", err)
		}
		sc.GlyphStyle.Color = color.Gray{Y: 110}
		sc.GlyphStyle.Radius = vg.Points(1.5)
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(sc)
		p.Legend.Add("readings", sc)
	}

	colors := palette(len(frame.Landmarks))
	for i, lm := range frame.Landmarks {
		line, err := plotter.NewLine(toXYs(outlines[i]))
		if err != nil {
			return nil, fmt.Errorf("landmark %d outline: %w", i, err)
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		p.Add(line)

		centre, err := plotter.NewScatter(plotter.XYs{{X: lm.Circle.CenterX, Y: lm.Circle.CenterY}})
		if err != nil {
			return nil, fmt.Errorf("landmark %d centre: %w", i, err)
		}
		centre.GlyphStyle.Color = colors[i]
		centre.GlyphStyle.Shape = draw.CrossGlyph{}
		centre.GlyphStyle.Radius = vg.Points(3)
		p.Add(centre)

		p.Legend.Add(fmt.Sprintf("#%d r=%.3f m", lm.ClusterIndex, lm.Circle.Radius), line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WritePNG renders the scan plot as PNG to w.
func WritePNG(w io.Writer, scan l1scan.RangeScan, frame pipeline.Frame) error {
	p, err := ScanPlot(scan, frame)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(plotWidth, plotHeight, "png")
	if err != nil {
		return fmt.Errorf("png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}

// SavePlot renders the scan plot to path; the format follows the file
// extension (png, svg, pdf).
func SavePlot(path string, scan l1scan.RangeScan, frame pipeline.Frame) error {
	p, err := ScanPlot(scan, frame)
	if err != nil {
		return err
	}
	if err := p.Save(plotWidth, plotHeight, path); err != nil {
		return fmt.Errorf("save plot %s: %w", path, err)
	}
	return nil
}
