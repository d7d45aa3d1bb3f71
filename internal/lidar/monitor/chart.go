package monitor

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/landmark.report/internal/lidar/l1scan"
	"github.com/banshee-data/landmark.report/internal/lidar/pipeline"
)

func scatterData(pts []l1scan.Point2D) []opts.ScatterData {
	data := make([]opts.ScatterData, len(pts))
	for i, p := range pts {
		data[i] = opts.ScatterData{Value: []interface{}{p.X, p.Y}}
	}
	return data
}

// ScanChart builds an interactive scatter chart of the scan readings, the
// fitted landmark circles and their centres.
func ScanChart(scan l1scan.RangeScan, frame pipeline.Frame) *charts.Scatter {
	readings := scanPoints(scan)
	outlines := make([][]l1scan.Point2D, len(frame.Landmarks))
	centres := make([]opts.ScatterData, len(frame.Landmarks))
	for i, lm := range frame.Landmarks {
		c := lm.Circle
		outlines[i] = outline(c)
		centres[i] = opts.ScatterData{
			Name:  fmt.Sprintf("#%d r=%.3f rms=%.2g", lm.ClusterIndex, c.Radius, c.RMSResidual),
			Value: []interface{}{c.CenterX, c.CenterY},
		}
	}
	pad := extent(readings)
	for _, o := range outlines {
		pad = max(pad, extent(o))
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Landmark Scan", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Landmark Extraction",
			Subtitle: fmt.Sprintf("stamp=%d readings=%d clusters=%d landmarks=%d", frame.StampNanos, len(readings), frame.ClusterCount, len(frame.Landmarks)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)

	scatter.AddSeries("readings", scatterData(readings),
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "#9e9e9e"}))

	colors := palette(len(frame.Landmarks))
	for i, lm := range frame.Landmarks {
		scatter.AddSeries(fmt.Sprintf("landmark %d", lm.ClusterIndex), scatterData(outlines[i]),
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 2}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: hexColor(colors[i])}))
	}
	if len(centres) > 0 {
		scatter.AddSeries("centres", centres,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: "#ffffff"}))
	}
	return scatter
}

// RenderScanChart writes the scan chart as a standalone HTML page.
func RenderScanChart(w io.Writer, scan l1scan.RangeScan, frame pipeline.Frame) error {
	if err := ScanChart(scan, frame).Render(w); err != nil {
		return fmt.Errorf("render scan chart: %w", err)
	}
	return nil
}
