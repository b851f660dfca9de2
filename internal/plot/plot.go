// Package plot renders fluorescence traces as PNG figures (gonum/plot) and
// interactive HTML charts (go-echarts).
package plot

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/ophys.report/internal/monitoring"
	"github.com/banshee-data/ophys.report/internal/ophys"
)

// AssetsHost is where rendered charts load the echarts javascript from.
// Override it to serve the assets locally.
var AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

const (
	plotWidth  = 14 * vg.Inch
	plotHeight = 6 * vg.Inch
)

// xValues returns the x coordinate for each sample: the timestamp when ts is
// given, otherwise the sample index.
func xValues(tm *ophys.TraceMatrix, ts []float64) ([]float64, error) {
	if tm == nil || tm.Len() == 0 {
		return nil, fmt.Errorf("no traces to plot")
	}
	n := tm.Samples()
	if ts == nil {
		xs := make([]float64, n)
		for i := range xs {
			xs[i] = float64(i)
		}
		return xs, nil
	}
	if len(ts) != n {
		return nil, &ophys.LengthMismatchError{Timestamps: len(ts), Samples: n}
	}
	return ts, nil
}

// SaveTracePlot writes one line per ROI against ts to path. The image format
// follows the file extension (png, svg, pdf). A nil ts plots against the
// sample index.
func SaveTracePlot(tm *ophys.TraceMatrix, ts []float64, path string) error {
	xs, err := xValues(tm, ts)
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("dF/F traces (%d ROIs)", tm.Len())
	p.X.Label.Text = "Time (s)"
	if ts == nil {
		p.X.Label.Text = "Frame"
	}
	p.Y.Label.Text = "dF/F"

	colors := generateColors(tm.Len())
	for i, id := range tm.ROIIDs {
		row, _ := tm.Row(id)
		pts := make(plotter.XYs, 0, len(row))
		for j, v := range row {
			if finite(xs[j]) && finite(v) {
				pts = append(pts, plotter.XY{X: xs[j], Y: v})
			}
		}
		if len(pts) == 0 {
			monitoring.Logf("roi %d has no finite samples, not plotted", id)
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("failed to build line for roi %d: %w", id, err)
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(strconv.FormatInt(id, 10), line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(plotWidth, plotHeight, path); err != nil {
		return fmt.Errorf("failed to save trace plot %s: %w", path, err)
	}
	monitoring.Logf("wrote trace plot %s (%d ROIs, %d samples)", path, tm.Len(), len(xs))
	return nil
}

// RenderTraceChart writes an HTML line chart with one series per ROI.
func RenderTraceChart(w io.Writer, tm *ophys.TraceMatrix, ts []float64, title string) error {
	xs, err := xValues(tm, ts)
	if err != nil {
		return err
	}

	labels := make([]string, len(xs))
	for i, x := range xs {
		labels[i] = strconv.FormatFloat(x, 'f', 3, 64)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "720px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("rois=%d samples=%d", tm.Len(), len(xs))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Type: "scroll"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "dF/F", NameLocation: "middle", NameGap: 30}),
	)
	line.SetXAxis(labels)
	for _, id := range tm.ROIIDs {
		row, _ := tm.Row(id)
		data := make([]opts.LineData, len(row))
		for j, v := range row {
			if finite(v) {
				data[j] = opts.LineData{Value: v}
			}
		}
		line.AddSeries(strconv.FormatInt(id, 10), data,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		)
	}

	if err := line.Render(w); err != nil {
		return fmt.Errorf("failed to render trace chart: %w", err)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// generateColors spreads n colours evenly around the hue wheel.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}

	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	if s == 0 {
		v := uint8(l * 255)
		return v, v, v
	}
	q := l + s - l*s
	if l < 0.5 {
		q = l * (1 + s)
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3.0) * 255),
		uint8(hueToRGB(p, q, h) * 255),
		uint8(hueToRGB(p, q, h-1.0/3.0) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	switch {
	case t < 0:
		t += 1
	case t > 1:
		t -= 1
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
