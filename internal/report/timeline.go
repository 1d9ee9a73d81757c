// Package report renders a session's score timeline as an interactive
// go-echarts page or a static gonum/plot PNG.
package report

import (
	"fmt"
	"image/color"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/reading.report/internal/scoring"
	"github.com/banshee-data/reading.report/internal/session"
)

// Point is one plotted sample: seconds since session start and score.
type Point struct {
	Elapsed float64
	Score   float64
	Band    scoring.Band
}

// Points flattens the session results into plot samples.
func Points(s *session.Session) []Point {
	results := s.Results()
	pts := make([]Point, len(results))
	for i, r := range results {
		pts[i] = Point{
			Elapsed: r.Timestamp.Sub(s.StartedAt).Seconds(),
			Score:   r.Score,
			Band:    r.Band,
		}
	}
	return pts
}

// TimelineChart builds a line chart of score over elapsed seconds with the
// band thresholds drawn as dashed series.
func TimelineChart(s *session.Session) *charts.Line {
	pts := Points(s)
	x := make([]string, len(pts))
	scores := make([]opts.LineData, len(pts))
	mild := make([]opts.LineData, len(pts))
	significant := make([]opts.LineData, len(pts))
	for i, p := range pts {
		x[i] = strconv.FormatFloat(p.Elapsed, 'f', 2, 64)
		scores[i] = opts.LineData{Value: p.Score, Name: p.Band.Label()}
		mild[i] = opts.LineData{Value: scoring.MildThreshold}
		significant[i] = opts.LineData{Value: scoring.SignificantThreshold}
	}

	sum := s.Summary()
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Reading Difficulty", Width: "1000px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Reading Difficulty Score",
			Subtitle: fmt.Sprintf("session=%s samples=%d mean=%.2f max=%.2f", s.ID, sum.Total, sum.MeanScore, sum.MaxScore),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Elapsed (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Score", Min: 0, Max: 1}),
	)
	line.SetXAxis(x).
		AddSeries("score", scores, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(false), ShowSymbol: opts.Bool(false)})).
		AddSeries("mild", mild, charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed", Color: "#e69500"})).
		AddSeries("significant", significant, charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed", Color: "#d62728"}))
	return line
}

// RenderTimeline writes the timeline chart as a standalone HTML page.
func RenderTimeline(w io.Writer, s *session.Session) error {
	if err := TimelineChart(s).Render(w); err != nil {
		return fmt.Errorf("render timeline: %w", err)
	}
	return nil
}

var (
	scoreColor       = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	mildColor        = color.RGBA{R: 230, G: 149, A: 255}
	significantColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// TimelinePlot builds the gonum plot of the session timeline.
func TimelinePlot(s *session.Session) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Session %s - Reading Difficulty", s.ID)
	p.X.Label.Text = "Elapsed (s)"
	p.Y.Label.Text = "Score"
	p.Y.Min = 0
	p.Y.Max = 1

	pts := Points(s)
	if len(pts) == 0 {
		p.X.Min, p.X.Max = 0, 1
		return p, nil
	}

	xys := make(plotter.XYs, len(pts))
	for i, pt := range pts {
		xys[i] = plotter.XY{X: pt.Elapsed, Y: pt.Score}
	}
	scoreLine, err := plotter.NewLine(xys)
	if err != nil {
		return nil, err
	}
	scoreLine.Color = scoreColor
	scoreLine.Width = vg.Points(1.5)
	p.Add(scoreLine)
	p.Legend.Add("score", scoreLine)

	first, last := pts[0].Elapsed, pts[len(pts)-1].Elapsed
	for _, th := range []struct {
		name  string
		value float64
		c     color.Color
	}{
		{"mild", scoring.MildThreshold, mildColor},
		{"significant", scoring.SignificantThreshold, significantColor},
	} {
		l, err := plotter.NewLine(plotter.XYs{{X: first, Y: th.value}, {X: last, Y: th.value}})
		if err != nil {
			return nil, err
		}
		l.Color = th.c
		l.Width = vg.Points(1)
		l.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(l)
		p.Legend.Add(th.name, l)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WriteTimelinePNG encodes the timeline plot as PNG into w.
func WriteTimelinePNG(w io.Writer, s *session.Session) error {
	p, err := TimelinePlot(s)
	if err != nil {
		return fmt.Errorf("build timeline plot: %w", err)
	}
	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("encode timeline plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// SaveTimelinePNG writes the timeline plot to path.
func SaveTimelinePNG(path string, s *session.Session) error {
	p, err := TimelinePlot(s)
	if err != nil {
		return fmt.Errorf("build timeline plot: %w", err)
	}
	if err := p.Save(10*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save timeline plot: %w", err)
	}
	return nil
}
