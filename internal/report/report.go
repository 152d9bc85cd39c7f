// Package report renders the session's time-series report: for every
// reference light, color and intensity channels plus viewing geometry on a
// shared time axis, as a standalone HTML page. Frames without an
// observation stay visible as gaps — a gap means the light was invisible or
// telemetry was lost, and interpolating across it would fabricate data.
package report

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/flarelab/papiscan/internal/papi"
	"github.com/flarelab/papiscan/internal/runway"
)

// Series is one light's chronological observation series. Observations must
// be in strictly increasing frame order.
type Series struct {
	PointID      runway.PointID
	Observations []papi.Observation
	Nominal      *runway.ReferencePoint
}

// Builder renders the report.
type Builder struct {
	title string
	fps   float64
}

// NewBuilder creates a report builder. fps is used to express frame counts
// as durations in the summaries.
func NewBuilder(title string, fps float64) *Builder {
	return &Builder{title: title, fps: fps}
}

// WriteFile renders the report for the given series to an HTML file.
func (b *Builder) WriteFile(path string, series []Series) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	defer f.Close()

	if err := b.Render(f, series); err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}
	return nil
}

// Render writes the report HTML. Lights are ordered by identifier so report
// layout is stable between runs.
func (b *Builder) Render(w io.Writer, series []Series) error {
	sorted := make([]Series, len(series))
	copy(sorted, series)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PointID < sorted[j].PointID })

	page := components.NewPage()
	page.PageTitle = b.title
	page.SetLayout(components.PageCenterLayout)

	for _, s := range sorted {
		axis := newFrameAxis(s.Observations, b.fps)
		page.AddCharts(
			b.photometryChart(s, axis),
			b.geometryChart(s, axis),
		)
	}
	return page.Render(w)
}

// frameAxis is the shared x axis of one light's charts: every frame between
// the first and last observation, including the missing ones, so gaps render
// as visible discontinuities. Missing frames carry no timestamp of their own,
// so their labels are synthesized from the first observation and the frame
// rate, keeping the whole axis in one time domain.
type frameAxis struct {
	first, last int
	labels      []string
	byFrame     map[int]*papi.Observation
}

func newFrameAxis(obs []papi.Observation, fps float64) *frameAxis {
	a := &frameAxis{byFrame: make(map[int]*papi.Observation, len(obs))}
	if len(obs) == 0 {
		return a
	}

	a.first = obs[0].FrameIndex
	a.last = obs[len(obs)-1].FrameIndex
	for i := range obs {
		a.byFrame[obs[i].FrameIndex] = &obs[i]
	}

	var frameDur time.Duration
	if fps > 0 {
		frameDur = time.Duration(float64(time.Second) / fps)
	}

	a.labels = make([]string, 0, a.last-a.first+1)
	for f := a.first; f <= a.last; f++ {
		switch o, ok := a.byFrame[f]; {
		case ok:
			a.labels = append(a.labels, timeLabel(o.Timestamp))
		case frameDur > 0:
			a.labels = append(a.labels, timeLabel(obs[0].Timestamp.Add(time.Duration(f-a.first)*frameDur)))
		default:
			a.labels = append(a.labels, fmt.Sprintf("frame %d", f))
		}
	}
	return a
}

// seriesData walks the full frame range, yielding nil for missing frames.
// go-echarts renders nil points as breaks in the line, which is exactly the
// gap semantics the report needs.
func (a *frameAxis) seriesData(value func(*papi.Observation) *float64) []opts.LineData {
	data := make([]opts.LineData, 0, a.last-a.first+1)
	for f := a.first; f <= a.last; f++ {
		o, ok := a.byFrame[f]
		if !ok {
			data = append(data, opts.LineData{Value: nil})
			continue
		}
		v := value(o)
		if v == nil {
			data = append(data, opts.LineData{Value: nil})
			continue
		}
		data = append(data, opts.LineData{Value: *v})
	}
	return data
}

func (b *Builder) photometryChart(s Series, axis *frameAxis) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1200px", Height: "380px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s — color and intensity", s.PointID),
			Subtitle: Summarize(s.Observations, b.fps).Line(),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)

	visible := func(o *papi.Observation, v float64) *float64 {
		if o.Category == papi.CategoryNotVisible {
			return nil
		}
		return &v
	}

	line.SetXAxis(axis.labels).
		AddSeries("red", axis.seriesData(func(o *papi.Observation) *float64 { return visible(o, o.MeanR) }),
			charts.WithLineStyleOpts(opts.LineStyle{Color: "#d62728"})).
		AddSeries("green", axis.seriesData(func(o *papi.Observation) *float64 { return visible(o, o.MeanG) }),
			charts.WithLineStyleOpts(opts.LineStyle{Color: "#2ca02c"})).
		AddSeries("blue", axis.seriesData(func(o *papi.Observation) *float64 { return visible(o, o.MeanB) }),
			charts.WithLineStyleOpts(opts.LineStyle{Color: "#1f77b4"})).
		AddSeries("intensity", axis.seriesData(func(o *papi.Observation) *float64 { v := o.Intensity; return &v }),
			charts.WithLineStyleOpts(opts.LineStyle{Color: "#7f7f7f", Type: "dashed"}))
	return line
}

func (b *Builder) geometryChart(s Series, axis *frameAxis) *charts.Line {
	line := charts.NewLine()

	options := []charts.GlobalOpts{
		charts.WithInitializationOpts(opts.Initialization{Width: "1200px", Height: "380px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s — viewing geometry", s.PointID),
			Subtitle: nominalLine(s.Nominal),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "deg"}),
	}
	line.SetGlobalOptions(options...)
	line.ExtendYAxis(opts.YAxis{Name: "m", Type: "value", Show: opts.Bool(true)})

	line.SetXAxis(axis.labels).
		AddSeries("elevation angle", axis.seriesData(func(o *papi.Observation) *float64 { return o.ElevationAngle }),
			charts.WithLineStyleOpts(opts.LineStyle{Color: "#9467bd"})).
		AddSeries("ground distance", axis.seriesData(func(o *papi.Observation) *float64 { return o.GroundDistance }),
			charts.WithLineStyleOpts(opts.LineStyle{Color: "#8c564b"}),
			charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1})).
		AddSeries("slant distance", axis.seriesData(func(o *papi.Observation) *float64 { return o.SlantDistance }),
			charts.WithLineStyleOpts(opts.LineStyle{Color: "#e377c2", Type: "dashed"}),
			charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1}))

	if n := s.Nominal; n != nil && n.NominalAngle != nil {
		line.SetSeriesOptions(charts.WithMarkLineNameYAxisItemOpts(
			opts.MarkLineNameYAxisItem{Name: "nominal", YAxis: *n.NominalAngle},
		))
	}
	return line
}

func nominalLine(n *runway.ReferencePoint) string {
	if n == nil || n.NominalAngle == nil {
		return ""
	}
	if n.AngleTolerance != nil {
		return fmt.Sprintf("nominal %.2f deg, tolerance %.2f deg", *n.NominalAngle, *n.AngleTolerance)
	}
	return fmt.Sprintf("nominal %.2f deg", *n.NominalAngle)
}

func timeLabel(t time.Time) string {
	return t.Format("15:04:05.000")
}
