package monitor

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/laptrack/internal/laptrack"
)

// trajectoryChart builds a line chart with one series per trajectory and a
// grey scatter series for unlinked detections.
func trajectoryChart(seq *laptrack.Sequence, title string, x, y Axis) *charts.Line {
	trajs := laptrack.Trajectories(seq)
	colors := generateColors(len(trajs))

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: fmt.Sprintf("frames=%d detections=%d trajectories=%d", seq.FrameCount(), seq.Len(), len(trajs)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Type: "scroll", Orient: "vertical", Right: "10", Top: "40"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: x.label(), NameLocation: "middle", NameGap: 25, Scale: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: y.label(), NameLocation: "middle", NameGap: 30, Scale: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside", XAxisIndex: []int{0}}),
	)

	inTrack := make(map[laptrack.Ref]bool)
	for i, traj := range trajs {
		data := make([]opts.LineData, 0, len(traj.Detections))
		for _, r := range traj.Detections {
			inTrack[r] = true
			data = append(data, opts.LineData{
				Name:  r.String(),
				Value: []interface{}{x.value(seq, r), y.value(seq, r)},
			})
		}
		c := hexColor(colors[i])
		line.AddSeries(fmt.Sprintf("track %d", i), data,
			charts.WithLineStyleOpts(opts.LineStyle{Color: c, Width: 1}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: c}),
		)
	}

	var loose []opts.LineData
	for _, r := range seq.Refs() {
		if !inTrack[r] {
			loose = append(loose, opts.LineData{Name: r.String(), Value: []interface{}{x.value(seq, r), y.value(seq, r)}})
		}
	}
	if len(loose) > 0 {
		line.AddSeries("unlinked", loose,
			charts.WithLineStyleOpts(opts.LineStyle{Width: 0}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: "#9e9e9e"}),
		)
	}
	return line
}

// WriteTrajectoryHTML renders an HTML page with the spatial view of every
// trajectory (when the detections have at least two coordinates) and a
// frame against x view.
func WriteTrajectoryHTML(w io.Writer, seq *laptrack.Sequence, title string) error {
	if seq == nil {
		return errors.New("nil sequence")
	}
	if seq.Dims() == 0 {
		return fmt.Errorf("render trajectories: %w", laptrack.ErrEmptyInput)
	}

	page := components.NewPage()
	page.PageTitle = title
	if seq.Dims() >= 2 {
		page.AddCharts(trajectoryChart(seq, title+" (x, y)", 0, 1))
	}
	page.AddCharts(trajectoryChart(seq, title+" (frame, x)", AxisFrame, 0))

	if err := page.Render(w); err != nil {
		return fmt.Errorf("render trajectories: %w", err)
	}
	return nil
}
