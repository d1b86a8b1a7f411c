// Package monitor renders tracked trajectories for offline inspection: PNG
// plots through gonum/plot and interactive HTML charts through go-echarts.
package monitor

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/laptrack/internal/laptrack"
	"github.com/banshee-data/laptrack/internal/monitoring"
)

// Axis selects the value plotted for a detection. Axes 0..Dims-1 are
// coordinates; AxisFrame is the frame number.
type Axis int

const AxisFrame Axis = -1

func (a Axis) label() string {
	switch a {
	case AxisFrame:
		return "Frame"
	case 0:
		return "X"
	case 1:
		return "Y"
	case 2:
		return "Z"
	}
	return fmt.Sprintf("c%d", int(a))
}

func (a Axis) value(seq *laptrack.Sequence, r laptrack.Ref) float64 {
	if a == AxisFrame {
		return float64(r.Frame)
	}
	return seq.At(r).Coords[a]
}

// TrajectoryPlotter writes one line per trajectory to PNG files under
// outputDir.
type TrajectoryPlotter struct {
	outputDir string
	width     vg.Length
	height    vg.Length
}

// NewTrajectoryPlotter creates the output directory if needed.
func NewTrajectoryPlotter(outputDir string) (*TrajectoryPlotter, error) {
	if outputDir == "" {
		return nil, errors.New("plot output directory is required")
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create plot dir: %w", err)
	}
	return &TrajectoryPlotter{
		outputDir: outputDir,
		width:     14 * vg.Inch,
		height:    6 * vg.Inch,
	}, nil
}

// OutputDir returns the directory plots are written to.
func (tp *TrajectoryPlotter) OutputDir() string {
	return tp.outputDir
}

// Plot writes name.png with every trajectory of seq drawn as x against y.
// Unlinked detections are drawn as grey points.
func (tp *TrajectoryPlotter) Plot(seq *laptrack.Sequence, name string, x, y Axis) (string, error) {
	if seq == nil {
		return "", errors.New("nil sequence")
	}
	for _, a := range []Axis{x, y} {
		if a != AxisFrame && (a < 0 || int(a) >= seq.Dims()) {
			return "", fmt.Errorf("axis %d out of range for %d-dimensional detections", int(a), seq.Dims())
		}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - %s vs %s", name, y.label(), x.label())
	p.X.Label.Text = x.label()
	p.Y.Label.Text = y.label()

	trajs := laptrack.Trajectories(seq)
	colors := generateColors(len(trajs))
	inTrack := make(map[laptrack.Ref]bool)
	for i, traj := range trajs {
		pts := make(plotter.XYs, len(traj.Detections))
		for k, r := range traj.Detections {
			inTrack[r] = true
			pts[k].X = x.value(seq, r)
			pts[k].Y = y.value(seq, r)
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return "", fmt.Errorf("trajectory %d line: %w", i, err)
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		p.Add(line)
		if len(trajs) <= 20 {
			p.Legend.Add(fmt.Sprintf("track %d", i), line)
		}
	}

	var loose plotter.XYs
	for _, r := range seq.Refs() {
		if !inTrack[r] {
			loose = append(loose, plotter.XY{X: x.value(seq, r), Y: y.value(seq, r)})
		}
	}
	if len(loose) > 0 {
		sc, err := plotter.NewScatter(loose)
		if err != nil {
			return "", fmt.Errorf("unlinked scatter: %w", err)
		}
		sc.GlyphStyle.Color = color.Gray{Y: 160}
		sc.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(sc)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	file := filepath.Join(tp.outputDir, plotFileName(name)+".png")
	if err := p.Save(tp.width, tp.height, file); err != nil {
		return "", fmt.Errorf("save trajectory plot: %w", err)
	}
	monitoring.Logf("[monitor] wrote %d trajectories to %s", len(trajs), file)
	return file, nil
}

// PlotAll writes the spatial view (x vs y, or frame vs x for 1-D data) and a
// frame vs x kymograph.
func (tp *TrajectoryPlotter) PlotAll(seq *laptrack.Sequence, name string) ([]string, error) {
	var files []string
	if seq.Dims() >= 2 {
		f, err := tp.Plot(seq, name+"_xy", 0, 1)
		if err != nil {
			return files, err
		}
		files = append(files, f)
	}
	f, err := tp.Plot(seq, name+"_frame_x", AxisFrame, 0)
	if err != nil {
		return files, err
	}
	return append(files, f), nil
}

// plotFileName keeps ASCII letters, digits, dot, underscore and dash and
// folds every other run of characters into one underscore.
func plotFileName(name string) string {
	const maxLen = 128
	var b strings.Builder
	pending := false
	for _, r := range name {
		if b.Len() >= maxLen {
			break
		}
		ok := r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '_' || r == '-')
		if !ok {
			pending = true
			continue
		}
		if pending && b.Len() > 0 {
			b.WriteByte('_')
		}
		pending = false
		b.WriteRune(r)
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "trajectories"
	}
	return out
}

// generateColors creates a palette of distinct colors for trajectory lines
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

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}

// hexColor formats c as #rrggbb for HTML charts.
func hexColor(c color.Color) string {
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8)
}
