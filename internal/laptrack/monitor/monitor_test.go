package monitor

import (
	"bytes"
	"context"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/laptrack/internal/laptrack"
	"github.com/banshee-data/laptrack/internal/monitoring"
	"github.com/banshee-data/laptrack/internal/testutil"
)

func trackedSequence(t *testing.T, dims int) *laptrack.Sequence {
	t.Helper()
	seq := laptrack.NewSequence(0)
	for f, p := range testutil.LinePoints(6, [3]float64{0, 0, 0}, 0.3) {
		_, err := seq.Add(f, laptrack.NewDetection(f, p[:dims], nil))
		require.NoError(t, err)
	}
	clutter := make([]float64, dims)
	clutter[0] = -40
	_, err := seq.Add(3, laptrack.NewDetection(100, clutter, nil))
	require.NoError(t, err)

	tr := laptrack.NewTracker(laptrack.DefaultConfig())
	require.NoError(t, tr.Process(context.Background(), seq))
	return seq
}

func quietLogs(t *testing.T) {
	t.Helper()
	original := monitoring.Logf
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.Logf = original })
}

func TestTrajectoryPlotter_PlotAll(t *testing.T) {
	quietLogs(t)
	dir := filepath.Join(t.TempDir(), "plots")
	tp, err := NewTrajectoryPlotter(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, tp.OutputDir())

	files, err := tp.PlotAll(trackedSequence(t, 3), "run")
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "run_xy.png"),
		filepath.Join(dir, "run_frame_x.png"),
	}, files)
	for _, f := range files {
		info, err := os.Stat(f)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}

func TestTrajectoryPlotter_OneDimensional(t *testing.T) {
	quietLogs(t)
	tp, err := NewTrajectoryPlotter(t.TempDir())
	require.NoError(t, err)

	seq := trackedSequence(t, 1)
	files, err := tp.PlotAll(seq, "line")
	require.NoError(t, err)
	assert.Len(t, files, 1, "no spatial view without a y coordinate")

	_, err = tp.Plot(seq, "bad", 0, 1)
	assert.ErrorContains(t, err, "out of range")
}

func TestTrajectoryPlotter_Errors(t *testing.T) {
	_, err := NewTrajectoryPlotter("")
	assert.Error(t, err)

	tp, err := NewTrajectoryPlotter(t.TempDir())
	require.NoError(t, err)
	_, err = tp.Plot(nil, "x", 0, 1)
	assert.Error(t, err)
}

func TestWriteTrajectoryHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTrajectoryHTML(&buf, trackedSequence(t, 2), "spots"))

	html := buf.String()
	assert.Contains(t, html, "<html")
	assert.Contains(t, html, "spots (x, y)")
	assert.Contains(t, html, "spots (frame, x)")
	assert.Contains(t, html, "track 0")
	assert.Contains(t, html, "unlinked")

	assert.Error(t, WriteTrajectoryHTML(&buf, nil, "none"))
	assert.ErrorIs(t, WriteTrajectoryHTML(&buf, laptrack.NewSequence(3), "empty"), laptrack.ErrEmptyInput)
}

func TestGenerateColors(t *testing.T) {
	assert.Nil(t, generateColors(0))

	colors := generateColors(4)
	require.Len(t, colors, 4)
	seen := make(map[string]bool)
	for _, c := range colors {
		seen[hexColor(c)] = true
	}
	assert.Len(t, seen, 4, "colors are distinct")

	assert.Equal(t, "#ff0000", hexColor(color.RGBA{R: 255, A: 255}))
	r, g, b := hslToRGB(0, 0, 0.5)
	assert.Equal(t, r, g)
	assert.Equal(t, g, b)
}

func TestPlotFileName(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"run_xy":           "run_xy",
		"../../etc/passwd": "etc_passwd",
		"my spots (1)":     "my_spots_1",
		"":                 "trajectories",
		"...":              "trajectories",
		"höhe":             "h_he",
	}
	for in, want := range tests {
		assert.Equal(t, want, plotFileName(in), in)
	}
}
