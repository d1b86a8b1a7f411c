package laptrack

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/laptrack/internal/laptrack/debug"
)

// chainWithClutter returns 6 frames of 3 detections: index 0 walks slowly
// along x, indices 1 and 2 jump too far to link anywhere.
func chainWithClutter() [][]spot {
	frames := make([][]spot, 6)
	for f := range frames {
		fx := float64(f)
		frames[f] = []spot{
			{x: 0.1 * fx},
			{x: 100 + 10*fx},
			{y: 100 + 10*fx},
		}
	}
	return frames
}

func TestTracker_SegmentFiltering(t *testing.T) {
	seq := buildSequence(t, chainWithClutter())
	tr := NewTracker(testConfig())
	require.NoError(t, tr.Process(context.Background(), seq))

	segments := tr.Segments()
	require.Len(t, segments, 1)
	want := TrackSegment{{0, 0}, {1, 0}, {2, 0}, {3, 0}, {4, 0}, {5, 0}}
	assert.Equal(t, want, segments[0])

	for f := 0; f < 6; f++ {
		for _, idx := range []int{1, 2} {
			d := seq.At(Ref{f, idx})
			assert.Empty(t, d.Next(), "clutter %d:%d linked forward", f, idx)
			assert.Empty(t, d.Prev(), "clutter %d:%d linked backward", f, idx)
		}
	}

	trajs := Trajectories(seq)
	require.Len(t, trajs, 1)
	assert.Equal(t, []Ref(want), trajs[0].Detections)
}

func TestTracker_FrameLinkingAssignments(t *testing.T) {
	seq := buildSequence(t, chainWithClutter())
	tr := NewTracker(testConfig())
	require.NoError(t, tr.Process(context.Background(), seq))

	as := tr.FrameLinkingAssignments(0)
	require.Len(t, as, 6)
	assert.True(t, hasAssignment(as, 0, 0))
	assert.Nil(t, tr.FrameLinkingAssignments(5))
	assert.Nil(t, tr.FrameLinkingAssignments(-1))
}

func TestTracker_Idempotent(t *testing.T) {
	frames := chainWithClutter()
	seq := buildSequence(t, frames)
	require.NoError(t, TrackObjects(seq, testConfig()))
	first := seq.Links()
	require.NotEmpty(t, first)

	require.NoError(t, TrackObjects(seq, testConfig()))
	if diff := cmp.Diff(first, seq.Links()); diff != "" {
		t.Errorf("second run changed the link graph (-first +second):\n%s", diff)
	}

	fresh := buildSequence(t, frames)
	cfg := testConfig()
	cfg.Workers = 1
	require.NoError(t, TrackObjects(fresh, cfg))
	if diff := cmp.Diff(first, fresh.Links()); diff != "" {
		t.Errorf("worker count changed the link graph (-parallel +serial):\n%s", diff)
	}
}

// mergeFrames builds segment A (frames 0-4, x=0) and segment B (frames 0-2,
// x=0.5) whose end merges into A at frame 3.
func mergeFrames() [][]spot {
	frames := make([][]spot, 5)
	intens := []float64{1, 1, 1, 2, 2}
	for f := range frames {
		frames[f] = []spot{{x: 0, intensity: intens[f]}}
	}
	for f := 0; f < 3; f++ {
		frames[f] = append(frames[f], spot{x: 0.5, intensity: 1})
	}
	return frames
}

func TestTracker_Merging(t *testing.T) {
	seq := buildSequence(t, mergeFrames())
	collector := debug.NewLinkCollector(true)
	tr := NewTracker(testConfig())
	tr.SetCollector(collector)
	require.NoError(t, tr.Process(context.Background(), seq))

	require.Len(t, tr.Segments(), 2)
	assert.ElementsMatch(t, []Ref{{2, 0}, {2, 1}}, seq.At(Ref{3, 0}).Prev())

	trajs := Trajectories(seq)
	require.Len(t, trajs, 1)
	assert.Len(t, trajs[0].Detections, 8)

	rec := collector.Emit()
	require.NotNil(t, rec)
	assert.Len(t, rec.FramePairs, 4)
	require.NotNil(t, rec.Segments)
	assert.Equal(t, 2, rec.Segments.Segments)
	assert.Equal(t, 4, rec.Segments.MiddlePoints)
	require.Len(t, rec.Links, 1)
	assert.Equal(t, LinkMerging, rec.Links[0].Kind)
	assert.Equal(t, 2, rec.Links[0].FromFrame)
	assert.Equal(t, 3, rec.Links[0].ToFrame)
}

func TestTracker_MergingDisabled(t *testing.T) {
	seq := buildSequence(t, mergeFrames())
	cfg := testConfig()
	cfg.AllowMerging = false
	require.NoError(t, TrackObjects(seq, cfg))

	assert.Equal(t, []Ref{{2, 0}}, seq.At(Ref{3, 0}).Prev())
	assert.Len(t, Trajectories(seq), 2)
}

func TestTracker_Splitting(t *testing.T) {
	// Segment A: frames 0-4 at x=0. Segment B: frames 2-4 at x=0.5, split
	// from A's middle point at frame 1. Ratio = 2 / (1 + 1) = 1.
	intens := []float64{2, 2, 1, 1, 1}
	frames := make([][]spot, 5)
	for f := range frames {
		frames[f] = []spot{{x: 0, intensity: intens[f]}}
	}
	for f := 2; f < 5; f++ {
		frames[f] = append(frames[f], spot{x: 0.5, intensity: 1})
	}
	seq := buildSequence(t, frames)
	require.NoError(t, TrackObjects(seq, testConfig()))

	assert.ElementsMatch(t, []Ref{{2, 0}, {2, 1}}, seq.At(Ref{1, 0}).Next())
	assert.Equal(t, []Ref{{1, 0}}, seq.At(Ref{2, 1}).Prev())
	assert.Len(t, Trajectories(seq), 1)
}

func TestTracker_GapClosing(t *testing.T) {
	// One object at x=0 vanishes for frame 3 and reappears at frame 4.
	frames := make([][]spot, 8)
	for f := range frames {
		if f == 3 {
			continue
		}
		frames[f] = []spot{{x: 0.05 * float64(f)}}
	}
	seq := buildSequence(t, frames)
	tr := NewTracker(testConfig())
	require.NoError(t, tr.Process(context.Background(), seq))

	require.Len(t, tr.Segments(), 2)
	assert.Equal(t, []Ref{{4, 0}}, seq.At(Ref{2, 0}).Next())
	trajs := Trajectories(seq)
	require.Len(t, trajs, 1)
	first, last := trajs[0].Frames()
	assert.Equal(t, 0, first)
	assert.Equal(t, 7, last)
	assert.Len(t, trajs[0].Edges(seq), 6)
}

func TestTracker_GapClosingAtCutoffPercentile(t *testing.T) {
	// C: frames 0-2 at (0,10). D: frames 4-6 at (0,12), a gap of distance 2.
	// E: frames 0-2 at (20,0). F: frames 3-5 at (21,0), a gap of distance 1.
	// The score pool is {1, 4}; at the 90th percentile the cutoff is 4.2.
	frames := make([][]spot, 7)
	for f := 0; f < 3; f++ {
		frames[f] = append(frames[f], spot{y: 10}, spot{x: 20})
	}
	for f := 3; f < 6; f++ {
		frames[f] = append(frames[f], spot{x: 21})
	}
	for f := 4; f < 7; f++ {
		frames[f] = append([]spot{{y: 12}}, frames[f]...)
	}
	seq := buildSequence(t, frames)

	cfg := testConfig()
	cfg.MaxLinkingDistance = 0.5
	cfg.CutoffPercentile = 0.9
	collector := debug.NewLinkCollector(true)
	tr := NewTracker(cfg)
	tr.SetCollector(collector)
	require.NoError(t, tr.Process(context.Background(), seq))

	require.Len(t, tr.Segments(), 4)
	rec := collector.Emit()
	require.NotNil(t, rec.Segments)
	assert.Equal(t, 2, rec.Segments.FiniteScores)
	assert.InDelta(t, 2.5, rec.Segments.ScoreMean, 1e-12)
	assert.InDelta(t, 4.2, rec.Segments.Cutoff, 1e-12)

	assert.Equal(t, []Ref{{4, 0}}, seq.At(Ref{2, 0}).Next(), "C closes its gap to D")
	assert.Equal(t, []Ref{{3, 0}}, seq.At(Ref{2, 1}).Next(), "E closes its gap to F")
	assert.Len(t, Trajectories(seq), 2)
}

func TestTracker_InputErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		seq    func(t *testing.T) *Sequence
		target error
	}{
		{"nil sequence", func(*testing.T) *Sequence { return nil }, ErrInsufficientData},
		{"single frame", func(t *testing.T) *Sequence { return buildSequence(t, [][]spot{{{x: 0}}}) }, ErrInsufficientData},
		{"all frames empty", func(*testing.T) *Sequence { return NewSequence(4) }, ErrInsufficientData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := TrackObjects(tt.seq(t), testConfig())
			require.ErrorIs(t, err, tt.target)
			var se *StageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, StageInput, se.Stage)
		})
	}
}

func TestTracker_InvalidConfig(t *testing.T) {
	seq := buildSequence(t, chainWithClutter())
	cfg := testConfig()
	cfg.MaxLinkingDistance = 0
	err := TrackObjects(seq, cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestTracker_NoSegmentsClearsLinks(t *testing.T) {
	// Everything is clutter: no segment reaches the minimum length.
	frames := make([][]spot, 4)
	for f := range frames {
		frames[f] = []spot{{x: 10 * float64(f)}}
	}
	seq := buildSequence(t, frames)
	err := TrackObjects(seq, testConfig())
	require.ErrorIs(t, err, ErrEmptyInput)

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageSegmentLinking, se.Stage)
	assert.Equal(t, -1, se.Frame)
	assert.Empty(t, seq.Links())
}

func TestTracker_Cancelled(t *testing.T) {
	seq := buildSequence(t, chainWithClutter())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewTracker(testConfig()).Process(ctx, seq)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, seq.Links())
}

func TestTracker_LogStreams(t *testing.T) {
	var ops, diag, trace bytes.Buffer
	SetLogWriters(LogWriters{Ops: &ops, Diag: &diag, Trace: &trace})
	defer SetLogWriters(LogWriters{})

	seq := buildSequence(t, mergeFrames())
	require.NoError(t, TrackObjects(seq, testConfig()))

	assert.Contains(t, ops.String(), "tracked 8 detections over 5 frames")
	assert.Contains(t, diag.String(), "segment linking: 2 segments, 4 middle points")
	assert.True(t, strings.Contains(trace.String(), "merging 2:1 -> 3:0"), trace.String())
}

func TestStageError_Message(t *testing.T) {
	err := &StageError{Stage: StageFrameLinking, Frame: 3, Err: ErrInvalidMatrix}
	assert.Equal(t, "frame-linking stage failed for frames 3-4: invalid cost matrix", err.Error())
	assert.ErrorIs(t, err, ErrInvalidMatrix)

	err = &StageError{Stage: StageSegmentLinking, Frame: -1, Err: ErrEmptyInput}
	assert.Equal(t, "segment-linking stage failed: empty input", err.Error())
}
