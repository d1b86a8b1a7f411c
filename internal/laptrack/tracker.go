package laptrack

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/laptrack/internal/laptrack/debug"
)

// framePairResult is the per-pair output slot written by exactly one stage-1
// worker.
type framePairResult struct {
	skipped     bool
	assignments []Assignment
}

// Tracker runs the two-stage LAP pipeline over a Sequence and keeps the
// intermediate results of its last run for inspection.
type Tracker struct {
	cfg       Config
	collector *debug.LinkCollector

	pairs         []framePairResult
	segments      []TrackSegment
	segmentMatrix *mat.Dense
	middle        []Ref
}

// NewTracker creates a tracker with the given configuration.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg}
}

// SetCollector attaches a debug collector. Pass nil to detach.
func (t *Tracker) SetCollector(c *debug.LinkCollector) {
	t.collector = c
}

// Process links every detection of seq in place. Existing links are cleared
// first, so repeated runs on the same input produce the same graph. On
// failure the sequence is left with no links and the error is a *StageError.
func (t *Tracker) Process(ctx context.Context, seq *Sequence) error {
	t.reset()
	if err := t.cfg.Validate(); err != nil {
		return &StageError{Stage: StageInput, Frame: -1, Err: err}
	}
	if err := checkSequence(seq); err != nil {
		return &StageError{Stage: StageInput, Frame: -1, Err: err}
	}
	seq.ResetLinks()

	start := time.Now()
	err := t.run(ctx, seq)
	if err != nil {
		seq.ResetLinks()
		t.reset()
		Opsf("tracking failed after %v: %v", time.Since(start), err)
		return err
	}
	Opsf("tracked %d detections over %d frames: %d segments, %d links in %v",
		seq.Len(), seq.FrameCount(), len(t.segments), len(seq.Links()), time.Since(start))
	return nil
}

func (t *Tracker) run(ctx context.Context, seq *Sequence) error {
	if err := t.linkFrames(ctx, seq); err != nil {
		return err
	}

	links := initializeLinkArrays(seq)
	for f, res := range t.pairs {
		if !res.skipped {
			extendLinkArrays(links, res.assignments, f)
		}
	}
	segments, err := compileTrackSegments(seq, links, t.cfg.MinSegmentLength)
	if err != nil {
		return &StageError{Stage: StageFrameLinking, Frame: -1, Err: err}
	}
	t.segments = segments

	if err := ctx.Err(); err != nil {
		return &StageError{Stage: StageSegmentLinking, Frame: -1, Err: err}
	}
	if err := t.linkSegments(seq); err != nil {
		return &StageError{Stage: StageSegmentLinking, Frame: -1, Err: err}
	}
	return nil
}

// linkFrames solves every consecutive frame pair, bounded by cfg.Workers.
// Each worker writes only its own slot of t.pairs.
func (t *Tracker) linkFrames(ctx context.Context, seq *Sequence) error {
	t.pairs = make([]framePairResult, seq.FrameCount()-1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.workers())
	for f := range t.pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return &StageError{Stage: StageFrameLinking, Frame: f, Err: err}
			}
			res, err := t.linkFramePair(seq, f)
			if err != nil {
				return &StageError{Stage: StageFrameLinking, Frame: f, Err: err}
			}
			t.pairs[f] = res
			return nil
		})
	}
	return g.Wait()
}

func (t *Tracker) linkFramePair(seq *Sequence, f int) (framePairResult, error) {
	frameT, frameT1 := seq.Frame(f), seq.Frame(f+1)
	if len(frameT)+len(frameT1) == 0 {
		return framePairResult{skipped: true}, nil
	}

	c := NewFrameLinkingCostMatrixCreator(frameT, frameT1, t.cfg)
	if err := c.CheckInput(); err != nil {
		return framePairResult{}, err
	}
	if err := c.Process(); err != nil {
		return framePairResult{}, err
	}
	m := c.CostMatrix()
	if traceEnabled() {
		Tracef("frames %d-%d cost matrix:\n%v", f, f+1, mat.Formatted(m, mat.Squeeze()))
	}

	assignments, err := SolveAssignment(m)
	if err != nil {
		return framePairResult{}, err
	}

	// Drop real-to-real pairs the solver could only have reached through a
	// blocked entry.
	n0, n1 := len(frameT), len(frameT1)
	kept := assignments[:0]
	linked := 0
	for _, a := range assignments {
		if a.Row < n0 && a.Col < n1 {
			if isBlocked(m.At(a.Row, a.Col)) {
				continue
			}
			linked++
		}
		kept = append(kept, a)
	}

	Diagf("frames %d-%d: %d+%d detections, %d gated pairs, %d links, alternative cost %.4g",
		f, f+1, n0, n1, c.FinitePairs(), linked, c.AlternativeCost())
	t.collector.RecordFramePair(debug.FramePairRecord{
		Frame:           f,
		MatrixSize:      n0 + n1,
		FinitePairs:     c.FinitePairs(),
		Links:           linked,
		AlternativeCost: c.AlternativeCost(),
	})
	return framePairResult{assignments: kept}, nil
}

func (t *Tracker) linkSegments(seq *Sequence) error {
	c := NewSegmentCostMatrixCreator(seq, t.segments, t.cfg)
	if err := c.CheckInput(); err != nil {
		return err
	}
	if err := c.Process(); err != nil {
		return err
	}
	m := c.CostMatrix()
	t.segmentMatrix = m
	t.middle = c.MiddlePoints()

	size, _ := m.Dims()
	Diagf("segment linking: %d segments, %d middle points, %d scores (mean %.4g), cutoff %.4g",
		len(t.segments), len(t.middle), c.FiniteScores(), c.ScoreMean(), c.Cutoff())
	t.collector.RecordSegmentStage(debug.SegmentStageRecord{
		Segments:     len(t.segments),
		MiddlePoints: len(t.middle),
		MatrixSize:   size,
		FiniteScores: c.FiniteScores(),
		ScoreMean:    c.ScoreMean(),
		Cutoff:       c.Cutoff(),
	})
	if traceEnabled() {
		Tracef("segment cost matrix:\n%v", mat.Formatted(m, mat.Squeeze()))
	}

	assignments, err := SolveAssignment(m)
	if err != nil {
		return err
	}
	links := classifySegmentAssignments(t.segments, t.middle, m, assignments)
	for _, l := range links {
		t.collector.RecordLink(debug.LinkEvent{
			Kind:      l.Kind,
			FromFrame: l.From.Frame,
			FromIndex: l.From.Index,
			ToFrame:   l.To.Frame,
			ToIndex:   l.To.Index,
			Cost:      l.Cost,
		})
	}
	return linkSegments(seq, links)
}

func (t *Tracker) reset() {
	t.pairs = nil
	t.segments = nil
	t.segmentMatrix = nil
	t.middle = nil
}

// checkSequence rejects input with fewer than two frames or no detections.
func checkSequence(seq *Sequence) error {
	if seq == nil {
		return fmt.Errorf("%w: nil sequence", ErrInsufficientData)
	}
	if seq.FrameCount() < 2 {
		return fmt.Errorf("%w: need at least 2 frames, got %d", ErrInsufficientData, seq.FrameCount())
	}
	if seq.Len() == 0 {
		return fmt.Errorf("%w: all %d frames are empty", ErrInsufficientData, seq.FrameCount())
	}
	return nil
}

// Segments returns the track segments retained by the last run.
func (t *Tracker) Segments() []TrackSegment {
	out := make([]TrackSegment, len(t.segments))
	for i, s := range t.segments {
		out[i] = append(TrackSegment(nil), s...)
	}
	return out
}

// SegmentCostMatrix returns the stage-2 matrix of the last run, or nil.
func (t *Tracker) SegmentCostMatrix() *mat.Dense {
	if t.segmentMatrix == nil {
		return nil
	}
	return mat.DenseCopyOf(t.segmentMatrix)
}

// MiddlePoints returns the middle points of the last stage-2 matrix.
func (t *Tracker) MiddlePoints() []Ref {
	return append([]Ref(nil), t.middle...)
}

// FrameLinkingAssignments returns the solver output for frame pair
// (frame, frame+1) of the last run, or nil if the pair was skipped.
func (t *Tracker) FrameLinkingAssignments(frame int) []Assignment {
	if frame < 0 || frame >= len(t.pairs) || t.pairs[frame].skipped {
		return nil
	}
	return append([]Assignment(nil), t.pairs[frame].assignments...)
}

// TrackObjects links every detection of seq in place using cfg.
func TrackObjects(seq *Sequence, cfg Config) error {
	return NewTracker(cfg).Process(context.Background(), seq)
}
