// Package debug provides instrumentation for the LAP tracker.
// The LinkCollector captures linking internals (matrix sizes, gated pairs,
// alternative costs, stage-2 link decisions) for inspection and tuning.
package debug

import (
	"cmp"
	"slices"
	"sync"
)

// Pre-allocation capacities. Typical runs have a few hundred frames and a
// few dozen segment links.
const (
	defaultFramePairCapacity = 256
	defaultLinkEventCapacity = 32
)

// LinkCollector accumulates debug artifacts during a single tracking run.
// Frame pairs are linked concurrently, so every Record method is safe for
// concurrent use.
//
// Call Record*() during processing, then Emit() once the run completes to
// extract the artifacts. Reset() before the next run.
type LinkCollector struct {
	mu      sync.Mutex
	enabled bool
	current *RunRecord
}

// RunRecord contains all debug artifacts for one tracking run.
type RunRecord struct {
	FramePairs []FramePairRecord
	Segments   *SegmentStageRecord
	Links      []LinkEvent
}

// FramePairRecord summarises the stage-1 problem for frames (Frame, Frame+1).
type FramePairRecord struct {
	Frame           int
	MatrixSize      int     // Side of the square cost matrix
	FinitePairs     int     // Detection pairs inside the linking gate
	Links           int     // Real-to-real links chosen by the solver
	AlternativeCost float64 // No-link cost on the alternative diagonals
}

// SegmentStageRecord summarises the stage-2 problem.
type SegmentStageRecord struct {
	Segments     int
	MiddlePoints int
	MatrixSize   int
	FiniteScores int
	ScoreMean    float64
	Cutoff       float64
}

// LinkEvent is one stage-2 link: gap closing, merging or splitting.
type LinkEvent struct {
	Kind      string
	FromFrame int
	FromIndex int
	ToFrame   int
	ToIndex   int
	Cost      float64
}

// NewLinkCollector creates a collector. A disabled collector turns every
// Record call into a no-op.
func NewLinkCollector(enabled bool) *LinkCollector {
	c := &LinkCollector{enabled: enabled}
	c.Reset()
	return c
}

// SetEnabled controls whether the collector records artifacts.
func (c *LinkCollector) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// IsEnabled returns true if the collector is actively recording.
func (c *LinkCollector) IsEnabled() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// RecordFramePair records the stage-1 summary of one frame pair.
func (c *LinkCollector) RecordFramePair(rec FramePairRecord) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.current.FramePairs = append(c.current.FramePairs, rec)
}

// RecordSegmentStage records the stage-2 matrix summary.
func (c *LinkCollector) RecordSegmentStage(rec SegmentStageRecord) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	r := rec
	c.current.Segments = &r
}

// RecordLink records one stage-2 link.
func (c *LinkCollector) RecordLink(ev LinkEvent) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.current.Links = append(c.current.Links, ev)
}

// Emit returns the collected artifacts, or nil if the collector is disabled.
// Frame pair records are returned in frame order.
func (c *LinkCollector) Emit() *RunRecord {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return nil
	}
	out := &RunRecord{
		FramePairs: append([]FramePairRecord(nil), c.current.FramePairs...),
		Links:      append([]LinkEvent(nil), c.current.Links...),
	}
	sortFramePairs(out.FramePairs)
	if c.current.Segments != nil {
		s := *c.current.Segments
		out.Segments = &s
	}
	return out
}

// Reset clears collected artifacts.
func (c *LinkCollector) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = &RunRecord{
		FramePairs: make([]FramePairRecord, 0, defaultFramePairCapacity),
		Links:      make([]LinkEvent, 0, defaultLinkEventCapacity),
	}
}

func sortFramePairs(recs []FramePairRecord) {
	slices.SortStableFunc(recs, func(a, b FramePairRecord) int {
		return cmp.Compare(a.Frame, b.Frame)
	})
}
