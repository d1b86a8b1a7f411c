package laptrack

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// SegmentCostMatrixCreator builds the stage-2 matrix linking track segments
// by gap closing, merging and splitting.
//
// With S segments and M middle points the top-left block is
//
//	| gap closing (S×S) | merging (S×M) |
//	| splitting (M×S)   | blocked (M×M) |
//
// and the full matrix is 2(S+M) square with alternative diagonals and the
// transposed mirror, as in the frame linking matrix.
type SegmentCostMatrixCreator struct {
	seq      *Sequence
	segments []TrackSegment
	cfg      Config

	checked bool
	m       *mat.Dense
	middle  []Ref
	cutoff  float64
	scores  []float64
}

var _ CostMatrixCreator = (*SegmentCostMatrixCreator)(nil)

// NewSegmentCostMatrixCreator prepares a builder over segments whose
// detections live in seq. The segments must already be linked internally.
func NewSegmentCostMatrixCreator(seq *Sequence, segments []TrackSegment, cfg Config) *SegmentCostMatrixCreator {
	return &SegmentCostMatrixCreator{seq: seq, segments: segments, cfg: cfg}
}

// CheckInput fails with ErrEmptyInput when there are no segments.
func (c *SegmentCostMatrixCreator) CheckInput() error {
	if c.seq == nil {
		return errors.New("segment linking: nil sequence")
	}
	if len(c.segments) == 0 {
		return fmt.Errorf("segment linking: %w: no track segments", ErrEmptyInput)
	}
	for k, seg := range c.segments {
		if seg.Len() == 0 {
			return fmt.Errorf("segment linking: %w: segment %d has no detections", ErrEmptyInput, k)
		}
		for _, r := range seg {
			if c.seq.At(r) == nil {
				return fmt.Errorf("segment linking: segment %d references unknown detection %s", k, r)
			}
		}
	}
	c.checked = true
	return nil
}

// Process computes the matrix and the middle point list.
func (c *SegmentCostMatrixCreator) Process() error {
	if !c.checked {
		return errors.New("segment linking: Process called before CheckInput")
	}
	c.middle = middlePoints(c.segments)
	s, nm := len(c.segments), len(c.middle)
	n := s + nm
	m := newBlockedMatrix(2 * n)
	c.scores = c.scores[:0]

	if c.cfg.AllowGapClosing {
		c.fillGapClosing(m)
	}
	if c.cfg.AllowMerging {
		c.fillMerging(m, s)
	}
	if c.cfg.AllowSplitting {
		c.fillSplitting(m, s)
	}

	c.cutoff = c.alternativeCutoff()
	setAlternativeDiagonal(m, 0, n, n, c.cutoff)
	setAlternativeDiagonal(m, n, 0, n, c.cutoff)
	setLowerRightBlock(m, n, n, c.cutoff)

	c.m = m
	return nil
}

func (c *SegmentCostMatrixCreator) fillGapClosing(m *mat.Dense) {
	window := c.cfg.GapClosingTimeWindow
	for i, si := range c.segments {
		end := c.seq.At(si.End())
		for j, sj := range c.segments {
			if i == j {
				continue
			}
			start := c.seq.At(sj.Start())
			dt := start.Frame() - end.Frame()
			if dt <= 0 || dt > window {
				continue
			}
			d := end.DistanceTo(start)
			if !(d <= c.cfg.GapClosingMaxDistance) {
				continue
			}
			p := featurePenalty(end, start, c.cfg.GapClosingFeaturePenalties)
			c.record(m, i, j, d*d*p*p)
		}
	}
}

func (c *SegmentCostMatrixCreator) fillMerging(m *mat.Dense, s int) {
	maxDist := c.cfg.mergingMaxDistance()
	for i, seg := range c.segments {
		end := c.seq.At(seg.End())
		for j, mr := range c.middle {
			mid := c.seq.At(mr)
			if mid.Frame() != end.Frame()+1 || len(mid.prev) == 0 {
				continue
			}
			d := end.DistanceTo(mid)
			if !(d <= maxDist) {
				continue
			}
			ratio := c.intensityRatio(mid, c.seq.At(mid.prev[0]), end)
			if !c.ratioAllowed(ratio) {
				continue
			}
			p := featurePenalty(end, mid, c.cfg.MergingFeaturePenalties)
			c.record(m, i, s+j, d*d*intensityPenalty(ratio)*p*p)
		}
	}
}

func (c *SegmentCostMatrixCreator) fillSplitting(m *mat.Dense, s int) {
	maxDist := c.cfg.splittingMaxDistance()
	for i, mr := range c.middle {
		mid := c.seq.At(mr)
		if len(mid.next) == 0 {
			continue
		}
		for j, seg := range c.segments {
			start := c.seq.At(seg.Start())
			if mid.Frame() != start.Frame()-1 {
				continue
			}
			d := mid.DistanceTo(start)
			if !(d <= maxDist) {
				continue
			}
			ratio := c.intensityRatio(mid, c.seq.At(mid.next[0]), start)
			if !c.ratioAllowed(ratio) {
				continue
			}
			p := featurePenalty(mid, start, c.cfg.SplittingFeaturePenalties)
			c.record(m, s+i, j, d*d*intensityPenalty(ratio)*p*p)
		}
	}
}

// intensityRatio is I(mid) / (I(neighbour) + I(other)), where neighbour is
// the middle point's own predecessor (merge) or successor (split) and other
// is the end or start of the segment being attached.
func (c *SegmentCostMatrixCreator) intensityRatio(mid, neighbour, other *Detection) float64 {
	if neighbour == nil {
		return math.NaN()
	}
	name := c.cfg.intensityFeature()
	iMid, _ := mid.Feature(name)
	iNeighbour, _ := neighbour.Feature(name)
	iOther, _ := other.Feature(name)
	return iMid / (iNeighbour + iOther)
}

func (c *SegmentCostMatrixCreator) ratioAllowed(ratio float64) bool {
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return false
	}
	lo, hi := c.cfg.IntensityRatioCutoffs[0], c.cfg.IntensityRatioCutoffs[1]
	return ratio >= lo && ratio <= hi
}

func (c *SegmentCostMatrixCreator) record(m *mat.Dense, i, j int, score float64) {
	m.Set(i, j, score)
	c.scores = append(c.scores, score)
}

// alternativeCutoff is the configured percentile of the finite score pool
// times the alternative cost factor. An empty pool yields the factor alone.
func (c *SegmentCostMatrixCreator) alternativeCutoff() float64 {
	if len(c.scores) == 0 {
		return alternativeCost(1, c.cfg.AlternativeCostFactor)
	}
	sorted := slices.Clone(c.scores)
	slices.Sort(sorted)
	return alternativeCost(percentile(sorted, c.cfg.CutoffPercentile), c.cfg.AlternativeCostFactor)
}

// percentile estimates the p-th percentile of sorted by interpolating at
// position p·(n+1), clamped to the smallest and largest values.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	switch n {
	case 0:
		return math.NaN()
	case 1:
		return sorted[0]
	}
	pos := p * float64(n+1)
	if pos < 1 {
		return sorted[0]
	}
	if pos >= float64(n) {
		return sorted[n-1]
	}
	lo := int(math.Floor(pos))
	frac := pos - float64(lo)
	return sorted[lo-1] + frac*(sorted[lo]-sorted[lo-1])
}

// ScoreMean is the mean of the finite scores, or 0 when there are none.
func (c *SegmentCostMatrixCreator) ScoreMean() float64 {
	if len(c.scores) == 0 {
		return 0
	}
	return stat.Mean(c.scores, nil)
}

// CostMatrix returns the matrix built by Process, or nil.
func (c *SegmentCostMatrixCreator) CostMatrix() *mat.Dense { return c.m }

// MiddlePoints returns the middle points in the order their rows and columns
// appear in the matrix.
func (c *SegmentCostMatrixCreator) MiddlePoints() []Ref { return slices.Clone(c.middle) }

// Cutoff is the alternative cost placed on the no-link diagonals.
func (c *SegmentCostMatrixCreator) Cutoff() float64 { return c.cutoff }

// FiniteScores is the number of allowed gap closing, merging and splitting
// pairings.
func (c *SegmentCostMatrixCreator) FiniteScores() int { return len(c.scores) }

// middlePoints lists the non-terminal detections of every segment, in
// segment order then position order.
func middlePoints(segments []TrackSegment) []Ref {
	var out []Ref
	for _, seg := range segments {
		if seg.Len() < 3 {
			continue
		}
		out = append(out, seg[1:len(seg)-1]...)
	}
	return out
}

// BuildSegmentLinkingCostMatrix builds the stage-2 matrix and returns it
// together with the middle points indexing its merge and split blocks.
func BuildSegmentLinkingCostMatrix(seq *Sequence, segments []TrackSegment, cfg Config) (*mat.Dense, []Ref, error) {
	c := NewSegmentCostMatrixCreator(seq, segments, cfg)
	if err := c.CheckInput(); err != nil {
		return nil, nil, err
	}
	if err := c.Process(); err != nil {
		return nil, nil, err
	}
	return c.CostMatrix(), c.MiddlePoints(), nil
}
