package laptrack

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// FrameLinkingCostMatrixCreator builds the stage-1 cost matrix linking the
// detections of frame t to those of frame t+1.
//
// With n0 detections in frame t and n1 in frame t+1 the matrix is
// (n0+n1)×(n0+n1):
//
//	| linking costs (n0×n1)     | no-link for t (n0×n0)  |
//	| no-link for t+1 (n1×n1)   | transposed mirror      |
type FrameLinkingCostMatrixCreator struct {
	frameT  []Detection
	frameT1 []Detection
	cfg     Config

	checked     bool
	m           *mat.Dense
	maxScore    float64
	finitePairs int
	altCost     float64
}

var _ CostMatrixCreator = (*FrameLinkingCostMatrixCreator)(nil)

// NewFrameLinkingCostMatrixCreator prepares a builder for one frame pair.
func NewFrameLinkingCostMatrixCreator(frameT, frameT1 []Detection, cfg Config) *FrameLinkingCostMatrixCreator {
	return &FrameLinkingCostMatrixCreator{frameT: frameT, frameT1: frameT1, cfg: cfg}
}

// CheckInput fails with ErrEmptyInput when both frames are empty.
func (c *FrameLinkingCostMatrixCreator) CheckInput() error {
	if len(c.frameT)+len(c.frameT1) == 0 {
		return fmt.Errorf("frame linking: %w: both frames have no detections", ErrEmptyInput)
	}
	if !(c.cfg.MaxLinkingDistance > 0) {
		return fmt.Errorf("frame linking: %w: max linking distance must be positive", ErrInvalidConfig)
	}
	c.checked = true
	return nil
}

// Process computes the matrix. CheckInput must have succeeded first.
func (c *FrameLinkingCostMatrixCreator) Process() error {
	if !c.checked {
		return errors.New("frame linking: Process called before CheckInput")
	}
	n0, n1 := len(c.frameT), len(c.frameT1)
	m := newBlockedMatrix(n0 + n1)

	c.maxScore = 0
	c.finitePairs = 0
	for i := range c.frameT {
		a := &c.frameT[i]
		for j := range c.frameT1 {
			b := &c.frameT1[j]
			d := a.DistanceTo(b)
			if !(d < c.cfg.MaxLinkingDistance) {
				continue
			}
			p := featurePenalty(a, b, c.cfg.LinkingFeaturePenalties)
			score := d*d*p*p + linkingEpsilon
			m.Set(i, j, score)
			c.finitePairs++
			if score > c.maxScore {
				c.maxScore = score
			}
		}
	}

	c.altCost = alternativeCost(c.maxScore, c.cfg.AlternativeCostFactor)
	setAlternativeDiagonal(m, 0, n1, n0, c.altCost)
	setAlternativeDiagonal(m, n0, 0, n1, c.altCost)
	setLowerRightBlock(m, n0, n1, c.altCost)

	c.m = m
	return nil
}

// CostMatrix returns the matrix built by Process, or nil.
func (c *FrameLinkingCostMatrixCreator) CostMatrix() *mat.Dense { return c.m }

// MaxScore is the largest finite linking cost seen in the top-left block.
func (c *FrameLinkingCostMatrixCreator) MaxScore() float64 { return c.maxScore }

// AlternativeCost is the no-link cost placed on the alternative diagonals.
func (c *FrameLinkingCostMatrixCreator) AlternativeCost() float64 { return c.altCost }

// FinitePairs is the number of detection pairs inside the linking gate.
func (c *FrameLinkingCostMatrixCreator) FinitePairs() int { return c.finitePairs }

// BuildFrameLinkingCostMatrix builds the stage-1 matrix for detections of two
// consecutive frames.
func BuildFrameLinkingCostMatrix(frameT, frameT1 []Detection, cfg Config) (*mat.Dense, error) {
	c := NewFrameLinkingCostMatrixCreator(frameT, frameT1, cfg)
	if err := c.CheckInput(); err != nil {
		return nil, err
	}
	if err := c.Process(); err != nil {
		return nil, err
	}
	return c.CostMatrix(), nil
}
