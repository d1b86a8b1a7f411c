package laptrack

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"
)

const (
	// Blocked marks a forbidden pairing. It is finite so the solver's
	// potential arithmetic stays exact.
	Blocked = 1e18

	// MinAlternativeCost floors every no-link alternative so that a
	// zero-cost pairing is always strictly cheaper than leaving both ends
	// unlinked.
	MinAlternativeCost = 1e-9

	// linkingEpsilon keeps frame-linking costs strictly positive.
	linkingEpsilon = 1e-9
)

// CostMatrixCreator is implemented by both cost matrix builders. Callers run
// CheckInput, then Process, then read CostMatrix.
type CostMatrixCreator interface {
	CheckInput() error
	Process() error
	CostMatrix() *mat.Dense
}

func isBlocked(v float64) bool {
	return v >= Blocked
}

// newBlockedMatrix returns an n×n matrix with every entry Blocked.
func newBlockedMatrix(n int) *mat.Dense {
	data := make([]float64, n*n)
	for i := range data {
		data[i] = Blocked
	}
	return mat.NewDense(n, n, data)
}

// setAlternativeDiagonal writes cost on the n diagonal entries of the block
// starting at (row0, col0). Off-diagonal entries are left untouched.
func setAlternativeDiagonal(m *mat.Dense, row0, col0, n int, cost float64) {
	for k := 0; k < n; k++ {
		m.Set(row0+k, col0+k, cost)
	}
}

// setLowerRightBlock fills the bottom-right quadrant with the transpose of
// the rows×cols top-left quadrant, replacing every finite entry with cost.
// Entries whose mirror is blocked stay blocked.
func setLowerRightBlock(m *mat.Dense, rows, cols int, cost float64) {
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if !isBlocked(m.At(i, j)) {
				m.Set(rows+j, cols+i, cost)
			}
		}
	}
}

// alternativeCost scales a base score and applies the MinAlternativeCost
// floor.
func alternativeCost(base, factor float64) float64 {
	c := base * factor
	if !(c >= MinAlternativeCost) {
		return MinAlternativeCost
	}
	return c
}

// intensityPenalty converts an intensity ratio into a cost multiplier:
// ratios above one scale linearly, ratios below one by their inverse square.
func intensityPenalty(ratio float64) float64 {
	if ratio >= 1 {
		return ratio
	}
	return 1 / (ratio * ratio)
}

// featurePenalty returns 1 + Σ weight·1.5·ndiff over the weighted features,
// where ndiff is the absolute difference normalised by the mean magnitude.
// Features missing on either detection, or yielding a non-finite ndiff, are
// skipped.
func featurePenalty(a, b *Detection, weights map[string]float64) float64 {
	if len(weights) == 0 {
		return 1
	}
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	slices.Sort(names)

	penalty := 1.0
	for _, name := range names {
		va, okA := a.Feature(name)
		vb, okB := b.Feature(name)
		if !okA || !okB {
			continue
		}
		ndiff := math.Abs(va-vb) / ((math.Abs(va) + math.Abs(vb)) / 2)
		if math.IsNaN(ndiff) || math.IsInf(ndiff, 0) {
			continue
		}
		penalty += weights[name] * 1.5 * ndiff
	}
	return penalty
}
