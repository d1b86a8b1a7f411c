package laptrack

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// spot is a test detection: position plus optional mean intensity.
type spot struct {
	x, y, z   float64
	intensity float64
}

func (s spot) detection(id int) Detection {
	var feats map[string]float64
	if s.intensity != 0 {
		feats = map[string]float64{FeatureMeanIntensity: s.intensity}
	}
	return NewDetection(id, []float64{s.x, s.y, s.z}, feats)
}

// buildSequence adds the spots of each frame in order.
func buildSequence(t *testing.T, frames [][]spot) *Sequence {
	t.Helper()
	seq := NewSequence(len(frames))
	id := 0
	for f, spots := range frames {
		for _, s := range spots {
			_, err := seq.Add(f, s.detection(id))
			require.NoError(t, err)
			id++
		}
	}
	return seq
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 2
	return cfg
}

// requireWellFormed checks that every row and column holds a non-blocked
// entry.
func requireWellFormed(t *testing.T, m mat.Matrix) {
	t.Helper()
	r, c := m.Dims()
	require.Equal(t, r, c, "matrix must be square")
	colOK := make([]bool, c)
	for i := 0; i < r; i++ {
		rowOK := false
		for j := 0; j < c; j++ {
			if !isBlocked(m.At(i, j)) {
				rowOK = true
				colOK[j] = true
			}
		}
		require.Truef(t, rowOK, "row %d has no finite entry", i)
	}
	for j, ok := range colOK {
		require.Truef(t, ok, "column %d has no finite entry", j)
	}
}

func hasAssignment(as []Assignment, row, col int) bool {
	for _, a := range as {
		if a.Row == row && a.Col == col {
			return true
		}
	}
	return false
}
