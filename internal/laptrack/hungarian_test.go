package laptrack

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestSolveAssignment_SingleElement(t *testing.T) {
	as, err := SolveAssignment(mat.NewDense(1, 1, []float64{5}))
	require.NoError(t, err)
	assert.Equal(t, []Assignment{{Row: 0, Col: 0}}, as)
}

func TestSolveAssignment_SquareOptimal(t *testing.T) {
	// Optimal: row0→col0 (1), row1→col1 (4), row2→col2 (5) = 10
	m := mat.NewDense(3, 3, []float64{
		1, 2, 3,
		4, 4, 6,
		9, 8, 5,
	})
	as, err := SolveAssignment(m)
	require.NoError(t, err)
	assert.Equal(t, []Assignment{{0, 0}, {1, 1}, {2, 2}}, as)
	assert.InDelta(t, 10.0, totalCost(m, as), 1e-12)
}

func TestSolveAssignment_AvoidsBlocked(t *testing.T) {
	m := mat.NewDense(3, 3, []float64{
		Blocked, 1, Blocked,
		2, Blocked, Blocked,
		Blocked, Blocked, 7,
	})
	as, err := SolveAssignment(m)
	require.NoError(t, err)
	for _, a := range as {
		assert.Less(t, m.At(a.Row, a.Col), Blocked, "blocked entry chosen at %v", a)
	}
}

func TestSolveAssignment_InvalidMatrix(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		m    mat.Matrix
	}{
		{"nil", nil},
		{"empty", &mat.Dense{}},
		{"not square", mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})},
		{"negative", mat.NewDense(2, 2, []float64{1, -2, 3, 4})},
		{"nan", mat.NewDense(2, 2, []float64{1, math.NaN(), 3, 4})},
		{"inf", mat.NewDense(2, 2, []float64{1, 2, math.Inf(1), 4})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := SolveAssignment(tt.m)
			assert.ErrorIs(t, err, ErrInvalidMatrix)
		})
	}
}

func TestSolveAssignment_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	for n := 1; n <= 6; n++ {
		for trial := 0; trial < 25; trial++ {
			data := make([]float64, n*n)
			for i := range data {
				if rng.IntN(5) == 0 {
					data[i] = Blocked
				} else {
					data[i] = float64(rng.IntN(1000)) + rng.Float64()
				}
			}
			m := mat.NewDense(n, n, data)

			as, err := SolveAssignment(m)
			require.NoError(t, err)
			requirePermutation(t, n, as)

			want := bruteForceMinimum(m)
			assert.InDeltaf(t, want, totalCost(m, as), 1e-6*math.Max(1, want), "n=%d trial=%d", n, trial)
		}
	}
}

func TestSolveAssignment_Deterministic(t *testing.T) {
	// Every permutation has the same cost, so only the tie-break decides.
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			m.Set(i, j, 1)
		}
	}
	first, err := SolveAssignment(m)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := SolveAssignment(m)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSolveAssignment_DoesNotModifyInput(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{3, 1, 2, 4})
	orig := mat.DenseCopyOf(m)
	_, err := SolveAssignment(m)
	require.NoError(t, err)
	assert.True(t, mat.Equal(orig, m))
}

func totalCost(m mat.Matrix, as []Assignment) float64 {
	sum := 0.0
	for _, a := range as {
		sum += m.At(a.Row, a.Col)
	}
	return sum
}

func requirePermutation(t *testing.T, n int, as []Assignment) {
	t.Helper()
	require.Len(t, as, n)
	cols := make([]bool, n)
	for i, a := range as {
		require.Equal(t, i, a.Row, "assignments must be sorted by row")
		require.False(t, cols[a.Col], "column %d assigned twice", a.Col)
		cols[a.Col] = true
	}
}

func bruteForceMinimum(m mat.Matrix) float64 {
	n, _ := m.Dims()
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	best := math.Inf(1)
	var permute func(k int)
	permute = func(k int) {
		if k == n {
			sum := 0.0
			for i, j := range perm {
				sum += m.At(i, j)
			}
			best = math.Min(best, sum)
			return
		}
		for i := k; i < n; i++ {
			perm[k], perm[i] = perm[i], perm[k]
			permute(k + 1)
			perm[k], perm[i] = perm[i], perm[k]
		}
	}
	permute(0)
	return best
}
