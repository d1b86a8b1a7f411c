package laptrack

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
)

// Assignment pairs a cost matrix row with the column it was matched to.
type Assignment struct {
	Row int
	Col int
}

// SolveAssignment finds a minimum-cost perfect matching on a square,
// non-negative cost matrix using the Hungarian algorithm in its
// shortest-augmenting-path form (Jonker-Volgenant potentials), O(n³).
//
// Ties are broken towards the lowest column index, so identical input always
// yields identical output. Pairs are returned sorted by row.
//
// Blocked entries are ordinary finite costs to the solver. It is the
// builders' job to guarantee a perfect matching avoiding them exists.
func SolveAssignment(m mat.Matrix) ([]Assignment, error) {
	c, err := validateCostMatrix(m)
	if err != nil {
		return nil, err
	}
	n := c.Rows

	// Uses 1-indexed arrays internally for cleaner index arithmetic.
	const inf = math.MaxFloat64 / 2

	u := make([]float64, n+1) // Row potentials
	v := make([]float64, n+1) // Column potentials
	p := make([]int, n+1)     // p[j] = row assigned to column j
	way := make([]int, n+1)   // way[j] = previous column in augmenting path
	minv := make([]float64, n+1)
	used := make([]bool, n+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0 // Virtual column

		for j := 1; j <= n; j++ {
			minv[j] = inf
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := p[j0]
			row := c.Data[(i0-1)*c.Stride : (i0-1)*c.Stride+n]
			delta := inf
			j1 := -1

			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}
				cur := row[j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}

			if j1 < 0 {
				return nil, fmt.Errorf("%w: no augmenting path for row %d", ErrInvalidMatrix, i-1)
			}

			for j := 0; j <= n; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}

			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		// Augment along the path.
		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	out := make([]Assignment, n)
	for j := 1; j <= n; j++ {
		out[p[j]-1] = Assignment{Row: p[j] - 1, Col: j - 1}
	}
	return out, nil
}

// validateCostMatrix checks shape and entries and returns a dense copy of the
// data.
func validateCostMatrix(m mat.Matrix) (blas64.General, error) {
	var none blas64.General
	if m == nil {
		return none, fmt.Errorf("%w: nil matrix", ErrInvalidMatrix)
	}
	r, cols := m.Dims()
	if r == 0 || cols == 0 {
		return none, fmt.Errorf("%w: empty %dx%d matrix", ErrInvalidMatrix, r, cols)
	}
	if r != cols {
		return none, fmt.Errorf("%w: not square (%dx%d)", ErrInvalidMatrix, r, cols)
	}
	for i := 0; i < r; i++ {
		for j := 0; j < cols; j++ {
			v := m.At(i, j)
			switch {
			case math.IsNaN(v):
				return none, fmt.Errorf("%w: NaN at (%d, %d)", ErrInvalidMatrix, i, j)
			case math.IsInf(v, 0):
				return none, fmt.Errorf("%w: infinite entry at (%d, %d)", ErrInvalidMatrix, i, j)
			case v < 0:
				return none, fmt.Errorf("%w: negative entry %g at (%d, %d)", ErrInvalidMatrix, v, i, j)
			}
		}
	}
	return mat.DenseCopyOf(m).RawMatrix(), nil
}
