// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"errors"
	"path/filepath"
	"testing"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertErrorIs fails the test unless errors.Is(err, target).
func AssertErrorIs(t testing.TB, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}

// TempDBPath returns a fresh SQLite file path inside t.TempDir().
func TempDBPath(t testing.TB) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "laptrack.db")
}

// LinePoints returns n 3-D points starting at origin and advancing by step
// along x, one per frame.
func LinePoints(n int, origin [3]float64, step float64) [][]float64 {
	pts := make([][]float64, n)
	for i := range pts {
		pts[i] = []float64{origin[0] + float64(i)*step, origin[1], origin[2]}
	}
	return pts
}
