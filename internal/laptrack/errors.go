package laptrack

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput is returned when a cost matrix builder receives no
	// detections or no track segments.
	ErrEmptyInput = errors.New("empty input")

	// ErrInvalidMatrix is returned by the solver for a matrix that is empty,
	// not square, or holds negative, NaN or infinite entries. It indicates a
	// bug in whatever built the matrix.
	ErrInvalidMatrix = errors.New("invalid cost matrix")

	// ErrInsufficientData is returned by the tracker when fewer than two
	// frames are supplied or every frame is empty.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrDimensionMismatch is returned when a detection's coordinate vector
	// does not match the dimensionality of the sequence.
	ErrDimensionMismatch = errors.New("coordinate dimension mismatch")

	// ErrNonFiniteCoordinate is returned when a detection has a NaN or
	// infinite coordinate.
	ErrNonFiniteCoordinate = errors.New("non-finite coordinate")

	// ErrFrameOutOfRange is returned for a negative frame index or one above
	// MaxFrameIndex.
	ErrFrameOutOfRange = errors.New("frame index out of range")

	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New("invalid tracker config")
)

// Pipeline stage names used in StageError.
const (
	StageInput          = "input"
	StageFrameLinking   = "frame-linking"
	StageSegmentLinking = "segment-linking"
)

// StageError identifies which stage (and for frame linking, which frame
// pair) of a tracking run failed.
type StageError struct {
	Stage string
	Frame int // first frame of the failing pair, or -1
	Err   error
}

func (e *StageError) Error() string {
	if e.Frame >= 0 {
		return fmt.Sprintf("%s stage failed for frames %d-%d: %v", e.Stage, e.Frame, e.Frame+1, e.Err)
	}
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
