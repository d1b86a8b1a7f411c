package laptrack

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// FeatureMeanIntensity is the feature key holding a detection's mean
// intensity. Merging and splitting costs read it by default.
const FeatureMeanIntensity = "MEAN_INTENSITY"

// Ref addresses a detection inside a Sequence by frame and position within
// that frame. Links between detections are stored as Refs, never pointers.
type Ref struct {
	Frame int
	Index int
}

func (r Ref) String() string {
	return fmt.Sprintf("%d:%d", r.Frame, r.Index)
}

// Less orders refs by frame, then index.
func (r Ref) Less(o Ref) bool {
	if r.Frame != o.Frame {
		return r.Frame < o.Frame
	}
	return r.Index < o.Index
}

func compareRefs(a, b Ref) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}

// Link is a directed edge from an earlier detection to a later one.
type Link struct {
	From Ref
	To   Ref
}

// MaxFrameIndex bounds the frame number accepted by Sequence.Add. Frames are
// stored densely, so the bound also caps the arena size.
const MaxFrameIndex = 1 << 20

// Detection is a single point-like object observed in one frame.
type Detection struct {
	ID       int
	Coords   []float64
	Features map[string]float64

	frame int
	next  []Ref
	prev  []Ref
}

// NewDetection copies coords and features into a new Detection.
func NewDetection(id int, coords []float64, features map[string]float64) Detection {
	d := Detection{
		ID:     id,
		Coords: slices.Clone(coords),
	}
	if len(features) > 0 {
		d.Features = maps.Clone(features)
	}
	return d
}

// Frame is the frame index assigned by Sequence.Add.
func (d *Detection) Frame() int { return d.frame }

// Feature returns a named feature value, or NaN and false if it is absent.
func (d *Detection) Feature(name string) (float64, bool) {
	v, ok := d.Features[name]
	if !ok {
		return math.NaN(), false
	}
	return v, true
}

// Next returns the detections this one links forward to.
func (d *Detection) Next() []Ref { return slices.Clone(d.next) }

// Prev returns the detections linking forward into this one.
func (d *Detection) Prev() []Ref { return slices.Clone(d.prev) }

// DistanceTo returns the Euclidean distance between two detections.
func (d *Detection) DistanceTo(o *Detection) float64 {
	return floats.Distance(d.Coords, o.Coords, 2)
}

// Sequence is the arena owning every detection of a time-lapse run,
// grouped by frame. Detections never move once added, so a Ref stays valid
// for the lifetime of the Sequence.
type Sequence struct {
	frames [][]Detection
	dims   int
}

// NewSequence creates a sequence with frameCount (possibly empty) frames.
func NewSequence(frameCount int) *Sequence {
	if frameCount < 0 {
		frameCount = 0
	}
	return &Sequence{frames: make([][]Detection, frameCount)}
}

// Add appends d to the given frame, growing the sequence if needed, and
// returns its Ref. The first detection added fixes the coordinate
// dimensionality for the whole sequence.
func (s *Sequence) Add(frame int, d Detection) (Ref, error) {
	if frame < 0 {
		return Ref{}, fmt.Errorf("%w: negative frame index %d", ErrFrameOutOfRange, frame)
	}
	if frame > MaxFrameIndex {
		return Ref{}, fmt.Errorf("%w: frame %d exceeds %d", ErrFrameOutOfRange, frame, MaxFrameIndex)
	}
	if len(d.Coords) == 0 {
		return Ref{}, fmt.Errorf("detection %d in frame %d: %w: no coordinates", d.ID, frame, ErrDimensionMismatch)
	}
	for k, c := range d.Coords {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return Ref{}, fmt.Errorf("detection %d in frame %d: %w: coordinate %d is %g", d.ID, frame, ErrNonFiniteCoordinate, k, c)
		}
	}
	if s.dims == 0 {
		s.dims = len(d.Coords)
	} else if len(d.Coords) != s.dims {
		return Ref{}, fmt.Errorf("detection %d in frame %d: %w: got %d, want %d",
			d.ID, frame, ErrDimensionMismatch, len(d.Coords), s.dims)
	}
	for len(s.frames) <= frame {
		s.frames = append(s.frames, nil)
	}
	d.frame = frame
	d.next = nil
	d.prev = nil
	s.frames[frame] = append(s.frames[frame], d)
	return Ref{Frame: frame, Index: len(s.frames[frame]) - 1}, nil
}

// FrameCount returns the number of frames, including empty ones.
func (s *Sequence) FrameCount() int { return len(s.frames) }

// Dims returns the coordinate dimensionality, or 0 for an empty sequence.
func (s *Sequence) Dims() int { return s.dims }

// Frame returns the detections of frame i. The slice is owned by the
// sequence and must be treated as read-only.
func (s *Sequence) Frame(i int) []Detection {
	if i < 0 || i >= len(s.frames) {
		return nil
	}
	return s.frames[i]
}

// Len returns the total number of detections.
func (s *Sequence) Len() int {
	n := 0
	for _, f := range s.frames {
		n += len(f)
	}
	return n
}

// At returns the detection addressed by r, or nil if r is out of range.
func (s *Sequence) At(r Ref) *Detection {
	if r.Frame < 0 || r.Frame >= len(s.frames) {
		return nil
	}
	f := s.frames[r.Frame]
	if r.Index < 0 || r.Index >= len(f) {
		return nil
	}
	return &f[r.Index]
}

// Refs returns the Refs of every detection in frame order.
func (s *Sequence) Refs() []Ref {
	refs := make([]Ref, 0, s.Len())
	for f, dets := range s.frames {
		for i := range dets {
			refs = append(refs, Ref{Frame: f, Index: i})
		}
	}
	return refs
}

// Link records a forward link from -> to. Duplicate links are ignored.
func (s *Sequence) Link(from, to Ref) error {
	a, b := s.At(from), s.At(to)
	if a == nil || b == nil {
		return fmt.Errorf("link %s -> %s: detection out of range", from, to)
	}
	if !slices.Contains(a.next, to) {
		a.next = append(a.next, to)
	}
	if !slices.Contains(b.prev, from) {
		b.prev = append(b.prev, from)
	}
	return nil
}

// ResetLinks removes every next/prev link.
func (s *Sequence) ResetLinks() {
	for f := range s.frames {
		for i := range s.frames[f] {
			s.frames[f][i].next = nil
			s.frames[f][i].prev = nil
		}
	}
}

// Links returns every forward link sorted by source, then target.
func (s *Sequence) Links() []Link {
	var links []Link
	for f, dets := range s.frames {
		for i := range dets {
			from := Ref{Frame: f, Index: i}
			for _, to := range dets[i].next {
				links = append(links, Link{From: from, To: to})
			}
		}
	}
	slices.SortFunc(links, func(a, b Link) int {
		if c := compareRefs(a.From, b.From); c != 0 {
			return c
		}
		return compareRefs(a.To, b.To)
	})
	return links
}
