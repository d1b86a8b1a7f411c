package laptrack

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Stage-2 link kinds, as reported to a LinkCollector.
const (
	LinkGapClosing = "gap_closing"
	LinkMerging    = "merging"
	LinkSplitting  = "splitting"
)

// SegmentLink is one stage-2 link chosen by the solver.
type SegmentLink struct {
	Kind string
	From Ref
	To   Ref
	Cost float64
}

// classifySegmentAssignments maps the solution of the segment cost matrix
// back to detection links. Rows and columns at or beyond S+M are no-link
// alternatives and produce nothing.
func classifySegmentAssignments(segments []TrackSegment, middle []Ref, m mat.Matrix, assignments []Assignment) []SegmentLink {
	s := len(segments)
	n := s + len(middle)
	var out []SegmentLink
	for _, a := range assignments {
		i, j := a.Row, a.Col
		if i >= n || j >= n {
			continue
		}
		var l SegmentLink
		switch {
		case i < s && j < s:
			l = SegmentLink{Kind: LinkGapClosing, From: segments[i].End(), To: segments[j].Start()}
		case i < s:
			l = SegmentLink{Kind: LinkMerging, From: segments[i].End(), To: middle[j-s]}
		case j < s:
			l = SegmentLink{Kind: LinkSplitting, From: middle[i-s], To: segments[j].Start()}
		default:
			continue
		}
		l.Cost = m.At(i, j)
		if isBlocked(l.Cost) {
			// A blocked pairing can only be chosen if the matrix had no
			// perfect matching avoiding it; never link on it.
			Opsf("segment linking: solver chose blocked %s %s -> %s, ignored", l.Kind, l.From, l.To)
			continue
		}
		out = append(out, l)
	}
	return out
}

// linkSegments attaches the stage-2 links to seq.
func linkSegments(seq *Sequence, links []SegmentLink) error {
	for _, l := range links {
		if err := seq.Link(l.From, l.To); err != nil {
			return fmt.Errorf("%s link: %w", l.Kind, err)
		}
		Tracef("%s %s -> %s cost=%g", l.Kind, l.From, l.To, l.Cost)
	}
	return nil
}
