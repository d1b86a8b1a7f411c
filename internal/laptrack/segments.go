package laptrack

import (
	"fmt"
)

// Link array states for stage-1 assembly. A non-negative entry is the index
// of the detection in the next frame that this one links forward to.
const (
	NotLinked        = -2
	SegmentOfSizeOne = -1
)

// TrackSegment is a chain of detections with strictly increasing frames,
// linked one to one by frame linking.
type TrackSegment []Ref

// Start returns the first detection of the segment.
func (s TrackSegment) Start() Ref { return s[0] }

// End returns the last detection of the segment.
func (s TrackSegment) End() Ref { return s[len(s)-1] }

// Len returns the number of detections in the segment.
func (s TrackSegment) Len() int { return len(s) }

// initializeLinkArrays allocates one entry per detection. Frame 0 starts as
// SegmentOfSizeOne; later frames start NotLinked until a frame pair marks
// them.
func initializeLinkArrays(seq *Sequence) [][]int {
	links := make([][]int, seq.FrameCount())
	for f := range links {
		arr := make([]int, len(seq.Frame(f)))
		fill := NotLinked
		if f == 0 {
			fill = SegmentOfSizeOne
		}
		for i := range arr {
			arr[i] = fill
		}
		links[f] = arr
	}
	return links
}

// extendLinkArrays applies the solution of the frame pair (frame, frame+1).
// Real-to-real pairs record a forward link; a real detection of frame+1
// matched to a no-link row starts a new segment.
func extendLinkArrays(links [][]int, assignments []Assignment, frame int) {
	n0 := len(links[frame])
	n1 := len(links[frame+1])
	for _, a := range assignments {
		switch {
		case a.Row < n0 && a.Col < n1:
			links[frame][a.Row] = a.Col
		case a.Row >= n0 && a.Col < n1:
			links[frame+1][a.Col] = SegmentOfSizeOne
		}
	}
}

// compileTrackSegments walks the link arrays, collects each chain of forward
// links into a segment and consumes every visited entry. Segments shorter
// than minLen are dropped; retained segments get next/prev links attached in
// seq.
func compileTrackSegments(seq *Sequence, links [][]int, minLen int) ([]TrackSegment, error) {
	visited := make([][]bool, len(links))
	for f := range links {
		visited[f] = make([]bool, len(links[f]))
	}

	var segments []TrackSegment
	dropped := 0
	for f := range links {
		for i := range links[f] {
			if visited[f][i] || links[f][i] == NotLinked {
				continue
			}
			seg := followChain(links, visited, f, i)
			if seg.Len() < minLen {
				dropped++
				continue
			}
			for k := 1; k < len(seg); k++ {
				if err := seq.Link(seg[k-1], seg[k]); err != nil {
					return nil, fmt.Errorf("compile segment at %s: %w", seg.Start(), err)
				}
			}
			segments = append(segments, seg)
		}
	}
	Diagf("compiled %d track segments, dropped %d shorter than %d", len(segments), dropped, minLen)
	return segments, nil
}

func followChain(links [][]int, visited [][]bool, frame, index int) TrackSegment {
	var seg TrackSegment
	for frame < len(links) && index >= 0 && index < len(links[frame]) && !visited[frame][index] {
		visited[frame][index] = true
		seg = append(seg, Ref{Frame: frame, Index: index})
		next := links[frame][index]
		if next < 0 {
			break
		}
		frame, index = frame+1, next
	}
	return seg
}
