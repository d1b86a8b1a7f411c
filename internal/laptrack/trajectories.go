package laptrack

import (
	"slices"
)

// Trajectory is one connected component of the link graph: every detection
// reachable from any other through next or prev links, merges and splits
// included. Detections are sorted by frame, then index.
type Trajectory struct {
	Detections []Ref
}

// Start returns the earliest detection.
func (t Trajectory) Start() Ref { return t.Detections[0] }

// Frames returns the first and last frame covered.
func (t Trajectory) Frames() (first, last int) {
	return t.Detections[0].Frame, t.Detections[len(t.Detections)-1].Frame
}

// Edges lists the forward links between detections of the trajectory, sorted
// by source then target.
func (t Trajectory) Edges(seq *Sequence) []Link {
	var out []Link
	for _, r := range t.Detections {
		d := seq.At(r)
		if d == nil {
			continue
		}
		for _, to := range d.next {
			out = append(out, Link{From: r, To: to})
		}
	}
	slices.SortFunc(out, func(a, b Link) int {
		if c := compareRefs(a.From, b.From); c != 0 {
			return c
		}
		return compareRefs(a.To, b.To)
	})
	return out
}

// Trajectories returns the weakly connected components of the link graph of
// seq, ordered by their first detection. Unlinked detections are omitted.
func Trajectories(seq *Sequence) []Trajectory {
	seen := make([][]bool, seq.FrameCount())
	for f := range seen {
		seen[f] = make([]bool, len(seq.Frame(f)))
	}

	var out []Trajectory
	for _, r := range seq.Refs() {
		if seen[r.Frame][r.Index] {
			continue
		}
		d := seq.At(r)
		if len(d.next) == 0 && len(d.prev) == 0 {
			continue
		}

		var comp []Ref
		stack := []Ref{r}
		seen[r.Frame][r.Index] = true
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			comp = append(comp, cur)
			cd := seq.At(cur)
			for _, nb := range slices.Concat(cd.next, cd.prev) {
				if !seen[nb.Frame][nb.Index] {
					seen[nb.Frame][nb.Index] = true
					stack = append(stack, nb)
				}
			}
		}
		slices.SortFunc(comp, compareRefs)
		out = append(out, Trajectory{Detections: comp})
	}
	slices.SortFunc(out, func(a, b Trajectory) int {
		return compareRefs(a.Start(), b.Start())
	})
	return out
}
