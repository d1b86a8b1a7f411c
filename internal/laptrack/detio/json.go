package detio

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/laptrack/internal/laptrack"
)

// maxInputSize bounds detection files read by ReadFile.
const maxInputSize = 256 * 1024 * 1024

// DetectionJSON is the wire form of one detection.
type DetectionJSON struct {
	Frame    int                `json:"frame"`
	Index    int                `json:"index,omitempty"`
	ID       int                `json:"id"`
	Coords   []float64          `json:"coords"`
	Features map[string]float64 `json:"features,omitempty"`
	Next     []RefJSON          `json:"next,omitempty"`
	Prev     []RefJSON          `json:"prev,omitempty"`
}

// RefJSON addresses a detection by frame and index within the frame.
type RefJSON struct {
	Frame int `json:"frame"`
	Index int `json:"index"`
}

// TrajectoryJSON is one connected component of the link graph.
type TrajectoryJSON struct {
	ID         int          `json:"id"`
	StartFrame int          `json:"start_frame"`
	EndFrame   int          `json:"end_frame"`
	Detections []RefJSON    `json:"detections"`
	Edges      [][2]RefJSON `json:"edges"`
}

// DetectionsFile is the JSON input format.
type DetectionsFile struct {
	Detections []DetectionJSON `json:"detections"`
}

// TrackingResult is the JSON export of a tracked sequence.
type TrackingResult struct {
	FrameCount   int              `json:"frame_count"`
	Detections   []DetectionJSON  `json:"detections"`
	Trajectories []TrajectoryJSON `json:"trajectories"`
}

// ReadJSON parses a DetectionsFile. Detections are added to their frame in
// the order they appear.
func ReadJSON(r io.Reader) (*laptrack.Sequence, error) {
	var in DetectionsFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return nil, fmt.Errorf("decode detections json: %w", err)
	}
	if len(in.Detections) == 0 {
		return nil, fmt.Errorf("decode detections json: %w: no detections", laptrack.ErrEmptyInput)
	}
	seq := laptrack.NewSequence(0)
	for k, d := range in.Detections {
		if _, err := seq.Add(d.Frame, laptrack.NewDetection(d.ID, d.Coords, d.Features)); err != nil {
			return nil, fmt.Errorf("detection %d: %w", k, err)
		}
	}
	return seq, nil
}

// ReadFile loads detections from a .csv or .json file.
func ReadFile(path string) (*laptrack.Sequence, error) {
	cleanPath := filepath.Clean(path)
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat detections file: %w", err)
	}
	if info.Size() > maxInputSize {
		return nil, fmt.Errorf("detections file too large: %d bytes (max %d)", info.Size(), maxInputSize)
	}

	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open detections file: %w", err)
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(cleanPath)); ext {
	case ".csv":
		return ReadCSV(f)
	case ".json":
		return ReadJSON(f)
	default:
		return nil, fmt.Errorf("unsupported detections file extension %q (want .csv or .json)", ext)
	}
}

// NewTrackingResult converts a tracked sequence to its export form.
func NewTrackingResult(seq *laptrack.Sequence) TrackingResult {
	res := TrackingResult{
		FrameCount: seq.FrameCount(),
		Detections: make([]DetectionJSON, 0, seq.Len()),
	}
	for _, r := range seq.Refs() {
		d := seq.At(r)
		res.Detections = append(res.Detections, DetectionJSON{
			Frame:    r.Frame,
			Index:    r.Index,
			ID:       d.ID,
			Coords:   d.Coords,
			Features: d.Features,
			Next:     refsJSON(d.Next()),
			Prev:     refsJSON(d.Prev()),
		})
	}
	for i, traj := range laptrack.Trajectories(seq) {
		first, last := traj.Frames()
		tj := TrajectoryJSON{
			ID:         i,
			StartFrame: first,
			EndFrame:   last,
			Detections: refsJSON(traj.Detections),
		}
		for _, e := range traj.Edges(seq) {
			tj.Edges = append(tj.Edges, [2]RefJSON{refJSON(e.From), refJSON(e.To)})
		}
		res.Trajectories = append(res.Trajectories, tj)
	}
	return res
}

// WriteJSON writes the tracked sequence as an indented TrackingResult.
func WriteJSON(w io.Writer, seq *laptrack.Sequence) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(NewTrackingResult(seq)); err != nil {
		return fmt.Errorf("encode tracking result: %w", err)
	}
	return nil
}

func refJSON(r laptrack.Ref) RefJSON {
	return RefJSON{Frame: r.Frame, Index: r.Index}
}

func refsJSON(refs []laptrack.Ref) []RefJSON {
	if len(refs) == 0 {
		return nil
	}
	out := make([]RefJSON, len(refs))
	for i, r := range refs {
		out[i] = refJSON(r)
	}
	return out
}
