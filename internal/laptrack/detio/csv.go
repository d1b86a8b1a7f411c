// Package detio reads per-frame detections into a laptrack.Sequence and
// writes the tracked link graph back out as CSV or JSON.
package detio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/laptrack/internal/laptrack"
)

// Required leading CSV columns.
const (
	ColumnFrame = "frame"
	ColumnID    = "id"
)

// coordinateColumns are recognised as coordinates, in this order. Every
// other column after frame and id is a feature.
var coordinateColumns = map[string]int{"x": 0, "y": 1, "z": 2}

// csvLayout maps header columns to detection fields.
type csvLayout struct {
	coordCols []int    // column index of each coordinate, in x, y, z order
	featCols  []int    // column index of each feature
	featNames []string // feature name per featCols entry
}

func parseHeader(header []string) (csvLayout, error) {
	if len(header) < 3 {
		return csvLayout{}, fmt.Errorf("header needs frame, id and at least one coordinate, got %v", header)
	}
	if strings.TrimSpace(strings.ToLower(header[0])) != ColumnFrame || strings.TrimSpace(strings.ToLower(header[1])) != ColumnID {
		return csvLayout{}, fmt.Errorf("header must start with %q,%q, got %q,%q", ColumnFrame, ColumnID, header[0], header[1])
	}

	var l csvLayout
	coordAt := [3]int{-1, -1, -1}
	for col := 2; col < len(header); col++ {
		name := strings.TrimSpace(header[col])
		if axis, ok := coordinateColumns[strings.ToLower(name)]; ok {
			if coordAt[axis] >= 0 {
				return csvLayout{}, fmt.Errorf("duplicate coordinate column %q", name)
			}
			coordAt[axis] = col
			continue
		}
		if name == "" {
			return csvLayout{}, fmt.Errorf("empty column name at position %d", col+1)
		}
		l.featCols = append(l.featCols, col)
		l.featNames = append(l.featNames, name)
	}
	for _, col := range coordAt {
		if col >= 0 {
			l.coordCols = append(l.coordCols, col)
		}
	}
	if len(l.coordCols) == 0 {
		return csvLayout{}, errors.New("header has no x, y or z column")
	}
	return l, nil
}

// ReadCSV parses detections from r. The header must be
// frame,id,<coordinates and features>; columns named x, y and z are
// coordinates and every other column is a numeric feature. An empty feature
// cell leaves that feature unset.
func ReadCSV(r io.Reader) (*laptrack.Sequence, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("read csv: %w: no header", laptrack.ErrEmptyInput)
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	layout, err := parseHeader(header)
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	seq := laptrack.NewSequence(0)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line, _ := cr.FieldPos(0)
		frame, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid frame %q", line, rec[0])
		}
		id, err := strconv.Atoi(strings.TrimSpace(rec[1]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid id %q", line, rec[1])
		}

		coords := make([]float64, len(layout.coordCols))
		for k, col := range layout.coordCols {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[col]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid %s %q", line, header[col], rec[col])
			}
			coords[k] = v
		}

		var feats map[string]float64
		for k, col := range layout.featCols {
			cell := strings.TrimSpace(rec[col])
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid feature %s %q", line, layout.featNames[k], rec[col])
			}
			if feats == nil {
				feats = make(map[string]float64, len(layout.featCols))
			}
			feats[layout.featNames[k]] = v
		}

		if _, err := seq.Add(frame, laptrack.NewDetection(id, coords, feats)); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if seq.Len() == 0 {
		return nil, fmt.Errorf("read csv: %w: no detections", laptrack.ErrEmptyInput)
	}
	return seq, nil
}

// WriteTrajectoriesCSV writes one row per tracked detection:
// trajectory,frame,index,id followed by the coordinates. Unlinked detections
// are omitted.
func WriteTrajectoriesCSV(w io.Writer, seq *laptrack.Sequence) error {
	cw := csv.NewWriter(w)
	header := []string{"trajectory", ColumnFrame, "index", ColumnID}
	for k := 0; k < seq.Dims(); k++ {
		header = append(header, axisName(k))
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for ti, traj := range laptrack.Trajectories(seq) {
		for _, r := range traj.Detections {
			d := seq.At(r)
			row := []string{
				strconv.Itoa(ti),
				strconv.Itoa(r.Frame),
				strconv.Itoa(r.Index),
				strconv.Itoa(d.ID),
			}
			for _, c := range d.Coords {
				row = append(row, strconv.FormatFloat(c, 'f', -1, 64))
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("write csv row: %w", err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func axisName(k int) string {
	if k < 3 {
		return string(rune('x' + k))
	}
	return "c" + strconv.Itoa(k)
}
