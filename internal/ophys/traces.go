package ophys

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// TraceMatrix holds one fluorescence signal per ROI. Row i of Data belongs to
// ROIIDs[i]. A matrix with no ROIs has a nil Data.
type TraceMatrix struct {
	ROIIDs []int64
	Data   *mat.Dense
}

// NewTraceMatrix pairs ids with the rows of data. The id count must equal the
// row count and ids must be unique.
func NewTraceMatrix(ids []int64, data *mat.Dense) (*TraceMatrix, error) {
	rows := 0
	if data != nil {
		rows, _ = data.Dims()
	}
	if len(ids) != rows {
		return nil, fmt.Errorf("trace matrix has %d rows but %d roi ids", rows, len(ids))
	}
	if dup := duplicates(ids); len(dup) > 0 {
		return nil, &IntegrityError{Duplicates: dup}
	}
	return &TraceMatrix{ROIIDs: slices.Clone(ids), Data: data}, nil
}

// FromRows builds a TraceMatrix from per-ROI sample slices of equal length.
func FromRows(ids []int64, rows [][]float64) (*TraceMatrix, error) {
	if len(ids) != len(rows) {
		return nil, fmt.Errorf("got %d rows for %d roi ids", len(rows), len(ids))
	}
	if len(rows) == 0 {
		return NewTraceMatrix(nil, nil)
	}
	n := len(rows[0])
	if n == 0 {
		return nil, fmt.Errorf("traces have no samples")
	}
	flat := make([]float64, 0, len(rows)*n)
	for i, r := range rows {
		if len(r) != n {
			return nil, fmt.Errorf("row %d (roi %d) has %d samples, want %d", i, ids[i], len(r), n)
		}
		flat = append(flat, r...)
	}
	return NewTraceMatrix(ids, mat.NewDense(len(rows), n, flat))
}

// Len returns the number of ROIs.
func (tm *TraceMatrix) Len() int { return len(tm.ROIIDs) }

// Samples returns the number of samples per ROI.
func (tm *TraceMatrix) Samples() int {
	if tm.Data == nil {
		return 0
	}
	_, c := tm.Data.Dims()
	return c
}

// Row returns a copy of the samples recorded for id.
func (tm *TraceMatrix) Row(id int64) ([]float64, bool) {
	i := slices.Index(tm.ROIIDs, id)
	if i < 0 {
		return nil, false
	}
	return mat.Row(nil, i, tm.Data), true
}

// Rows returns a copy of every row in matrix order.
func (tm *TraceMatrix) Rows() [][]float64 {
	out := make([][]float64, tm.Len())
	for i := range out {
		out[i] = mat.Row(nil, i, tm.Data)
	}
	return out
}

// CheckROISets returns an *IntegrityError unless traceIDs and canonical hold
// exactly the same identifiers, each once.
func CheckROISets(traceIDs, canonical []int64) error {
	e := &IntegrityError{}
	e.Duplicates = append(duplicates(traceIDs), duplicates(canonical)...)
	slices.Sort(e.Duplicates)
	e.Duplicates = slices.Compact(e.Duplicates)

	inTraces := make(map[int64]struct{}, len(traceIDs))
	for _, id := range traceIDs {
		inTraces[id] = struct{}{}
	}
	inCanonical := make(map[int64]struct{}, len(canonical))
	for _, id := range canonical {
		inCanonical[id] = struct{}{}
		if _, ok := inTraces[id]; !ok {
			e.Missing = append(e.Missing, id)
		}
	}
	for _, id := range traceIDs {
		if _, ok := inCanonical[id]; !ok {
			e.Extra = append(e.Extra, id)
		}
	}
	if len(e.Missing) == 0 && len(e.Extra) == 0 && len(e.Duplicates) == 0 {
		return nil
	}
	slices.Sort(e.Missing)
	e.Missing = slices.Compact(e.Missing)
	slices.Sort(e.Extra)
	e.Extra = slices.Compact(e.Extra)
	return e
}

// ReorderTraces permutes the rows of tm into canonical order. The id sets
// must match exactly; rows are never dropped. tm is left untouched.
func ReorderTraces(tm *TraceMatrix, canonical []int64) (*TraceMatrix, error) {
	if err := CheckROISets(tm.ROIIDs, canonical); err != nil {
		return nil, err
	}
	if len(canonical) == 0 {
		return &TraceMatrix{ROIIDs: []int64{}}, nil
	}

	pos := make(map[int64]int, len(tm.ROIIDs))
	for i, id := range tm.ROIIDs {
		pos[id] = i
	}

	out := mat.NewDense(len(canonical), tm.Samples(), nil)
	for i, id := range canonical {
		out.SetRow(i, tm.Data.RawRowView(pos[id]))
	}
	return &TraceMatrix{ROIIDs: slices.Clone(canonical), Data: out}, nil
}

func duplicates(ids []int64) []int64 {
	seen := make(map[int64]int, len(ids))
	var dup []int64
	for _, id := range ids {
		seen[id]++
		if seen[id] == 2 {
			dup = append(dup, id)
		}
	}
	slices.Sort(dup)
	return dup
}
