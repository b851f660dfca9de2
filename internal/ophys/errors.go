package ophys

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDataIntegrity reports that the ROI ids of a trace file and the
	// canonical ROI table are not the same set.
	ErrDataIntegrity = errors.New("roi id set mismatch")

	// ErrLengthMismatch reports that an acquisition clock cannot cover the
	// samples of a trace.
	ErrLengthMismatch = errors.New("timestamp length mismatch")
)

// IntegrityError lists the identifiers that break set equality. Missing ids
// are canonical ids absent from the traces; Extra ids are trace ids absent
// from the canonical table. All lists are sorted ascending.
type IntegrityError struct {
	Missing    []int64
	Extra      []int64
	Duplicates []int64
}

func (e *IntegrityError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing from traces %v", e.Missing))
	}
	if len(e.Extra) > 0 {
		parts = append(parts, fmt.Sprintf("not in cell roi table %v", e.Extra))
	}
	if len(e.Duplicates) > 0 {
		parts = append(parts, fmt.Sprintf("duplicated %v", e.Duplicates))
	}
	return fmt.Sprintf("%v: %s", ErrDataIntegrity, strings.Join(parts, "; "))
}

func (e *IntegrityError) Is(target error) bool { return target == ErrDataIntegrity }

// LengthMismatchError carries the counts behind a failed alignment.
type LengthMismatchError struct {
	Timestamps int
	Samples    int
	Grouped    bool
	Strict     bool
}

func (e *LengthMismatchError) Error() string {
	switch {
	case e.Grouped && e.Strict:
		return fmt.Sprintf("%v: dff frames (len=%d) is not equal to number of split timestamps (len=%d)",
			ErrLengthMismatch, e.Samples, e.Timestamps)
	case e.Grouped:
		return fmt.Sprintf("%v: dff frames (len=%d) exceed split timestamps (len=%d)",
			ErrLengthMismatch, e.Samples, e.Timestamps)
	default:
		return fmt.Sprintf("%v: dff frames (len=%d) is longer than timestamps (len=%d)",
			ErrLengthMismatch, e.Samples, e.Timestamps)
	}
}

func (e *LengthMismatchError) Is(target error) bool { return target == ErrLengthMismatch }
