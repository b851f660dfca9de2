package ophys

import (
	"fmt"
	"slices"

	"github.com/banshee-data/ophys.report/internal/monitoring"
)

// Acquisition describes how the frames of one experiment relate to the
// shared acquisition clock. PlaneGroup is nil for single-plane rigs.
type Acquisition struct {
	PlaneGroup *int
	GroupCount int

	// Strict requires a grouped acquisition to yield exactly as many
	// timestamps as trace samples instead of truncating the surplus.
	Strict bool
}

// Grouped reports whether the acquisition interleaves several planes.
func (a Acquisition) Grouped() bool { return a.PlaneGroup != nil }

// SelectPlaneTimestamps returns the timestamps that belong to planeGroup when
// groupCount planes share one clock. Only complete cycles of groupCount
// frames contribute; a trailing partial cycle is dropped. With groupCount <= 1
// the input is returned as a copy.
func SelectPlaneTimestamps(ts []float64, planeGroup, groupCount int) ([]float64, error) {
	if groupCount <= 1 {
		return slices.Clone(ts), nil
	}
	if planeGroup < 0 || planeGroup >= groupCount {
		return nil, fmt.Errorf("plane group %d out of range for %d groups", planeGroup, groupCount)
	}

	cycles := len(ts) / groupCount
	out := make([]float64, cycles)
	for k := range cycles {
		out[k] = ts[planeGroup+k*groupCount]
	}
	return out, nil
}

// AlignTimestamps fits an acquisition clock to a trace of samples frames.
//
// Single-plane clocks may run longer than the trace and are truncated; a
// trace longer than the clock is a *LengthMismatchError. Grouped clocks are
// first split to the plane, then truncated to samples (or, with Strict, must
// match exactly).
func AlignTimestamps(ts []float64, samples int, acq Acquisition) ([]float64, error) {
	if samples < 0 {
		return nil, fmt.Errorf("negative sample count %d", samples)
	}

	if !acq.Grouped() {
		switch {
		case samples > len(ts):
			return nil, &LengthMismatchError{Timestamps: len(ts), Samples: samples}
		case samples < len(ts):
			monitoring.Logf("Truncating acquisition frames ('ophys_frames') (len=%d) to the number of frames in the df/f trace (%d).",
				len(ts), samples)
		}
		return slices.Clone(ts[:samples]), nil
	}

	monitoring.Logf("Multi-plane data detected. Splitting timestamps (len=%d) over %d plane group(s).",
		len(ts), acq.GroupCount)
	split, err := SelectPlaneTimestamps(ts, *acq.PlaneGroup, acq.GroupCount)
	if err != nil {
		return nil, err
	}

	if acq.Strict && len(split) != samples {
		return nil, &LengthMismatchError{Timestamps: len(split), Samples: samples, Grouped: true, Strict: true}
	}
	if len(split) < samples {
		return nil, &LengthMismatchError{Timestamps: len(split), Samples: samples, Grouped: true}
	}
	return split[:samples], nil
}
