// Package ophys aligns optical-physiology data that arrives from separate
// sources: fluorescence traces keyed by ROI id, the canonical ROI ordering of
// an experiment, and the acquisition clock of one or more imaging planes.
//
// The package works on plain values. Reading trace files, querying LIMS and
// choosing which sync line to use happen in the callers.
package ophys
