// Package tracefile reads fluorescence trace tables and sync line event
// times from HDF5 files.
package tracefile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robert-malhotra/go-hdf5/hdf5"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/ophys.report/internal/fsutil"
	"github.com/banshee-data/ophys.report/internal/ophys"
)

// Dataset names inside a trace table file. Neuropil-corrected files keep
// their traces under FC.
const (
	DataDataset      = "data"
	CorrectedDataset = "FC"
	ROINamesDataset  = "roi_names"
)

// Sync lines stored in a rig sync file, one 1-D dataset of event times each.
const (
	OphysFrames    = "ophys_frames"
	StimulusFrames = "stimulus_frames"
	LickTimes      = "lick_times"
	RewardTimes    = "reward_times"
)

// SyncLines lists the sync lines SyncData reads.
var SyncLines = []string{OphysFrames, StimulusFrames, LickTimes, RewardTimes}

// Reader reads trace and sync files after checking that they exist.
type Reader struct {
	FS fsutil.FileSystem
}

// NewReader returns a Reader over the local filesystem.
func NewReader() *Reader {
	return &Reader{FS: fsutil.OSFileSystem{}}
}

// ReadTraceTable reads the ROI-by-time matrix stored in dataset, keyed by the
// ids in roi_names. An empty dataset name reads DataDataset.
func (r *Reader) ReadTraceTable(path, dataset string) (*ophys.TraceMatrix, error) {
	if dataset == "" {
		dataset = DataDataset
	}
	if err := fsutil.RequireFile(r.fs(), path); err != nil {
		return nil, err
	}
	f, err := hdf5.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file %s: %w", path, err)
	}
	defer f.Close()

	data, err := f.OpenDataset(dataset)
	if err != nil {
		return nil, fmt.Errorf("trace file %s: %w", path, err)
	}
	shape := data.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("trace file %s: %s must be 2-D (rois x samples), got shape %v", path, dataset, shape)
	}
	flat, err := data.ReadFloat64()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from %s: %w", dataset, path, err)
	}

	names, err := f.OpenDataset(ROINamesDataset)
	if err != nil {
		return nil, fmt.Errorf("trace file %s: %w", path, err)
	}
	ids, err := readROINames(names)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from %s: %w", ROINamesDataset, path, err)
	}

	tm, err := assemble(shape, flat, ids)
	if err != nil {
		return nil, fmt.Errorf("trace file %s: %w", path, err)
	}
	return tm, nil
}

// ReadSyncLine reads the event times of one sync line.
func (r *Reader) ReadSyncLine(path, line string) ([]float64, error) {
	if err := fsutil.RequireFile(r.fs(), path); err != nil {
		return nil, err
	}
	f, err := hdf5.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sync file %s: %w", path, err)
	}
	defer f.Close()

	ds, err := f.OpenDataset(line)
	if err != nil {
		return nil, fmt.Errorf("sync file %s: line %s: %w", path, line, err)
	}
	if shape := ds.Shape(); len(shape) != 1 {
		return nil, fmt.Errorf("sync file %s: line %s must be 1-D, got shape %v", path, line, shape)
	}
	times, err := ds.ReadFloat64()
	if err != nil {
		return nil, fmt.Errorf("failed to read line %s from %s: %w", line, path, err)
	}
	return times, nil
}

func (r *Reader) fs() fsutil.FileSystem {
	if r.FS == nil {
		return fsutil.OSFileSystem{}
	}
	return r.FS
}

// readROINames reads roi_names as text ids, falling back to integers.
func readROINames(ds *hdf5.Dataset) ([]int64, error) {
	if shape := ds.Shape(); len(shape) != 1 {
		return nil, fmt.Errorf("roi names must be 1-D, got shape %v", shape)
	}
	if names, err := ds.ReadString(); err == nil {
		return ParseROINames(names)
	}
	ids, err := ds.ReadInt64()
	if err != nil {
		return nil, fmt.Errorf("roi names are neither text nor integers: %w", err)
	}
	return ids, nil
}

// ParseROINames converts text ROI names into ids. Fixed-length HDF5 strings
// may carry NUL padding.
func ParseROINames(names []string) ([]int64, error) {
	ids := make([]int64, len(names))
	for i, name := range names {
		clean := strings.TrimSpace(strings.TrimRight(name, "\x00"))
		id, err := strconv.ParseInt(clean, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("roi name %d (%q) is not an integer id", i, name)
		}
		ids[i] = id
	}
	return ids, nil
}

// assemble shapes flat row-major samples into a TraceMatrix.
func assemble(shape []uint64, flat []float64, ids []int64) (*ophys.TraceMatrix, error) {
	if len(shape) != 2 {
		return nil, fmt.Errorf("traces must be 2-D (rois x samples), got shape %v", shape)
	}
	rows, cols := int(shape[0]), int(shape[1])
	if rows*cols != len(flat) {
		return nil, fmt.Errorf("traces hold %d values, shape %v needs %d", len(flat), shape, rows*cols)
	}
	if rows != len(ids) {
		return nil, fmt.Errorf("traces have %d rows but %s has %d entries", rows, ROINamesDataset, len(ids))
	}
	if rows == 0 {
		return ophys.NewTraceMatrix(nil, nil)
	}
	if cols == 0 {
		return nil, fmt.Errorf("traces have no samples")
	}
	return ophys.NewTraceMatrix(ids, mat.NewDense(rows, cols, flat))
}
