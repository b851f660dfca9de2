// Package experiment answers data queries about one ophys experiment by
// combining LIMS records with the trace and sync files they point at.
package experiment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/ophys.report/internal/lims"
	"github.com/banshee-data/ophys.report/internal/monitoring"
	"github.com/banshee-data/ophys.report/internal/ophys"
	"github.com/banshee-data/ophys.report/internal/tracefile"
	"github.com/banshee-data/ophys.report/internal/trials"
)

// DataSource provides the LIMS records of experiments. *lims.DB implements it.
type DataSource interface {
	ExperimentMetadata(ctx context.Context, experimentID int64) (*lims.ExperimentMetadata, error)
	CellROIIDs(ctx context.Context, experimentID int64) ([]int64, error)
	CellSpecimenTable(ctx context.Context, experimentID int64) ([]lims.CellROI, error)
	BehaviorSessionID(ctx context.Context, experimentID int64) (int64, error)
	BehaviorSessionUUID(ctx context.Context, behaviorSessionID int64) (uuid.UUID, error)
	WellKnownFilePath(ctx context.Context, experimentID int64, ft lims.FileType) (string, error)
	ImagingPlaneGroup(ctx context.Context, experimentID int64) (*int, error)
	PlaneGroupCount(ctx context.Context, experimentID int64) (int, error)
	ExtendedTrials(ctx context.Context, behaviorSessionID int64) ([]map[string]any, error)
}

// FileReader reads trace tables and sync lines. *tracefile.Reader
// implements it.
type FileReader interface {
	ReadTraceTable(path, dataset string) (*ophys.TraceMatrix, error)
	ReadSyncLine(path, line string) ([]float64, error)
}

// Api answers queries for a single experiment. Every call reads its sources
// afresh.
type Api struct {
	id     int64
	src    DataSource
	files  FileReader
	strict bool
}

// Option configures an Api.
type Option func(*Api)

// WithStrictPlaneAlignment makes OphysTimestamps require a multi-plane clock
// to match the trace length exactly instead of truncating it.
func WithStrictPlaneAlignment() Option {
	return func(a *Api) { a.strict = true }
}

// New returns an Api for experimentID.
func New(experimentID int64, src DataSource, files FileReader, opts ...Option) *Api {
	a := &Api{id: experimentID, src: src, files: files}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ID returns the experiment id.
func (a *Api) ID() int64 { return a.id }

func (a *Api) Metadata(ctx context.Context) (*lims.ExperimentMetadata, error) {
	return a.src.ExperimentMetadata(ctx, a.id)
}

func (a *Api) CellSpecimenTable(ctx context.Context) ([]lims.CellROI, error) {
	return a.src.CellSpecimenTable(ctx, a.id)
}

func (a *Api) CellROIIDs(ctx context.Context) ([]int64, error) {
	return a.src.CellROIIDs(ctx, a.id)
}

func (a *Api) BehaviorSessionID(ctx context.Context) (int64, error) {
	return a.src.BehaviorSessionID(ctx, a.id)
}

// BehaviorStimulusFile returns the path of the behavior session's stimulus
// pickle. A missing file is a *lims.OneResultExpectedError.
func (a *Api) BehaviorStimulusFile(ctx context.Context) (string, error) {
	return a.src.WellKnownFilePath(ctx, a.id, lims.StimulusPickle)
}

// NWBFilePath returns the path of the experiment's behavior+ophys NWB file.
func (a *Api) NWBFilePath(ctx context.Context) (string, error) {
	return a.src.WellKnownFilePath(ctx, a.id, lims.BehaviorOphysNwb)
}

// ExtendedTrials returns the validated trial table of the experiment's
// behavior session. Every trial must name that session's UUID.
func (a *Api) ExtendedTrials(ctx context.Context) ([]trials.ExtendedTrial, error) {
	bsid, err := a.src.BehaviorSessionID(ctx, a.id)
	if err != nil {
		return nil, err
	}
	sessionUUID, err := a.src.BehaviorSessionUUID(ctx, bsid)
	if err != nil {
		return nil, err
	}
	records, err := a.src.ExtendedTrials(ctx, bsid)
	if err != nil {
		return nil, err
	}

	out, err := trials.Load(records)
	if err != nil {
		return nil, fmt.Errorf("behavior session %d: %w", bsid, err)
	}
	for i, t := range out {
		if u, err := uuid.Parse(t.BehaviorSessionUUID); err != nil || u != sessionUUID {
			return nil, fmt.Errorf("behavior session %d: trial %d names session %s, want %s",
				bsid, i, t.BehaviorSessionUUID, sessionUUID)
		}
	}
	return out, nil
}

// RawDFFTraces returns the dF/F traces with rows in canonical ROI order.
func (a *Api) RawDFFTraces(ctx context.Context) (*ophys.TraceMatrix, error) {
	return a.orderedTraces(ctx, lims.OphysDffTraceFile, tracefile.DataDataset)
}

// DemixedTraces returns the demixed fluorescence traces in canonical ROI
// order.
func (a *Api) DemixedTraces(ctx context.Context) (*ophys.TraceMatrix, error) {
	return a.orderedTraces(ctx, lims.DemixedTracesFile, tracefile.DataDataset)
}

// CorrectedFluorescenceTraces returns the neuropil-corrected fluorescence
// traces in canonical ROI order.
func (a *Api) CorrectedFluorescenceTraces(ctx context.Context) (*ophys.TraceMatrix, error) {
	return a.orderedTraces(ctx, lims.NeuropilCorrection, tracefile.CorrectedDataset)
}

func (a *Api) orderedTraces(ctx context.Context, ft lims.FileType, dataset string) (*ophys.TraceMatrix, error) {
	tm, err := a.readTraces(ctx, ft, dataset)
	if err != nil {
		return nil, err
	}
	ids, err := a.src.CellROIIDs(ctx, a.id)
	if err != nil {
		return nil, err
	}
	ordered, err := ophys.ReorderTraces(tm, ids)
	if err != nil {
		return nil, fmt.Errorf("experiment %d %s: %w", a.id, ft.Name, err)
	}
	return ordered, nil
}

func (a *Api) readTraces(ctx context.Context, ft lims.FileType, dataset string) (*ophys.TraceMatrix, error) {
	path, err := a.src.WellKnownFilePath(ctx, a.id, ft)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("experiment %d: reading %s from %s", a.id, ft.Name, path)
	return a.files.ReadTraceTable(path, dataset)
}

// SyncData returns the event times of every sync line of the experiment's
// session.
func (a *Api) SyncData(ctx context.Context) (map[string][]float64, error) {
	path, err := a.src.WellKnownFilePath(ctx, a.id, lims.OphysRigSync)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]float64, len(tracefile.SyncLines))
	for _, line := range tracefile.SyncLines {
		times, err := a.files.ReadSyncLine(path, line)
		if err != nil {
			return nil, err
		}
		out[line] = times
	}
	return out, nil
}

// OphysTimestamps returns one acquisition timestamp per dF/F sample. For
// multi-plane sessions the shared clock is first split to this
// experiment's plane group.
func (a *Api) OphysTimestamps(ctx context.Context) ([]float64, error) {
	frames, err := a.syncLine(ctx, tracefile.OphysFrames)
	if err != nil {
		return nil, err
	}
	dff, err := a.readTraces(ctx, lims.OphysDffTraceFile, tracefile.DataDataset)
	if err != nil {
		return nil, err
	}
	acq, err := a.Acquisition(ctx)
	if err != nil {
		return nil, err
	}

	ts, err := ophys.AlignTimestamps(frames, dff.Samples(), acq)
	if err != nil {
		return nil, fmt.Errorf("experiment %d: %w", a.id, err)
	}
	return ts, nil
}

// StimulusTimestamps returns the stimulus frame times of the session.
func (a *Api) StimulusTimestamps(ctx context.Context) ([]float64, error) {
	return a.syncLine(ctx, tracefile.StimulusFrames)
}

// Acquisition describes the experiment's place in its session's plane
// groups.
func (a *Api) Acquisition(ctx context.Context) (ophys.Acquisition, error) {
	group, err := a.src.ImagingPlaneGroup(ctx, a.id)
	if err != nil {
		return ophys.Acquisition{}, err
	}
	count, err := a.src.PlaneGroupCount(ctx, a.id)
	if err != nil {
		return ophys.Acquisition{}, err
	}
	return ophys.Acquisition{PlaneGroup: group, GroupCount: count, Strict: a.strict}, nil
}

func (a *Api) syncLine(ctx context.Context, line string) ([]float64, error) {
	path, err := a.src.WellKnownFilePath(ctx, a.id, lims.OphysRigSync)
	if err != nil {
		return nil, err
	}
	return a.files.ReadSyncLine(path, line)
}
