package experiment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/ophys.report/internal/lims"
	"github.com/banshee-data/ophys.report/internal/ophys"
)

type fakeSource struct {
	metadata    *lims.ExperimentMetadata
	roiIDs      []int64
	rois        []lims.CellROI
	behaviorID  int64
	sessionUUID uuid.UUID
	files       map[string]string
	planeGroup  *int
	groupCount  int
	trials      []map[string]any
	err         error
}

func (f *fakeSource) ExperimentMetadata(ctx context.Context, id int64) (*lims.ExperimentMetadata, error) {
	if f.metadata == nil {
		return nil, &lims.OneResultExpectedError{What: "experiment metadata", ID: id}
	}
	return f.metadata, f.err
}

func (f *fakeSource) CellROIIDs(ctx context.Context, id int64) ([]int64, error) {
	return f.roiIDs, f.err
}

func (f *fakeSource) CellSpecimenTable(ctx context.Context, id int64) ([]lims.CellROI, error) {
	return f.rois, f.err
}

func (f *fakeSource) BehaviorSessionID(ctx context.Context, id int64) (int64, error) {
	if f.behaviorID == 0 {
		return 0, &lims.OneResultExpectedError{What: "behavior session", ID: id}
	}
	return f.behaviorID, f.err
}

func (f *fakeSource) BehaviorSessionUUID(ctx context.Context, bsid int64) (uuid.UUID, error) {
	return f.sessionUUID, f.err
}

func (f *fakeSource) WellKnownFilePath(ctx context.Context, id int64, ft lims.FileType) (string, error) {
	path, ok := f.files[ft.Name]
	if !ok {
		return "", &lims.OneResultExpectedError{What: ft.Name + " file", ID: id}
	}
	return path, f.err
}

func (f *fakeSource) ImagingPlaneGroup(ctx context.Context, id int64) (*int, error) {
	return f.planeGroup, f.err
}

func (f *fakeSource) PlaneGroupCount(ctx context.Context, id int64) (int, error) {
	return f.groupCount, f.err
}

func (f *fakeSource) ExtendedTrials(ctx context.Context, bsid int64) ([]map[string]any, error) {
	return f.trials, f.err
}

type fakeFiles struct {
	traces map[string]*ophys.TraceMatrix // keyed by path + "#" + dataset
	sync   map[string][]float64          // keyed by path + "#" + line
}

func (f *fakeFiles) ReadTraceTable(path, dataset string) (*ophys.TraceMatrix, error) {
	tm, ok := f.traces[path+"#"+dataset]
	if !ok {
		return nil, fmt.Errorf("no dataset %s in %s", dataset, path)
	}
	return tm, nil
}

func (f *fakeFiles) ReadSyncLine(path, line string) ([]float64, error) {
	times, ok := f.sync[path+"#"+line]
	if !ok {
		return nil, fmt.Errorf("no line %s in %s", line, path)
	}
	return times, nil
}
