package lims

import (
	"context"
	"path/filepath"
	"testing"
)

const (
	testForagingID = "7d1c2a7e-3b5f-4c1d-9a2e-0f6b8c4d2e1a"

	sessionMeso   = int64(100)
	sessionSingle = int64(101)
	behaviorMeso  = int64(200)
	expPlane0     = int64(300)
	expPlane1     = int64(301)
	expSingle     = int64(400)
)

func int64Ptr(v int64) *int64 { return &v }

// newTestDB opens a migrated SQLite database in a temp directory.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "lims.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.MigrateUp(MigrationsFS()); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}
	return db
}

// newSeededDB returns a database holding a two-plane mesoscope session with
// a behavior session, and a single-plane session without one.
func newSeededDB(t *testing.T) *DB {
	t.Helper()
	db := newTestDB(t)
	ctx := context.Background()

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	must(db.InsertOphysSession(ctx, OphysSession{ID: sessionMeso, RigName: "MESO.1", SessionType: "OPHYS_1_images_A", AcquisitionDate: "2019-05-01T12:00:00Z", FrameRate: 11.0}))
	must(db.InsertOphysSession(ctx, OphysSession{ID: sessionSingle, RigName: "CAM2P.4", SessionType: "OPHYS_3_images_B", AcquisitionDate: "2019-06-02T09:30:00Z", FrameRate: 31.0}))
	must(db.InsertBehaviorSession(ctx, BehaviorSession{ID: behaviorMeso, OphysSessionID: sessionMeso, ForagingID: testForagingID}))

	must(db.InsertExperiment(ctx, Experiment{ID: expPlane0, OphysSessionID: sessionMeso, ImagingDepth: 150, TargetedStructure: "VISp", PlaneGroupID: int64Ptr(10), PlaneGroupOrder: 0}))
	must(db.InsertExperiment(ctx, Experiment{ID: expPlane1, OphysSessionID: sessionMeso, ImagingDepth: 225, TargetedStructure: "VISp", PlaneGroupID: int64Ptr(11), PlaneGroupOrder: 1}))
	must(db.InsertExperiment(ctx, Experiment{ID: expSingle, OphysSessionID: sessionSingle, ImagingDepth: 175, TargetedStructure: "VISl"}))

	for _, roi := range []CellROI{
		{CellROIID: 5, CellSpecimenID: int64Ptr(1005), X: 10, Y: 20, Width: 8, Height: 9, ValidROI: true, MaskImagePlane: 0},
		{CellROIID: 3, X: 30, Y: 40, Width: 7, Height: 7, ValidROI: true, MaxCorrectionUp: 1.5},
		{CellROIID: 1, CellSpecimenID: int64Ptr(1001), X: 50, Y: 60, Width: 6, Height: 5, ValidROI: true, MaskImagePlane: 1},
		{CellROIID: 9, CellSpecimenID: int64Ptr(1009), X: 70, Y: 80, Width: 4, Height: 4, ValidROI: false},
	} {
		must(db.InsertCellROI(ctx, expPlane0, roi))
	}

	must(db.InsertWellKnownFile(ctx, WellKnownFile{ID: 1, Type: StimulusPickle, AttachableID: behaviorMeso, Path: "/allen/behavior/200/stim.pkl"}))
	must(db.InsertWellKnownFile(ctx, WellKnownFile{ID: 2, Type: OphysDffTraceFile, AttachableID: expPlane0, Path: "/allen/ophys/300/dff.h5"}))
	must(db.InsertWellKnownFile(ctx, WellKnownFile{ID: 3, Type: OphysRigSync, AttachableID: sessionMeso, Path: "/allen/ophys/100/sync.h5"}))
	must(db.InsertWellKnownFile(ctx, WellKnownFile{ID: 4, Type: BehaviorOphysNwb, AttachableID: expPlane0, Path: "/allen/nwb/300/a.nwb"}))
	must(db.InsertWellKnownFile(ctx, WellKnownFile{ID: 5, Type: BehaviorOphysNwb, AttachableID: expPlane0, Path: "/allen/nwb/300/b.nwb"}))

	must(db.InsertTrial(ctx, behaviorMeso, 1, map[string]any{"trial": 1, "start_time": 12.5}))
	must(db.InsertTrial(ctx, behaviorMeso, 0, map[string]any{"trial": 0, "start_time": 2.5}))

	return db
}
