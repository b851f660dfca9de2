package lims

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
)

// OphysSession is a row of ophys_sessions.
type OphysSession struct {
	ID              int64
	RigName         string
	SessionType     string
	AcquisitionDate string
	FrameRate       float64
}

// BehaviorSession is a row of behavior_sessions.
type BehaviorSession struct {
	ID             int64
	OphysSessionID int64
	ForagingID     string
}

// Experiment is a row of ophys_experiments. PlaneGroup, when set, also
// creates the plane group row the experiment points at.
type Experiment struct {
	ID                int64
	OphysSessionID    int64
	ImagingDepth      int
	TargetedStructure string
	PlaneGroupID      *int64
	PlaneGroupOrder   int
}

// WellKnownFile is a row of well_known_files.
type WellKnownFile struct {
	ID           int64
	Type         FileType
	AttachableID int64
	Path         string
}

// InsertOphysSession stores an ophys session.
func (db *DB) InsertOphysSession(ctx context.Context, s OphysSession) error {
	_, err := db.ExecContext(ctx, db.rebind(`
		INSERT INTO ophys_sessions (id, rig_name, session_type, date_of_acquisition, frame_rate)
		VALUES (?, ?, ?, ?, ?)`),
		s.ID, s.RigName, s.SessionType, s.AcquisitionDate, s.FrameRate)
	if err != nil {
		return fmt.Errorf("failed to insert ophys session %d: %w", s.ID, err)
	}
	return nil
}

// InsertBehaviorSession stores a behavior session.
func (db *DB) InsertBehaviorSession(ctx context.Context, s BehaviorSession) error {
	_, err := db.ExecContext(ctx, db.rebind(`
		INSERT INTO behavior_sessions (id, ophys_session_id, foraging_id) VALUES (?, ?, ?)`),
		s.ID, s.OphysSessionID, s.ForagingID)
	if err != nil {
		return fmt.Errorf("failed to insert behavior session %d: %w", s.ID, err)
	}
	return nil
}

// InsertExperiment stores an experiment and, when PlaneGroupID is set, its
// plane group.
func (db *DB) InsertExperiment(ctx context.Context, e Experiment) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if e.PlaneGroupID != nil {
		var exists int
		if err := tx.QueryRowContext(ctx, db.rebind(`SELECT COUNT(*) FROM imaging_plane_groups WHERE id = ?`), *e.PlaneGroupID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to look up plane group %d: %w", *e.PlaneGroupID, err)
		}
		if exists == 0 {
			if _, err := tx.ExecContext(ctx, db.rebind(`INSERT INTO imaging_plane_groups (id, group_order) VALUES (?, ?)`),
				*e.PlaneGroupID, e.PlaneGroupOrder); err != nil {
				return fmt.Errorf("failed to insert plane group %d: %w", *e.PlaneGroupID, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, db.rebind(`
		INSERT INTO ophys_experiments (id, ophys_session_id, imaging_plane_group_id, imaging_depth, targeted_structure)
		VALUES (?, ?, ?, ?, ?)`),
		e.ID, e.OphysSessionID, nullable(e.PlaneGroupID), e.ImagingDepth, e.TargetedStructure); err != nil {
		return fmt.Errorf("failed to insert experiment %d: %w", e.ID, err)
	}
	return tx.Commit()
}

// InsertCellROI stores one ROI of an experiment.
func (db *DB) InsertCellROI(ctx context.Context, experimentID int64, roi CellROI) error {
	_, err := db.ExecContext(ctx, db.rebind(`
		INSERT INTO cell_rois (id, ophys_experiment_id, cell_specimen_id, x, y, width, height, valid_roi,
			max_correction_up, max_correction_down, max_correction_left, max_correction_right, mask_image_plane)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		roi.CellROIID, experimentID, nullable(roi.CellSpecimenID), roi.X, roi.Y, roi.Width, roi.Height, roi.ValidROI,
		roi.MaxCorrectionUp, roi.MaxCorrectionDown, roi.MaxCorrectionLeft, roi.MaxCorrectionRight,
		roi.MaskImagePlane)
	if err != nil {
		return fmt.Errorf("failed to insert cell roi %d: %w", roi.CellROIID, err)
	}
	return nil
}

// InsertWellKnownFile stores a file location. The path is split into its
// storage directory and file name.
func (db *DB) InsertWellKnownFile(ctx context.Context, f WellKnownFile) error {
	dir, name := filepath.Split(f.Path)
	_, err := db.ExecContext(ctx, db.rebind(`
		INSERT INTO well_known_files (id, attachable_type, attachable_id, file_type, storage_directory, filename)
		VALUES (?, ?, ?, ?, ?, ?)`),
		f.ID, string(f.Type.Attachable), f.AttachableID, f.Type.Name, dir, name)
	if err != nil {
		return fmt.Errorf("failed to insert %s file %d: %w", f.Type.Name, f.ID, err)
	}
	return nil
}

// InsertTrial stores one trial record of a behavior session.
func (db *DB) InsertTrial(ctx context.Context, behaviorSessionID int64, index int, record map[string]any) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode trial %d: %w", index, err)
	}
	_, err = db.ExecContext(ctx, db.rebind(`
		INSERT INTO behavior_trials (behavior_session_id, trial_index, record) VALUES (?, ?, ?)`),
		behaviorSessionID, index, string(raw))
	if err != nil {
		return fmt.Errorf("failed to insert trial %d of behavior session %d: %w", index, behaviorSessionID, err)
	}
	return nil
}

func nullable(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
