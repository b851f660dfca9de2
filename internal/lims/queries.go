package lims

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ExperimentMetadata describes one ophys experiment and its session.
type ExperimentMetadata struct {
	ExperimentID      int64   `json:"ophys_experiment_id"`
	OphysSessionID    int64   `json:"ophys_session_id"`
	BehaviorSessionID *int64  `json:"behavior_session_id"`
	ImagingDepth      int     `json:"imaging_depth"`
	TargetedStructure string  `json:"targeted_structure"`
	RigName           string  `json:"rig_name"`
	SessionType       string  `json:"session_type"`
	AcquisitionDate   string  `json:"date_of_acquisition"`
	FrameRate         float64 `json:"ophys_frame_rate"`
	PlaneGroup        *int    `json:"imaging_plane_group"`
	GroupCount        int     `json:"plane_group_count"`
}

// CellROI is one row of the cell specimen table.
type CellROI struct {
	CellROIID          int64   `json:"cell_roi_id"`
	CellSpecimenID     *int64  `json:"cell_specimen_id"`
	X                  int     `json:"x"`
	Y                  int     `json:"y"`
	Width              int     `json:"width"`
	Height             int     `json:"height"`
	ValidROI           bool    `json:"valid_roi"`
	MaxCorrectionUp    float64 `json:"max_correction_up"`
	MaxCorrectionDown  float64 `json:"max_correction_down"`
	MaxCorrectionLeft  float64 `json:"max_correction_left"`
	MaxCorrectionRight float64 `json:"max_correction_right"`
	MaskImagePlane     int     `json:"mask_image_plane"`
}

// Attachable names the kind of record a well-known file hangs off.
type Attachable string

const (
	AttachOphysExperiment Attachable = "OphysExperiment"
	AttachOphysSession    Attachable = "OphysSession"
	AttachBehaviorSession Attachable = "BehaviorSession"
)

// FileType is a well-known file type and the record kind it is attached to.
type FileType struct {
	Name       string
	Attachable Attachable
}

var (
	StimulusPickle     = FileType{"StimulusPickle", AttachBehaviorSession}
	BehaviorOphysNwb   = FileType{"BehaviorOphysNwb", AttachOphysExperiment}
	OphysDffTraceFile  = FileType{"OphysDffTraceFile", AttachOphysExperiment}
	DemixedTracesFile  = FileType{"DemixedTracesFile", AttachOphysExperiment}
	NeuropilCorrection = FileType{"NeuropilCorrection", AttachOphysExperiment}
	OphysRigSync       = FileType{"OphysRigSync", AttachOphysSession}
)

// FileTypes lists the known file types.
var FileTypes = []FileType{
	StimulusPickle,
	BehaviorOphysNwb,
	OphysDffTraceFile,
	DemixedTracesFile,
	NeuropilCorrection,
	OphysRigSync,
}

// ExperimentMetadata returns the metadata of one experiment.
func (db *DB) ExperimentMetadata(ctx context.Context, experimentID int64) (*ExperimentMetadata, error) {
	const query = `
		SELECT oe.id, oe.ophys_session_id, bs.id, oe.imaging_depth, oe.targeted_structure,
			os.rig_name, os.session_type, os.date_of_acquisition, os.frame_rate, pg.group_order
		FROM ophys_experiments oe
		JOIN ophys_sessions os ON os.id = oe.ophys_session_id
		LEFT JOIN behavior_sessions bs ON bs.ophys_session_id = os.id
		LEFT JOIN imaging_plane_groups pg ON pg.id = oe.imaging_plane_group_id
		WHERE oe.id = ?`

	var (
		md         ExperimentMetadata
		behavior   sql.NullInt64
		planeGroup sql.NullInt64
	)
	err := db.queryOne(ctx, "experiment metadata", experimentID, query, []any{experimentID}, func(rows *sql.Rows) error {
		return rows.Scan(&md.ExperimentID, &md.OphysSessionID, &behavior, &md.ImagingDepth,
			&md.TargetedStructure, &md.RigName, &md.SessionType, &md.AcquisitionDate,
			&md.FrameRate, &planeGroup)
	})
	if err != nil {
		return nil, err
	}
	if behavior.Valid {
		md.BehaviorSessionID = &behavior.Int64
	}
	if planeGroup.Valid {
		pg := int(planeGroup.Int64)
		md.PlaneGroup = &pg
	}

	md.GroupCount, err = db.PlaneGroupCount(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	return &md, nil
}

// CellROIIDs returns the ids of the valid ROIs of an experiment in
// ascending order. This is the canonical order of trace rows.
func (db *DB) CellROIIDs(ctx context.Context, experimentID int64) ([]int64, error) {
	rows, err := db.QueryContext(ctx, db.rebind(`
		SELECT id FROM cell_rois
		WHERE ophys_experiment_id = ? AND valid_roi = ?
		ORDER BY id`), experimentID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to query cell roi ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan cell roi id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// CellSpecimenTable returns the valid ROIs of an experiment ordered by id.
func (db *DB) CellSpecimenTable(ctx context.Context, experimentID int64) ([]CellROI, error) {
	rows, err := db.QueryContext(ctx, db.rebind(`
		SELECT id, cell_specimen_id, x, y, width, height, valid_roi,
			max_correction_up, max_correction_down, max_correction_left, max_correction_right,
			mask_image_plane
		FROM cell_rois
		WHERE ophys_experiment_id = ? AND valid_roi = ?
		ORDER BY id`), experimentID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to query cell specimen table: %w", err)
	}
	defer rows.Close()

	var out []CellROI
	for rows.Next() {
		var (
			roi      CellROI
			specimen sql.NullInt64
		)
		if err := rows.Scan(&roi.CellROIID, &specimen, &roi.X, &roi.Y, &roi.Width, &roi.Height,
			&roi.ValidROI, &roi.MaxCorrectionUp, &roi.MaxCorrectionDown, &roi.MaxCorrectionLeft,
			&roi.MaxCorrectionRight, &roi.MaskImagePlane); err != nil {
			return nil, fmt.Errorf("failed to scan cell roi: %w", err)
		}
		if specimen.Valid {
			id := specimen.Int64
			roi.CellSpecimenID = &id
		}
		out = append(out, roi)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// BehaviorSessionID returns the behavior session recorded alongside an
// experiment's ophys session.
func (db *DB) BehaviorSessionID(ctx context.Context, experimentID int64) (int64, error) {
	const query = `
		SELECT bs.id
		FROM behavior_sessions bs
		JOIN ophys_experiments oe ON oe.ophys_session_id = bs.ophys_session_id
		WHERE oe.id = ?`

	var id int64
	err := db.queryOne(ctx, "behavior session", experimentID, query, []any{experimentID}, func(rows *sql.Rows) error {
		return rows.Scan(&id)
	})
	return id, err
}

// BehaviorSessionUUID returns the foraging UUID of a behavior session.
func (db *DB) BehaviorSessionUUID(ctx context.Context, behaviorSessionID int64) (uuid.UUID, error) {
	var raw string
	err := db.queryOne(ctx, "behavior session uuid", behaviorSessionID,
		`SELECT foraging_id FROM behavior_sessions WHERE id = ?`, []any{behaviorSessionID},
		func(rows *sql.Rows) error { return rows.Scan(&raw) })
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("behavior session %d has malformed foraging id %q: %w", behaviorSessionID, raw, err)
	}
	return id, nil
}

// WellKnownFilePath returns the storage path of the file of type ft that
// belongs to an experiment, its ophys session or its behavior session.
func (db *DB) WellKnownFilePath(ctx context.Context, experimentID int64, ft FileType) (string, error) {
	var query string
	switch ft.Attachable {
	case AttachOphysExperiment:
		query = `
			SELECT wkf.storage_directory || wkf.filename
			FROM well_known_files wkf
			WHERE wkf.attachable_type = ? AND wkf.file_type = ? AND wkf.attachable_id = ?`
	case AttachOphysSession:
		query = `
			SELECT wkf.storage_directory || wkf.filename
			FROM well_known_files wkf
			JOIN ophys_experiments oe ON oe.ophys_session_id = wkf.attachable_id
			WHERE wkf.attachable_type = ? AND wkf.file_type = ? AND oe.id = ?`
	case AttachBehaviorSession:
		query = `
			SELECT wkf.storage_directory || wkf.filename
			FROM well_known_files wkf
			JOIN behavior_sessions bs ON bs.id = wkf.attachable_id
			JOIN ophys_experiments oe ON oe.ophys_session_id = bs.ophys_session_id
			WHERE wkf.attachable_type = ? AND wkf.file_type = ? AND oe.id = ?`
	default:
		return "", fmt.Errorf("unknown attachable type %q for file type %s", ft.Attachable, ft.Name)
	}

	var path string
	err := db.queryOne(ctx, ft.Name+" file", experimentID, query,
		[]any{string(ft.Attachable), ft.Name, experimentID},
		func(rows *sql.Rows) error { return rows.Scan(&path) })
	return path, err
}

// ImagingPlaneGroup returns the plane group of an experiment, or nil when the
// experiment was not acquired in a multi-plane group.
func (db *DB) ImagingPlaneGroup(ctx context.Context, experimentID int64) (*int, error) {
	const query = `
		SELECT pg.group_order
		FROM ophys_experiments oe
		LEFT JOIN imaging_plane_groups pg ON pg.id = oe.imaging_plane_group_id
		WHERE oe.id = ?`

	var group sql.NullInt64
	err := db.queryOne(ctx, "imaging plane group", experimentID, query, []any{experimentID},
		func(rows *sql.Rows) error { return rows.Scan(&group) })
	if err != nil {
		return nil, err
	}
	if !group.Valid {
		return nil, nil
	}
	g := int(group.Int64)
	return &g, nil
}

// PlaneGroupCount returns the number of distinct plane groups acquired in
// the experiment's ophys session. Zero means no plane groups.
func (db *DB) PlaneGroupCount(ctx context.Context, experimentID int64) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, db.rebind(`
		SELECT COUNT(DISTINCT pg.group_order)
		FROM ophys_experiments oe
		JOIN ophys_experiments sib ON sib.ophys_session_id = oe.ophys_session_id
		JOIN imaging_plane_groups pg ON pg.id = sib.imaging_plane_group_id
		WHERE oe.id = ?`), experimentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count plane groups: %w", err)
	}
	return count, nil
}

// ExtendedTrials returns the stored trial records of a behavior session in
// trial order, one decoded JSON object per trial.
func (db *DB) ExtendedTrials(ctx context.Context, behaviorSessionID int64) ([]map[string]any, error) {
	rows, err := db.QueryContext(ctx, db.rebind(`
		SELECT trial_index, record FROM behavior_trials
		WHERE behavior_session_id = ?
		ORDER BY trial_index`), behaviorSessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trials: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var (
			index  int
			record string
		)
		if err := rows.Scan(&index, &record); err != nil {
			return nil, fmt.Errorf("failed to scan trial: %w", err)
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(record), &rec); err != nil {
			return nil, fmt.Errorf("trial %d of behavior session %d: %w", index, behaviorSessionID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// queryOne runs a lookup that must match exactly one row and scans it.
func (db *DB) queryOne(ctx context.Context, what string, id int64, query string, args []any, scan func(*sql.Rows) error) error {
	rows, err := db.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", what, err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		count++
		if count == 1 {
			if err := scan(rows); err != nil {
				return fmt.Errorf("failed to scan %s: %w", what, err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", what, err)
	}
	if count != 1 {
		return &OneResultExpectedError{What: what, ID: id, Count: count}
	}
	return nil
}
