package lims

import (
	"path/filepath"
	"testing"
)

func TestMigrateUp_CreatesTables(t *testing.T) {
	db := newTestDB(t)

	for _, table := range []string{"ophys_sessions", "behavior_sessions", "imaging_plane_groups", "ophys_experiments", "cell_rois", "well_known_files", "behavior_trials"} {
		var count int
		err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("Failed to check table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Expected table %s to exist", table)
		}
	}

	// Running again is a no-op.
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		t.Fatalf("Second MigrateUp failed: %v", err)
	}
}

func TestMigrateVersionAndDown(t *testing.T) {
	db := newTestDB(t)
	fsys := MigrationsFS()

	latest, err := LatestMigrationVersion(fsys)
	if err != nil {
		t.Fatalf("LatestMigrationVersion failed: %v", err)
	}
	if latest != 2 {
		t.Errorf("Expected latest version 2, got %d", latest)
	}

	version, dirty, err := db.MigrateVersion(fsys)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != latest || dirty {
		t.Errorf("Expected version %d clean, got %d dirty=%v", latest, version, dirty)
	}

	if err := db.MigrateDown(fsys); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	version, _, err = db.MigrateVersion(fsys)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 {
		t.Errorf("Expected version 1 after down, got %d", version)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'behavior_trials'`).Scan(&count); err != nil {
		t.Fatalf("Failed to check table: %v", err)
	}
	if count != 0 {
		t.Error("Expected behavior_trials to be dropped")
	}

	if err := db.MigrateTo(fsys, 2); err != nil {
		t.Fatalf("MigrateTo failed: %v", err)
	}
	status, err := db.GetMigrationStatus(fsys)
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	if status.CurrentVersion != 2 || status.Pending() || !status.SchemaMigrationsExists {
		t.Errorf("Unexpected status after MigrateTo: %+v", status)
	}
}

func TestMigrationStatus_FreshDatabase(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fresh.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	status, err := db.GetMigrationStatus(MigrationsFS())
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	if status.CurrentVersion != 0 || !status.Pending() {
		t.Errorf("Expected a fresh database to have pending migrations, got %+v", status)
	}
}

func TestMigrateForce(t *testing.T) {
	db := newTestDB(t)
	fsys := MigrationsFS()

	if err := db.MigrateForce(fsys, 1); err != nil {
		t.Fatalf("MigrateForce failed: %v", err)
	}
	version, dirty, err := db.MigrateVersion(fsys)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("Expected forced version 1 clean, got %d dirty=%v", version, dirty)
	}
}
