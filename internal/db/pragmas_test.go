package db

import (
	"path/filepath"
	"testing"
)

// TestPragmasApplied verifies that essential PRAGMAs are set on all databases
func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}

	var busyTimeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("Failed to query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("Expected busy_timeout=5000, got %d", busyTimeout)
	}

	var synchronous int
	if err := db.QueryRow("PRAGMA synchronous").Scan(&synchronous); err != nil {
		t.Fatalf("Failed to query synchronous: %v", err)
	}
	if synchronous != 1 { // 1 = NORMAL
		t.Errorf("Expected synchronous=1 (NORMAL), got %d", synchronous)
	}

	var tempStore int
	if err := db.QueryRow("PRAGMA temp_store").Scan(&tempStore); err != nil {
		t.Fatalf("Failed to query temp_store: %v", err)
	}
	if tempStore != 2 { // 2 = MEMORY
		t.Errorf("Expected temp_store=2 (MEMORY), got %d", tempStore)
	}
}

func TestMigrations_UpDownVersion(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "migrate.db"))
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	defer db.Close()

	v, dirty, err := db.MigrateVersion(MigrationsFS())
	if err != nil || v != 0 || dirty {
		t.Fatalf("fresh database: version=%d dirty=%v err=%v", v, dirty, err)
	}

	if err := db.MigrateUp(MigrationsFS()); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	// running again is a no-op
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		t.Fatalf("second MigrateUp failed: %v", err)
	}
	v, dirty, err = db.MigrateVersion(MigrationsFS())
	if err != nil || v != 1 || dirty {
		t.Fatalf("after up: version=%d dirty=%v err=%v", v, dirty, err)
	}

	if err := db.MigrateDown(MigrationsFS()); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='eye_positions'`).Scan(&n); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	if n != 0 {
		t.Errorf("eye_positions still present after down migration")
	}
}

func TestMigrateUp_RefusesDirtyDatabase(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.Exec(`UPDATE schema_migrations SET dirty = 1`); err != nil {
		t.Fatalf("mark dirty: %v", err)
	}
	if err := db.MigrateUp(MigrationsFS()); err == nil {
		t.Fatal("expected MigrateUp to refuse a dirty database")
	}
}
