package db

import (
	"path/filepath"
	"testing"

	"github.com/banshee-data/eyetrack/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

// newTestDB opens a migrated database in a temporary directory.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "eyetrack.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
