package sqlite

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// OpenTestDB opens a temporary SQLite database with all migrations applied.
// A file-backed database is used because each connection to ":memory:"
// gets its own private database, so migrations would not be visible to
// other pooled connections. The database is closed when the test finishes.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
