// Package testing holds shared test helpers.
package testing

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/verdant-labs/verdant/db"
)

// CreateTestDB opens a migrated SQLite database in a per-test temp
// directory. Cleanup is registered via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.Open(filepath.Join(t.TempDir(), "verdant-test.db"), nil)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := db.Migrate(conn, nil); err != nil {
		conn.Close()
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}
