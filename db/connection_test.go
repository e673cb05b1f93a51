package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	t.Run("opens database with pragmas applied", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")

		conn, err := Open(dbPath, nil)
		require.NoError(t, err)
		require.NotNil(t, conn)
		defer conn.Close()

		var journalMode string
		require.NoError(t, conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
		assert.Equal(t, "wal", journalMode)

		var foreignKeys int
		require.NoError(t, conn.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
		assert.Equal(t, 1, foreignKeys)

		var busyTimeout int
		require.NoError(t, conn.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
		assert.Equal(t, SQLiteBusyTimeoutMS, busyTimeout)
	})

	t.Run("returns error for invalid path", func(t *testing.T) {
		conn, err := Open("/invalid/nonexistent/path/db.sqlite", nil)

		// Lazy connection on some platforms; Ping forces the failure.
		if err == nil && conn != nil {
			err = conn.Ping()
			conn.Close()
		}
		assert.Error(t, err)
	})
}

func TestMigrate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "migrate.db")
	conn, err := Open(dbPath, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, Migrate(conn, nil))

	// All tables exist after a full run.
	for _, table := range []string{"schema_migrations", "observations", "enrichments", "manual_entries"} {
		var name string
		err := conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, "table %s missing", table)
	}

	// Re-running is a no-op.
	require.NoError(t, Migrate(conn, nil))

	var count int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 4, count)
}

func TestIsDatabaseClosed(t *testing.T) {
	assert.False(t, IsDatabaseClosed(nil))
	assert.True(t, IsDatabaseClosed(ErrDatabaseClosed))

	conn, err := Open(filepath.Join(t.TempDir(), "closed.db"), nil)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	_, err = conn.Exec("SELECT 1")
	assert.True(t, IsDatabaseClosed(err))
}
