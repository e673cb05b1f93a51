package db

import (
	"strings"

	"github.com/verdant-labs/verdant/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed
// database, typically during graceful shutdown when the connection closes
// before every collector loop has drained.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks whether an error indicates the database connection
// is closed. Handles both wrapped ErrDatabaseClosed and the raw sql/sqlite
// driver messages, which cannot be wrapped at their source.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "database is closed") ||
		strings.Contains(errMsg, "sql: database is closed")
}
