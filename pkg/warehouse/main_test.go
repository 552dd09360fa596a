package warehouse

import (
	"database/sql"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/andesdata/warehouse/pkg/logger"
)

func testLogger() *slog.Logger {
	if os.Getenv("TEST_LOG_LEVEL") == "debug" {
		return logger.New(os.Stderr, true)
	}
	return logger.New(io.Discard, false)
}

// newMockSession returns a sqlmock-backed session that matches statements
// by exact text, which is what the statement builders are specified by.
func newMockSession(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func usersSchema() TableSchema {
	return TableSchema{
		Table:      "users",
		Namespace:  "public",
		Columns:    []string{"id", "name", "email"},
		PrimaryKey: []string{"id"},
	}
}
