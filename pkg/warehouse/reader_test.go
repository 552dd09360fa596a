package warehouse

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newTestReader(t *testing.T, dialectKind string) (*Reader, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockSession(t)
	dialect, err := NewDialect(dialectKind)
	require.NoError(t, err)
	reader, err := NewReader(ReaderConfig{
		Logger:  testLogger(),
		Session: db,
		Dialect: dialect,
		Table:   "users",
	})
	require.NoError(t, err)
	return reader, mock
}

func TestWarehouse_Reader_Page(t *testing.T) {
	reader, mock := newTestReader(t, "mysql")

	mock.ExpectQuery("SELECT id, name FROM users LIMIT ? OFFSET ?").
		WithArgs(2, 4).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(5, []byte("Eve")).
			AddRow(6, "Frank"))

	rs, err := reader.Page(context.Background(), []string{"id", "name"}, 2, 4)
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name"}, rs.Columns)
	require.Len(t, rs.Rows, 2)
	// Driver byte slices come back as strings.
	require.Equal(t, "Eve", rs.Rows[0][1])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWarehouse_Reader_PagePostgresPlaceholders(t *testing.T) {
	reader, mock := newTestReader(t, "postgres")

	mock.ExpectQuery("SELECT id FROM users LIMIT $1 OFFSET $2").
		WithArgs(10, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := reader.Page(context.Background(), []string{"id"}, 10, 0)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWarehouse_Reader_PageValidation(t *testing.T) {
	reader, _ := newTestReader(t, "mysql")
	ctx := context.Background()

	var valErr *ValidationError
	_, err := reader.Page(ctx, nil, 10, 0)
	require.True(t, errors.As(err, &valErr))

	_, err = reader.Page(ctx, []string{"id"}, 0, 0)
	require.True(t, errors.As(err, &valErr))

	_, err = reader.Page(ctx, []string{"id"}, 10, -1)
	require.True(t, errors.As(err, &valErr))
}

func TestWarehouse_Reader_ByKeys(t *testing.T) {
	reader, mock := newTestReader(t, "mysql")

	mock.ExpectQuery("SELECT id, name FROM users WHERE id IN (?, ?, ?)").
		WithArgs(1, 2, 3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "Alice"))

	rs, err := reader.ByKeys(context.Background(), []string{"id", "name"}, "id", []any{1, 2, 3}, false)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWarehouse_Reader_ByKeysCurrentOnly(t *testing.T) {
	for _, tt := range []struct {
		dialect string
		query   string
	}{
		{"mysql", "SELECT id, name FROM users WHERE id IN (?, ?) AND is_current = 1"},
		{"postgres", "SELECT id, name FROM users WHERE id IN ($1, $2) AND is_current = TRUE"},
	} {
		t.Run(tt.dialect, func(t *testing.T) {
			reader, mock := newTestReader(t, tt.dialect)

			mock.ExpectQuery(tt.query).
				WithArgs("k1", "k2").
				WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

			_, err := reader.ByKeys(context.Background(), []string{"id", "name"}, "id", []any{"k1", "k2"}, true)
			require.NoError(t, err)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestWarehouse_Reader_ByKeysRejectsEmptyKeyList(t *testing.T) {
	reader, _ := newTestReader(t, "mysql")

	_, err := reader.ByKeys(context.Background(), []string{"id"}, "id", nil, false)

	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))
	require.Equal(t, "keyValues", valErr.Field)
}
