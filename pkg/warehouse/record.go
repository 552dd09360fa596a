// Package warehouse implements an incremental warehouse-loading engine:
// content-hash change detection, dialect-abstracted statement generation for
// MySQL and PostgreSQL, chunked batch writes, and slowly-changing-dimension
// merge logic driven by those hashes.
//
// The engine never owns the transaction. It consumes a Session (anything
// that can execute parameterized SQL, such as *sql.DB, *sql.Conn or *sql.Tx)
// and leaves commit/rollback to the caller, optionally through a Committer.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Session is the connection collaborator the engine executes against.
// *sql.DB, *sql.Conn and *sql.Tx all satisfy it.
type Session interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Committer is the optional transaction-boundary collaborator. The loaders
// call Commit between load steps when one is provided; when the Session is
// an autocommitting *sql.DB the caller passes nil.
type Committer interface {
	Commit() error
}

// Row holds one record's values, ordered to match its RecordSet columns.
type Row []any

// RecordSet is an ordered-column row set, the unit of data exchanged with
// the readers, writers and loaders.
type RecordSet struct {
	Columns []string
	Rows    []Row
}

// ColumnIndex returns the position of a column, or -1 if absent.
func (rs *RecordSet) ColumnIndex(column string) int {
	for i, c := range rs.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// Value returns the value of the named column in the given row.
func (rs *RecordSet) Value(row Row, column string) (any, error) {
	i := rs.ColumnIndex(column)
	if i < 0 {
		return nil, &ValidationError{Field: "column", Message: fmt.Sprintf("%s is not part of the record set", column)}
	}
	if i >= len(row) {
		return nil, &ValidationError{Field: "row", Message: fmt.Sprintf("row has %d values, column %s is at position %d", len(row), column, i)}
	}
	return row[i], nil
}

// ScanRecordSet drains sql.Rows into a RecordSet. []byte values are
// normalized to string so digests and key values compare across drivers.
func ScanRecordSet(rows *sql.Rows) (*RecordSet, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	rs := &RecordSet{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		rs.Rows = append(rs.Rows, Row(values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return rs, nil
}

// coerceString renders a value the way the hashing and key-matching paths
// expect: nil becomes the empty string, bytes become their string form,
// dates render as YYYY-MM-DD when they carry no clock component.
func coerceString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format("2006-01-02")
		}
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}

// coerceTime interprets a warehouse value as a point in time. Drivers hand
// dates back as time.Time when parse-time is enabled, otherwise as text.
func coerceTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return parseDate(t)
	case []byte:
		return parseDate(string(t))
	default:
		return time.Time{}, fmt.Errorf("value %v (%T) is not a date", v, v)
	}
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}
