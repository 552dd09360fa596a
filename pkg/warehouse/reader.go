package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

type ReaderConfig struct {
	Logger  *slog.Logger
	Session Session
	Dialect Dialect
	Table   string

	// CurrentColumn is the SCD current-version flag column, consulted only
	// when a keyed read asks for current rows. Defaults to "is_current".
	CurrentColumn string
}

func (cfg *ReaderConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Session == nil {
		return errors.New("session is required")
	}
	if cfg.Dialect == nil {
		return errors.New("dialect is required")
	}
	if cfg.Table == "" {
		return errors.New("table is required")
	}
	if cfg.CurrentColumn == "" {
		cfg.CurrentColumn = "is_current"
	}
	return nil
}

// Reader issues paginated and keyed reads against one warehouse table.
// It offers no snapshot guarantee across pages; callers needing consistency
// under concurrent mutation bring their own isolation level.
type Reader struct {
	log *slog.Logger
	cfg ReaderConfig
}

func NewReader(cfg ReaderConfig) (*Reader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Reader{log: cfg.Logger, cfg: cfg}, nil
}

// Page returns up to limit rows starting at offset, in the engine's natural
// storage order. No ordering is implied; callers needing determinism must
// include a sort key themselves.
func (r *Reader) Page(ctx context.Context, columns []string, limit, offset int) (*RecordSet, error) {
	if len(columns) == 0 {
		return nil, &ValidationError{Field: "columns", Message: "at least one column is required"}
	}
	if limit <= 0 {
		return nil, &ValidationError{Field: "limit", Message: "limit must be positive"}
	}
	if offset < 0 {
		return nil, &ValidationError{Field: "offset", Message: "offset must not be negative"}
	}

	query := fmt.Sprintf("SELECT %s FROM %s LIMIT %s OFFSET %s",
		strings.Join(columns, ", "),
		r.cfg.Table,
		r.cfg.Dialect.Placeholder(1),
		r.cfg.Dialect.Placeholder(2),
	)
	return r.query(ctx, query, limit, offset)
}

// ByKeys returns the rows whose key column matches any of keyValues.
// currentOnly additionally restricts the read to SCD-current rows. An empty
// key list is rejected rather than turned into an unbounded query.
func (r *Reader) ByKeys(ctx context.Context, columns []string, keyColumn string, keyValues []any, currentOnly bool) (*RecordSet, error) {
	if len(columns) == 0 {
		return nil, &ValidationError{Field: "columns", Message: "at least one column is required"}
	}
	if keyColumn == "" {
		return nil, &ValidationError{Field: "keyColumn", Message: "key column is required"}
	}
	if len(keyValues) == 0 {
		return nil, &ValidationError{Field: "keyValues", Message: "refusing an unbounded query: at least one key value is required"}
	}

	placeholders := make([]string, len(keyValues))
	for i := range keyValues {
		placeholders[i] = r.cfg.Dialect.Placeholder(i + 1)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
		strings.Join(columns, ", "),
		r.cfg.Table,
		keyColumn,
		strings.Join(placeholders, ", "),
	)
	if currentOnly {
		query += fmt.Sprintf(" AND %s = %s", r.cfg.CurrentColumn, r.cfg.Dialect.BooleanLiteral(true))
	}
	return r.query(ctx, query, keyValues...)
}

func (r *Reader) query(ctx context.Context, query string, args ...any) (*RecordSet, error) {
	rows, err := r.cfg.Session.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", r.cfg.Table, err)
	}
	defer func() { _ = rows.Close() }()

	rs, err := ScanRecordSet(rows)
	if err != nil {
		return nil, err
	}
	r.log.Debug("reader: fetched rows", "table", r.cfg.Table, "rows", len(rs.Rows))
	return rs, nil
}
