package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

type CatalogConfig struct {
	Logger  *slog.Logger
	Session Session
	Dialect Dialect

	// Namespace is the database for MySQL or the schema for PostgreSQL.
	Namespace string
}

func (cfg *CatalogConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Session == nil {
		return errors.New("session is required")
	}
	if cfg.Dialect == nil {
		return errors.New("dialect is required")
	}
	if cfg.Namespace == "" {
		return errors.New("namespace is required")
	}
	return nil
}

// Catalog introspects and caches the bound table's column list and primary
// key, and memoizes statement text built from them. Rebinding replaces the
// column list and invalidates everything derived from it.
type Catalog struct {
	log *slog.Logger
	cfg CatalogConfig

	schema   TableSchema
	pkLoaded bool
	stmts    map[string]string
}

func NewCatalog(cfg CatalogConfig) (*Catalog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Catalog{
		log:   cfg.Logger,
		cfg:   cfg,
		stmts: make(map[string]string),
	}, nil
}

// Bind introspects the table's columns and makes it the catalog's bound
// table. Zero introspected columns fail with a SchemaError: the table is
// missing or the session lacks privileges, and the catalog never proceeds
// silently. Any previously cached primary key and statement text is
// invalidated.
func (c *Catalog) Bind(ctx context.Context, table string) error {
	if table == "" {
		return &ValidationError{Field: "table", Message: "table name must be a non-empty string"}
	}

	if stmt := c.cfg.Dialect.NamespaceStatement(c.cfg.Namespace); stmt != "" {
		if _, err := c.cfg.Session.ExecContext(ctx, stmt); err != nil {
			return &SchemaError{Table: table, Op: "switch namespace", Err: err}
		}
	}

	columns, err := c.introspect(ctx, c.cfg.Dialect.ColumnsQuery(), table)
	if err != nil {
		return &SchemaError{Table: table, Op: "introspect columns", Err: err}
	}
	if len(columns) == 0 {
		return &SchemaError{Table: table, Op: "introspect columns", Err: fmt.Errorf("no columns visible; check that the table exists and the user has privileges on %s", c.cfg.Namespace)}
	}

	c.schema = TableSchema{
		Table:     table,
		Namespace: c.cfg.Namespace,
		Columns:   columns,
	}
	c.pkLoaded = false
	c.stmts = make(map[string]string)

	c.log.Info("catalog: bound table", "table", table, "namespace", c.cfg.Namespace, "columns", len(columns))
	return nil
}

// Schema returns a copy of the bound table's schema.
func (c *Catalog) Schema() TableSchema {
	schema := c.schema
	schema.Columns = append([]string(nil), c.schema.Columns...)
	schema.PrimaryKey = append([]string(nil), c.schema.PrimaryKey...)
	return schema
}

// PrimaryKey introspects and caches the bound table's key columns in key
// order. An empty result fails with a SchemaError: the upsert and SCD
// paths cannot operate without one.
func (c *Catalog) PrimaryKey(ctx context.Context) ([]string, error) {
	if c.schema.Table == "" {
		return nil, &ValidationError{Field: "table", Message: "no table bound; call Bind first"}
	}
	if c.pkLoaded {
		return append([]string(nil), c.schema.PrimaryKey...), nil
	}

	key, err := c.introspect(ctx, c.cfg.Dialect.PrimaryKeyQuery(), c.schema.Table)
	if err != nil {
		return nil, &SchemaError{Table: c.schema.Table, Op: "introspect primary key", Err: err}
	}
	if len(key) == 0 {
		return nil, &SchemaError{Table: c.schema.Table, Op: "introspect primary key", Err: errors.New("table has no primary key")}
	}

	c.schema.PrimaryKey = key
	c.pkLoaded = true
	c.log.Debug("catalog: resolved primary key", "table", c.schema.Table, "key", strings.Join(key, ","))
	return append([]string(nil), key...), nil
}

// InsertStatement returns the bound table's INSERT text, memoized until the
// next rebind.
func (c *Catalog) InsertStatement() (string, error) {
	if c.schema.Table == "" {
		return "", &ValidationError{Field: "table", Message: "no table bound; call Bind first"}
	}
	if stmt, ok := c.stmts["insert"]; ok {
		return stmt, nil
	}
	stmt, err := InsertStatement(c.schema, c.cfg.Dialect)
	if err != nil {
		return "", err
	}
	c.stmts["insert"] = stmt
	return stmt, nil
}

// UpsertStatement returns the bound table's upsert text, resolving the
// primary key on first use. Memoized per excluded-column set until the
// next rebind.
func (c *Catalog) UpsertStatement(ctx context.Context, excludedColumns ...string) (string, error) {
	if c.schema.Table == "" {
		return "", &ValidationError{Field: "table", Message: "no table bound; call Bind first"}
	}
	cacheKey := "upsert|" + strings.Join(excludedColumns, "|")
	if stmt, ok := c.stmts[cacheKey]; ok {
		return stmt, nil
	}
	if _, err := c.PrimaryKey(ctx); err != nil {
		return "", err
	}
	stmt, err := UpsertStatement(c.schema, c.cfg.Dialect, excludedColumns...)
	if err != nil {
		return "", err
	}
	c.stmts[cacheKey] = stmt
	return stmt, nil
}

func (c *Catalog) introspect(ctx context.Context, query, table string) ([]string, error) {
	rows, err := c.cfg.Session.QueryContext(ctx, query, c.cfg.Namespace, table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan introspection row: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating introspection rows: %w", err)
	}
	return names, nil
}
