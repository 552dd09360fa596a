package warehouse

import (
	"fmt"
	"slices"
	"strings"
)

// TableSchema describes a bound table: its name, namespace, ordered column
// list and primary key columns. Instances come out of the Catalog; the
// statement builders only ever reference columns present here.
type TableSchema struct {
	Table      string
	Namespace  string
	Columns    []string
	PrimaryKey []string
}

// InsertStatement builds a parameterized INSERT listing every catalog
// column in catalog order. The placeholder count always equals the column
// count. An empty column list fails with a SchemaError.
func InsertStatement(schema TableSchema, dialect Dialect) (string, error) {
	if len(schema.Columns) == 0 {
		return "", &SchemaError{Table: schema.Table, Op: "build insert"}
	}
	placeholders := make([]string, len(schema.Columns))
	for i := range schema.Columns {
		placeholders[i] = dialect.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		schema.Table,
		strings.Join(schema.Columns, ", "),
		strings.Join(placeholders, ", "),
	), nil
}

// UpsertStatement builds a parameterized insert-or-update statement. The
// INSERT part lists every catalog column; only the UPDATE clause excludes
// the primary key and any caller-excluded columns. An excluded column that
// is not part of the catalog fails with a ValidationError; a missing
// primary key fails with a SchemaError.
func UpsertStatement(schema TableSchema, dialect Dialect, excludedColumns ...string) (string, error) {
	if len(schema.PrimaryKey) == 0 {
		return "", &SchemaError{Table: schema.Table, Op: "build upsert", Err: fmt.Errorf("no primary key resolved")}
	}
	for _, col := range excludedColumns {
		if !slices.Contains(schema.Columns, col) {
			return "", &ValidationError{Field: "excludedColumns", Message: fmt.Sprintf("column %s is not part of table %s", col, schema.Table)}
		}
	}

	updateColumns := make([]string, 0, len(schema.Columns))
	for _, col := range schema.Columns {
		if slices.Contains(schema.PrimaryKey, col) || slices.Contains(excludedColumns, col) {
			continue
		}
		updateColumns = append(updateColumns, col)
	}
	if len(updateColumns) == 0 {
		return "", &ValidationError{Field: "excludedColumns", Message: fmt.Sprintf("no columns left to update on %s", schema.Table)}
	}

	insert, err := InsertStatement(schema, dialect)
	if err != nil {
		return "", err
	}
	return insert + " " + dialect.UpsertClause(schema.PrimaryKey, updateColumns), nil
}
