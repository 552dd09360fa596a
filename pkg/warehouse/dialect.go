package warehouse

import (
	"fmt"
	"strings"
)

const (
	// KindMySQL selects the MySQL dialect.
	KindMySQL = "mysql"
	// KindPostgreSQL selects the PostgreSQL dialect.
	KindPostgreSQL = "postgres"
)

// Dialect carries the engine-specific SQL syntax: placeholder shape,
// introspection queries, namespace switching and the upsert conflict
// clause. The variant set is closed; a Dialect is resolved once by
// NewDialect and never re-dispatched at call time.
type Dialect interface {
	// Name returns the dialect kind ("mysql" or "postgres").
	Name() string

	// DriverName returns the database/sql driver to open connections with.
	DriverName() string

	// Placeholder renders the parameter placeholder for a 1-based position.
	Placeholder(index int) string

	// ColumnsQuery returns the parameterized column-introspection query.
	// It takes two parameters: namespace and table, and yields column
	// names in ordinal position order.
	ColumnsQuery() string

	// PrimaryKeyQuery returns the parameterized primary-key-introspection
	// query. Same parameters as ColumnsQuery, key columns in key order.
	PrimaryKeyQuery() string

	// NamespaceStatement returns the statement that switches the session
	// to the given namespace, or "" when the engine has no such notion.
	NamespaceStatement(namespace string) string

	// UpsertClause renders the conflict-resolution clause appended to an
	// INSERT: the key columns identify the conflict target, the update
	// columns form the SET list.
	UpsertClause(keyColumns, updateColumns []string) string

	// BooleanLiteral renders a boolean constant in the engine's syntax.
	BooleanLiteral(v bool) string
}

// NewDialect resolves a dialect kind to its implementation. An
// unrecognized kind fails immediately with a ConfigurationError.
func NewDialect(kind string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindMySQL:
		return mysqlDialect{}, nil
	case KindPostgreSQL, "postgresql":
		return postgresDialect{}, nil
	default:
		return nil, &ConfigurationError{Message: fmt.Sprintf("unsupported dialect kind %q (want %s or %s)", kind, KindMySQL, KindPostgreSQL)}
	}
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string       { return KindMySQL }
func (mysqlDialect) DriverName() string { return "mysql" }

func (mysqlDialect) Placeholder(int) string { return "?" }

func (mysqlDialect) ColumnsQuery() string {
	return "SELECT column_name FROM information_schema.columns WHERE table_schema = ? AND table_name = ? ORDER BY ordinal_position"
}

func (mysqlDialect) PrimaryKeyQuery() string {
	return "SELECT k.column_name " +
		"FROM information_schema.table_constraints t " +
		"JOIN information_schema.key_column_usage k USING (constraint_name, table_schema, table_name) " +
		"WHERE t.constraint_type = 'PRIMARY KEY' AND t.table_schema = ? AND t.table_name = ? " +
		"ORDER BY k.ordinal_position"
}

// NamespaceStatement is a no-op for MySQL: the namespace is the database
// the connection was opened against.
func (mysqlDialect) NamespaceStatement(string) string { return "" }

func (mysqlDialect) UpsertClause(_, updateColumns []string) string {
	pairs := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		pairs[i] = fmt.Sprintf("%s = VALUES(%s)", col, col)
	}
	return "ON DUPLICATE KEY UPDATE " + strings.Join(pairs, ", ")
}

func (mysqlDialect) BooleanLiteral(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

type postgresDialect struct{}

func (postgresDialect) Name() string       { return KindPostgreSQL }
func (postgresDialect) DriverName() string { return "pgx" }

func (postgresDialect) Placeholder(index int) string { return fmt.Sprintf("$%d", index) }

func (postgresDialect) ColumnsQuery() string {
	return "SELECT column_name FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position"
}

func (postgresDialect) PrimaryKeyQuery() string {
	return "SELECT kcu.column_name " +
		"FROM information_schema.table_constraints tc " +
		"JOIN information_schema.key_column_usage kcu " +
		"ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema AND tc.table_name = kcu.table_name " +
		"WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = $1 AND tc.table_name = $2 " +
		"ORDER BY kcu.ordinal_position"
}

func (postgresDialect) NamespaceStatement(namespace string) string {
	if namespace == "" {
		return ""
	}
	return "SET search_path TO " + namespace
}

func (postgresDialect) UpsertClause(keyColumns, updateColumns []string) string {
	pairs := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		pairs[i] = fmt.Sprintf("%s = EXCLUDED.%s", col, col)
	}
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(keyColumns, ", "), strings.Join(pairs, ", "))
}

func (postgresDialect) BooleanLiteral(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}
