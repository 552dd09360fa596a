package warehouse

import "fmt"

// ConfigurationError reports invalid construction-time configuration, such
// as an unrecognized dialect kind. It is never deferred to call time.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

// SchemaError reports a failed or empty schema introspection: a missing
// table, no visible columns, or a required primary key that does not exist.
type SchemaError struct {
	Table string
	Op    string
	Err   error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("schema error on %s during %s: %v", e.Table, e.Op, e.Err)
	}
	return fmt.Sprintf("schema error on %s during %s", e.Table, e.Op)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// ValidationError reports bad caller input, such as an empty key list or an
// excluded column that is not part of the bound catalog.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// WriteError reports a failed batch chunk. Offset is the zero-based index
// of the first row of the failing chunk; rows before it were already
// executed and remain pending in the caller's open transaction.
type WriteError struct {
	Table  string
	Offset int
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("batch write to %s failed at row offset %d: %v", e.Table, e.Offset, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
