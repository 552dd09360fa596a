package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/andesdata/warehouse/pkg/metrics"
)

type FactMergerConfig struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Catalog   *Catalog
	Reader    *Reader
	Writer    *BatchWriter
	Committer Committer // optional; one commit covers both merge passes

	// HashColumn is the content-hash column and primary key of the table.
	HashColumn string

	// NaturalKeyColumn is the business-identifying column versions share.
	NaturalKeyColumn string

	// SCD bookkeeping columns. Default to is_current, period_start and
	// period_end.
	CurrentColumn     string
	PeriodStartColumn string
	PeriodEndColumn   string

	// ChunkSize is handed to the batch writer; 0 means the writer default.
	ChunkSize int
}

func (cfg *FactMergerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Catalog == nil {
		return errors.New("catalog is required")
	}
	if cfg.Reader == nil {
		return errors.New("reader is required")
	}
	if cfg.Writer == nil {
		return errors.New("writer is required")
	}
	if cfg.HashColumn == "" {
		return errors.New("hash column is required")
	}
	if cfg.NaturalKeyColumn == "" {
		return errors.New("natural key column is required")
	}
	if cfg.CurrentColumn == "" {
		cfg.CurrentColumn = "is_current"
	}
	if cfg.PeriodStartColumn == "" {
		cfg.PeriodStartColumn = "period_start"
	}
	if cfg.PeriodEndColumn == "" {
		cfg.PeriodEndColumn = "period_end"
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// FactMergeStats summarizes one type-2 merge.
type FactMergeStats struct {
	Inserted  int
	Closed    int
	Unchanged int
	Changes   []ChangeRecord
}

// FactMerger performs the type-2 versioned merge for fact tables: exactly
// one current version per natural key at any time, history preserved as
// closed versions with validity periods. Classification compares content
// hashes only, never individual fields, so insertion order is irrelevant
// and a re-run with merged candidates writes nothing.
type FactMerger struct {
	log *slog.Logger
	cfg FactMergerConfig
}

func NewFactMerger(cfg FactMergerConfig) (*FactMerger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &FactMerger{log: cfg.Logger, cfg: cfg}, nil
}

// Merge fetches the current warehouse versions for the candidates' natural
// keys, closes versions superseded by a new content hash (is_current off,
// period_end stamped with the reference date) and inserts new and changed
// candidates as open current versions. The expire pass and the insert pass
// run inside the caller's transaction; the configured Committer, when
// present, commits once after both.
func (m *FactMerger) Merge(ctx context.Context, candidates *RecordSet) (*FactMergeStats, error) {
	stats := &FactMergeStats{}
	if candidates == nil || len(candidates.Rows) == 0 {
		return stats, nil
	}

	schema := m.cfg.Catalog.Schema()
	if schema.Table == "" {
		return nil, &ValidationError{Field: "catalog", Message: "no table bound; call Bind first"}
	}

	opID := uuid.New()
	started := m.cfg.Clock.Now()
	referenceDate := truncateToDay(started.UTC())

	hashIdx := candidates.ColumnIndex(m.cfg.HashColumn)
	if hashIdx < 0 {
		return nil, &ValidationError{Field: "candidates", Message: fmt.Sprintf("hash column %s is not part of the candidate set", m.cfg.HashColumn)}
	}
	keyIdx := candidates.ColumnIndex(m.cfg.NaturalKeyColumn)
	if keyIdx < 0 {
		return nil, &ValidationError{Field: "candidates", Message: fmt.Sprintf("natural key column %s is not part of the candidate set", m.cfg.NaturalKeyColumn)}
	}

	m.log.Info("fact: merge starting",
		"op_id", opID, "table", schema.Table, "candidates", len(candidates.Rows), "reference_date", referenceDate.Format("2006-01-02"))

	// Fetch the current versions behind the candidates' natural keys.
	keys := make([]any, len(candidates.Rows))
	for i, row := range candidates.Rows {
		keys[i] = coerceString(row[keyIdx])
	}
	current, err := m.cfg.Reader.ByKeys(ctx, schema.Columns, m.cfg.NaturalKeyColumn, keys, true)
	if err != nil {
		return nil, fmt.Errorf("failed to read current versions for %s: %w", schema.Table, err)
	}

	whHashIdx := current.ColumnIndex(m.cfg.HashColumn)
	whKeyIdx := current.ColumnIndex(m.cfg.NaturalKeyColumn)
	if whHashIdx < 0 || whKeyIdx < 0 {
		return nil, &SchemaError{Table: schema.Table, Op: "read current versions",
			Err: fmt.Errorf("table is missing %s or %s", m.cfg.HashColumn, m.cfg.NaturalKeyColumn)}
	}
	currentHashes := make(map[string]struct{}, len(current.Rows))
	currentByKey := make(map[string]Row, len(current.Rows))
	for _, row := range current.Rows {
		currentHashes[coerceString(row[whHashIdx])] = struct{}{}
		currentByKey[coerceString(row[whKeyIdx])] = row
	}

	// Classify by content hash only.
	var toClose, toInsert []Row
	for i, row := range candidates.Rows {
		hash := coerceString(row[hashIdx])
		if _, ok := currentHashes[hash]; ok {
			stats.Unchanged++
			stats.Changes = append(stats.Changes, ChangeRecord{Kind: ChangeUnchanged, Row: row})
			continue
		}
		if superseded, ok := currentByKey[keys[i].(string)]; ok {
			stats.Changes = append(stats.Changes, ChangeRecord{Kind: ChangeChanged, Row: row, Superseded: superseded})
			toClose = append(toClose, superseded)
		} else {
			stats.Changes = append(stats.Changes, ChangeRecord{Kind: ChangeNew, Row: row})
		}
		toInsert = append(toInsert, row)
	}

	// Expire pass: re-send the superseded versions with the current flag
	// off and the period closed. The upsert's update clause touches only
	// those two columns.
	if len(toClose) > 0 {
		pk, err := m.cfg.Catalog.PrimaryKey(ctx)
		if err != nil {
			return nil, err
		}
		excluded := excludeColumns(schema.Columns, pk, m.cfg.CurrentColumn, m.cfg.PeriodEndColumn)
		closeStmt, err := m.cfg.Catalog.UpsertStatement(ctx, excluded...)
		if err != nil {
			return nil, err
		}
		rows, err := projectRows(current, schema.Columns, map[string]any{
			m.cfg.CurrentColumn:   false,
			m.cfg.PeriodEndColumn: referenceDate,
		}, toClose)
		if err != nil {
			return nil, err
		}
		if err := m.cfg.Writer.Write(ctx, closeStmt, rows, m.cfg.ChunkSize); err != nil {
			return nil, err
		}
		stats.Closed = len(toClose)
	}

	// Insert pass: new and changed candidates become open current versions.
	if len(toInsert) > 0 {
		insert, err := m.cfg.Catalog.InsertStatement()
		if err != nil {
			return nil, err
		}
		rows, err := projectRows(candidates, schema.Columns, map[string]any{
			m.cfg.CurrentColumn:     true,
			m.cfg.PeriodStartColumn: referenceDate,
			m.cfg.PeriodEndColumn:   nil,
		}, toInsert)
		if err != nil {
			return nil, err
		}
		if err := m.cfg.Writer.Write(ctx, insert, rows, m.cfg.ChunkSize); err != nil {
			return nil, err
		}
		stats.Inserted = len(toInsert)
	}

	if m.cfg.Committer != nil && (stats.Closed > 0 || stats.Inserted > 0) {
		if err := m.cfg.Committer.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit merge for %s: %w", schema.Table, err)
		}
	}

	metrics.RowsClassifiedTotal.WithLabelValues(schema.Table, "new").Add(float64(stats.Inserted - stats.Closed))
	metrics.RowsClassifiedTotal.WithLabelValues(schema.Table, "changed").Add(float64(stats.Closed))
	metrics.RowsClassifiedTotal.WithLabelValues(schema.Table, "unchanged").Add(float64(stats.Unchanged))
	metrics.LoadDuration.WithLabelValues(schema.Table, "fact").Observe(m.cfg.Clock.Since(started).Seconds())

	m.log.Info("fact: merge complete",
		"op_id", opID, "table", schema.Table, "inserted", stats.Inserted, "closed", stats.Closed, "unchanged", stats.Unchanged)
	return stats, nil
}

// excludeColumns lists every column except the key columns and the named
// keep columns. Feeding it to the upsert builder narrows the update clause
// down to the keep set.
func excludeColumns(columns, key []string, keep ...string) []string {
	keepSet := make(map[string]struct{}, len(key)+len(keep))
	for _, col := range key {
		keepSet[col] = struct{}{}
	}
	for _, col := range keep {
		keepSet[col] = struct{}{}
	}
	var excluded []string
	for _, col := range columns {
		if _, ok := keepSet[col]; !ok {
			excluded = append(excluded, col)
		}
	}
	return excluded
}
