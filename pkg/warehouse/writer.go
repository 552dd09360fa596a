package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/andesdata/warehouse/pkg/metrics"
)

type BatchWriterConfig struct {
	Logger  *slog.Logger
	Session Session

	// Table is only used for error context and instrumentation labels.
	Table string

	// Progress, when set, receives the cumulative row count after each
	// executed chunk.
	Progress func(written, total int)
}

func (cfg *BatchWriterConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Session == nil {
		return errors.New("session is required")
	}
	if cfg.Table == "" {
		return errors.New("table is required")
	}
	return nil
}

// BatchWriter executes a parameterized statement over a row set in fixed
// size chunks. It never commits: the caller owns the transaction boundary,
// which is what lets an expire pass and an insert pass land atomically.
type BatchWriter struct {
	log *slog.Logger
	cfg BatchWriterConfig
}

func NewBatchWriter(cfg BatchWriterConfig) (*BatchWriter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &BatchWriter{log: cfg.Logger, cfg: cfg}, nil
}

// DefaultChunkSize is the chunk used when the caller passes 0: one percent
// of the row count, at least one row.
func DefaultChunkSize(total int) int {
	size := total / 100
	if size < 1 {
		size = 1
	}
	return size
}

// Write prepares the statement once and executes it for every row, chunk by
// chunk. Each row must carry exactly as many values as the statement has
// placeholders. On the first failing chunk the remaining chunks are
// abandoned and a WriteError carrying the chunk's starting offset is
// returned; rows executed before it stay pending in the open transaction.
func (w *BatchWriter) Write(ctx context.Context, statement string, rows []Row, chunkSize int) error {
	total := len(rows)
	if total == 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize(total)
	}

	stmt, err := w.cfg.Session.PrepareContext(ctx, statement)
	if err != nil {
		return &WriteError{Table: w.cfg.Table, Offset: 0, Err: fmt.Errorf("failed to prepare statement: %w", err)}
	}
	defer func() { _ = stmt.Close() }()

	w.log.Debug("writer: starting batch", "table", w.cfg.Table, "rows", total, "chunk_size", chunkSize)

	written := 0
	for offset := 0; offset < total; offset += chunkSize {
		end := offset + chunkSize
		if end > total {
			end = total
		}

		for i := offset; i < end; i++ {
			select {
			case <-ctx.Done():
				metrics.ChunksExecutedTotal.WithLabelValues(w.cfg.Table, "error").Inc()
				return &WriteError{Table: w.cfg.Table, Offset: offset, Err: ctx.Err()}
			default:
			}
			if _, err := stmt.ExecContext(ctx, rows[i]...); err != nil {
				metrics.ChunksExecutedTotal.WithLabelValues(w.cfg.Table, "error").Inc()
				return &WriteError{Table: w.cfg.Table, Offset: offset, Err: err}
			}
		}

		written = end
		metrics.ChunksExecutedTotal.WithLabelValues(w.cfg.Table, "ok").Inc()
		metrics.RowsWrittenTotal.WithLabelValues(w.cfg.Table).Add(float64(end - offset))
		if w.cfg.Progress != nil {
			w.cfg.Progress(written, total)
		}
		w.log.Debug("writer: chunk done", "table", w.cfg.Table, "written", written, "total", total)
	}

	w.log.Info("writer: batch complete", "table", w.cfg.Table, "rows", written)
	return nil
}
