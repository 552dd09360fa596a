package warehouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

const (
	productsInsert = "INSERT INTO dim_products (product_code, product_name, surrogate_hash, movement_date) VALUES (?, ?, ?, ?)"
	productsUpsert = productsInsert + " ON DUPLICATE KEY UPDATE product_code = VALUES(product_code), product_name = VALUES(product_name), movement_date = VALUES(movement_date)"
	productsByHash = "SELECT surrogate_hash, movement_date FROM dim_products WHERE surrogate_hash IN (?, ?)"
)

var dimReference = time.Date(2026, 8, 28, 9, 30, 0, 0, time.UTC)

func newTestDimensionLoader(t *testing.T) (*DimensionLoader, *Catalog, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockSession(t)
	dialect, err := NewDialect("mysql")
	require.NoError(t, err)

	catalog, err := NewCatalog(CatalogConfig{
		Logger:    testLogger(),
		Session:   db,
		Dialect:   dialect,
		Namespace: "dw",
	})
	require.NoError(t, err)
	reader, err := NewReader(ReaderConfig{
		Logger:  testLogger(),
		Session: db,
		Dialect: dialect,
		Table:   "dim_products",
	})
	require.NoError(t, err)
	writer, err := NewBatchWriter(BatchWriterConfig{
		Logger:  testLogger(),
		Session: db,
		Table:   "dim_products",
	})
	require.NoError(t, err)

	loader, err := NewDimensionLoader(DimensionLoaderConfig{
		Logger:             testLogger(),
		Clock:              clockwork.NewFakeClockAt(dimReference),
		Catalog:            catalog,
		Reader:             reader,
		Writer:             writer,
		HashColumn:         "surrogate_hash",
		MovementDateColumn: "movement_date",
	})
	require.NoError(t, err)
	return loader, catalog, mock
}

func bindProducts(t *testing.T, catalog *Catalog, mock sqlmock.Sqlmock) {
	t.Helper()
	mysql, _ := NewDialect("mysql")
	expectColumns(mock, mysql, "dw", "dim_products", "product_code", "product_name", "surrogate_hash", "movement_date")
	require.NoError(t, catalog.Bind(context.Background(), "dim_products"))
}

func productCandidates() *RecordSet {
	return &RecordSet{
		Columns: []string{"product_code", "product_name", "surrogate_hash", "movement_date"},
		Rows: []Row{
			{"P1", "Widget", "h1", "2026-08-28"},
			{"P2", "Gadget", "h2", "2026-08-28"},
		},
	}
}

func TestWarehouse_DimensionLoader_RefreshesStaleAndInsertsNew(t *testing.T) {
	loader, catalog, mock := newTestDimensionLoader(t)
	bindProducts(t, catalog, mock)
	mysql, _ := NewDialect("mysql")

	referenceDay := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	staleMoved := time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC) // 49 days old

	// Classification read: h1 is known and stale, h2 is unseen.
	mock.ExpectQuery(productsByHash).
		WithArgs("h1", "h2").
		WillReturnRows(sqlmock.NewRows([]string{"surrogate_hash", "movement_date"}).AddRow("h1", staleMoved))

	// Refresh pass: the upsert resolves the primary key first, then
	// re-dates the stale candidate to the reference date.
	expectPrimaryKey(mock, mysql, "dw", "dim_products", "surrogate_hash")
	refresh := mock.ExpectPrepare(productsUpsert)
	refresh.ExpectExec().WithArgs("P1", "Widget", "h1", referenceDay).WillReturnResult(sqlmock.NewResult(0, 2))

	// Insert pass: the unseen hash becomes a new dimension entry.
	insert := mock.ExpectPrepare(productsInsert)
	insert.ExpectExec().WithArgs("P2", "Gadget", "h2", "2026-08-28").WillReturnResult(sqlmock.NewResult(0, 1))

	stats, err := loader.Load(context.Background(), productCandidates())
	require.NoError(t, err)
	require.Equal(t, &DimensionLoadStats{Inserted: 1, Refreshed: 1, Unchanged: 0}, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWarehouse_DimensionLoader_RerunWithFreshHashesWritesNothing(t *testing.T) {
	loader, catalog, mock := newTestDimensionLoader(t)
	bindProducts(t, catalog, mock)

	recentMoved := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC) // 18 days old

	mock.ExpectQuery(productsByHash).
		WithArgs("h1", "h2").
		WillReturnRows(sqlmock.NewRows([]string{"surrogate_hash", "movement_date"}).
			AddRow("h1", recentMoved).
			AddRow("h2", recentMoved))

	stats, err := loader.Load(context.Background(), productCandidates())
	require.NoError(t, err)
	require.Equal(t, &DimensionLoadStats{Inserted: 0, Refreshed: 0, Unchanged: 2}, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWarehouse_DimensionLoader_ThirtyDayBoundary(t *testing.T) {
	loader, catalog, mock := newTestDimensionLoader(t)
	bindProducts(t, catalog, mock)

	// Exactly 30 days old is not stale yet; the threshold is strict.
	boundaryMoved := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(productsByHash).
		WithArgs("h1", "h2").
		WillReturnRows(sqlmock.NewRows([]string{"surrogate_hash", "movement_date"}).
			AddRow("h1", boundaryMoved).
			AddRow("h2", boundaryMoved))

	stats, err := loader.Load(context.Background(), productCandidates())
	require.NoError(t, err)
	require.Equal(t, 2, stats.Unchanged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWarehouse_DimensionLoader_CommitsAfterEachStep(t *testing.T) {
	loader, catalog, mock := newTestDimensionLoader(t)
	committer := &countingCommitter{}
	loader.cfg.Committer = committer
	bindProducts(t, catalog, mock)
	mysql, _ := NewDialect("mysql")

	staleMoved := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(productsByHash).
		WithArgs("h1", "h2").
		WillReturnRows(sqlmock.NewRows([]string{"surrogate_hash", "movement_date"}).AddRow("h1", staleMoved))

	expectPrimaryKey(mock, mysql, "dw", "dim_products", "surrogate_hash")
	refresh := mock.ExpectPrepare(productsUpsert)
	refresh.ExpectExec().WithArgs("P1", "Widget", "h1", time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)).WillReturnResult(sqlmock.NewResult(0, 2))
	insert := mock.ExpectPrepare(productsInsert)
	insert.ExpectExec().WithArgs("P2", "Gadget", "h2", "2026-08-28").WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := loader.Load(context.Background(), productCandidates())
	require.NoError(t, err)
	require.Equal(t, 2, committer.commits, "one commit per load step")
}

func TestWarehouse_DimensionLoader_EmptyCandidates(t *testing.T) {
	loader, catalog, mock := newTestDimensionLoader(t)
	bindProducts(t, catalog, mock)

	stats, err := loader.Load(context.Background(), &RecordSet{Columns: []string{"surrogate_hash"}})
	require.NoError(t, err)
	require.Equal(t, &DimensionLoadStats{}, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWarehouse_DimensionLoader_MissingHashColumn(t *testing.T) {
	loader, catalog, mock := newTestDimensionLoader(t)
	bindProducts(t, catalog, mock)

	candidates := &RecordSet{
		Columns: []string{"product_code", "product_name"},
		Rows:    []Row{{"P1", "Widget"}},
	}
	_, err := loader.Load(context.Background(), candidates)

	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))
	require.Contains(t, valErr.Message, "surrogate_hash")
}

type countingCommitter struct {
	commits int
	err     error
}

func (c *countingCommitter) Commit() error {
	if c.err != nil {
		return c.err
	}
	c.commits++
	return nil
}
