package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/andesdata/warehouse/pkg/config"
	"github.com/andesdata/warehouse/pkg/dbconn"
	"github.com/andesdata/warehouse/pkg/logger"
	"github.com/andesdata/warehouse/pkg/tunnel"
	"github.com/andesdata/warehouse/pkg/warehouse"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")

	// Connection configuration
	envFlag := flag.String("env", config.EnvDev, "deployment environment (dev, homo, prod)")
	engineFlag := flag.String("engine", warehouse.KindMySQL, "warehouse engine (mysql, postgres)")
	databaseFlag := flag.String("database", "", "database name")
	schemaFlag := flag.String("schema", "", "schema for PostgreSQL (defaults to public)")
	testConnectionFlag := flag.Bool("test-connection", false, "open, ping and close the connection, then exit")

	// SSH tunnel (optional)
	sshAddrFlag := flag.String("ssh-addr", "", "SSH bastion address (host:port); empty disables tunneling")
	sshUserFlag := flag.String("ssh-user", "", "SSH bastion user")
	sshKeyFlag := flag.String("ssh-key", "", "path to the SSH private key")

	// Load configuration
	loadFlag := flag.String("load", "dimension", "load type (dimension, fact)")
	tableFlag := flag.String("table", "", "target warehouse table")
	inputFlag := flag.String("input", "", "CSV file with candidate rows (header row names the columns)")
	identityColsFlag := flag.StringSlice("identity-columns", nil, "columns hashed into the content-identity digest")
	hashColFlag := flag.String("hash-column", "surrogate_hash", "content-hash column on the target table")
	movementColFlag := flag.String("movement-column", "movement_date", "movement date column (dimension loads)")
	naturalKeyFlag := flag.String("natural-key", "", "natural key column (fact merges)")
	stalenessFlag := flag.Int("staleness-days", 30, "refresh threshold in days (dimension loads)")
	chunkSizeFlag := flag.Int("chunk-size", 0, "batch chunk size (0 = one percent of the row count)")

	flag.Parse()

	log := logger.New(os.Stdout, *verboseFlag)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*envFlag, *engineFlag, *databaseFlag, *schemaFlag)
	if err != nil {
		return err
	}

	if *sshAddrFlag != "" {
		tun, err := tunnel.New(tunnel.Config{
			Logger:         log,
			Addr:           *sshAddrFlag,
			User:           *sshUserFlag,
			PrivateKeyPath: *sshKeyFlag,
			RemoteAddr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		})
		if err != nil {
			return err
		}
		localAddr, err := tun.Open(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tun.Close() }()

		host, port, found := strings.Cut(localAddr, ":")
		if !found {
			return fmt.Errorf("unexpected tunnel address %q", localAddr)
		}
		cfg.Host = host
		if _, err := fmt.Sscanf(port, "%d", &cfg.Port); err != nil {
			return fmt.Errorf("unexpected tunnel port %q: %w", port, err)
		}
	}

	if *testConnectionFlag {
		return dbconn.Test(ctx, log, cfg)
	}

	if *tableFlag == "" {
		return fmt.Errorf("--table is required")
	}
	if *inputFlag == "" {
		return fmt.Errorf("--input is required")
	}
	if len(*identityColsFlag) == 0 {
		return fmt.Errorf("--identity-columns is required")
	}

	candidates, err := readCandidates(*inputFlag)
	if err != nil {
		return err
	}
	if err := attachHashes(candidates, *identityColsFlag, *hashColFlag, *movementColFlag, *loadFlag == "dimension"); err != nil {
		return err
	}

	db, err := dbconn.Open(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	dialect, err := warehouse.NewDialect(cfg.Engine)
	if err != nil {
		return err
	}

	switch *loadFlag {
	case "dimension":
		return runDimensionLoad(ctx, log, db, dialect, cfg, candidates,
			*tableFlag, *hashColFlag, *movementColFlag, *stalenessFlag, *chunkSizeFlag)
	case "fact":
		if *naturalKeyFlag == "" {
			return fmt.Errorf("--natural-key is required for fact merges")
		}
		return runFactMerge(ctx, log, db, dialect, cfg, candidates,
			*tableFlag, *hashColFlag, *naturalKeyFlag, *chunkSizeFlag)
	default:
		return fmt.Errorf("unknown load type %q (want dimension or fact)", *loadFlag)
	}
}

// readCandidates loads the CSV row set; the header row names the columns.
func readCandidates(path string) (*warehouse.RecordSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%s has no candidate rows", path)
	}

	rs := &warehouse.RecordSet{Columns: records[0]}
	for _, record := range records[1:] {
		row := make(warehouse.Row, len(record))
		for i, v := range record {
			row[i] = v
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs, nil
}

// attachHashes computes the content-identity digest for every candidate and
// appends it (and, for dimension loads, today's movement date) when the CSV
// did not carry those columns itself.
func attachHashes(rs *warehouse.RecordSet, identityCols []string, hashCol, movementCol string, dimension bool) error {
	hashes, err := warehouse.SurrogateHashes(rs, identityCols)
	if err != nil {
		return err
	}
	if rs.ColumnIndex(hashCol) < 0 {
		rs.Columns = append(rs.Columns, hashCol)
		for i := range rs.Rows {
			rs.Rows[i] = append(rs.Rows[i], hashes[i])
		}
	}
	if dimension && rs.ColumnIndex(movementCol) < 0 {
		today := time.Now().UTC().Format("2006-01-02")
		rs.Columns = append(rs.Columns, movementCol)
		for i := range rs.Rows {
			rs.Rows[i] = append(rs.Rows[i], today)
		}
	}
	return nil
}

// runDimensionLoad drives an autocommitting connection: each load step is
// its own statement batch, and re-runs are idempotent by design.
func runDimensionLoad(
	ctx context.Context,
	log *slog.Logger,
	db *sql.DB,
	dialect warehouse.Dialect,
	cfg *config.Config,
	candidates *warehouse.RecordSet,
	table, hashCol, movementCol string,
	stalenessDays, chunkSize int,
) error {
	catalog, reader, writer, err := buildCollaborators(log, db, dialect, cfg, table)
	if err != nil {
		return err
	}
	if err := catalog.Bind(ctx, table); err != nil {
		return err
	}

	loader, err := warehouse.NewDimensionLoader(warehouse.DimensionLoaderConfig{
		Logger:             log,
		Catalog:            catalog,
		Reader:             reader,
		Writer:             writer,
		HashColumn:         hashCol,
		MovementDateColumn: movementCol,
		StalenessDays:      stalenessDays,
		ChunkSize:          chunkSize,
	})
	if err != nil {
		return err
	}

	stats, err := loader.Load(ctx, candidates)
	if err != nil {
		return err
	}
	log.Info("dimension load finished", "table", table, "inserted", stats.Inserted, "refreshed", stats.Refreshed, "unchanged", stats.Unchanged)
	return nil
}

// runFactMerge runs the expire pass and the insert pass inside one
// transaction so a superseded version never loses its replacement.
func runFactMerge(
	ctx context.Context,
	log *slog.Logger,
	db *sql.DB,
	dialect warehouse.Dialect,
	cfg *config.Config,
	candidates *warehouse.RecordSet,
	table, hashCol, naturalKey string,
	chunkSize int,
) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// The merger commits through the Committer; rolling back afterwards is
	// a no-op, and on error it discards the partial merge.
	defer func() { _ = tx.Rollback() }()

	catalog, reader, writer, err := buildCollaborators(log, tx, dialect, cfg, table)
	if err != nil {
		return err
	}
	if err := catalog.Bind(ctx, table); err != nil {
		return err
	}

	merger, err := warehouse.NewFactMerger(warehouse.FactMergerConfig{
		Logger:           log,
		Catalog:          catalog,
		Reader:           reader,
		Writer:           writer,
		Committer:        tx,
		HashColumn:       hashCol,
		NaturalKeyColumn: naturalKey,
		ChunkSize:        chunkSize,
	})
	if err != nil {
		return err
	}

	stats, err := merger.Merge(ctx, candidates)
	if err != nil {
		return err
	}
	log.Info("fact merge finished", "table", table, "inserted", stats.Inserted, "closed", stats.Closed, "unchanged", stats.Unchanged)
	return nil
}

func buildCollaborators(
	log *slog.Logger,
	session warehouse.Session,
	dialect warehouse.Dialect,
	cfg *config.Config,
	table string,
) (*warehouse.Catalog, *warehouse.Reader, *warehouse.BatchWriter, error) {
	catalog, err := warehouse.NewCatalog(warehouse.CatalogConfig{
		Logger:    log,
		Session:   session,
		Dialect:   dialect,
		Namespace: cfg.Namespace(),
	})
	if err != nil {
		return nil, nil, nil, err
	}
	reader, err := warehouse.NewReader(warehouse.ReaderConfig{
		Logger:  log,
		Session: session,
		Dialect: dialect,
		Table:   table,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	writer, err := warehouse.NewBatchWriter(warehouse.BatchWriterConfig{
		Logger:  log,
		Session: session,
		Table:   table,
		Progress: func(written, total int) {
			log.Info("progress", "table", table, "written", written, "total", total)
		},
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return catalog, reader, writer, nil
}
