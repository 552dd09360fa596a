// Package dbconn opens and verifies database/sql connections for the
// supported warehouse engines. Tunneling and credential resolution happen
// before this point; the loaders receive a live connection.
package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/andesdata/warehouse/pkg/config"
	"github.com/andesdata/warehouse/pkg/warehouse"
)

// Open connects to the configured warehouse and verifies the connection
// with a ping. One loader invocation drives one connection sequentially;
// pooling beyond that is left at the driver defaults.
func Open(ctx context.Context, log *slog.Logger, cfg *config.Config) (*sql.DB, error) {
	dialect, err := warehouse.NewDialect(cfg.Engine)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.DriverName(), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", cfg.Engine, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s at %s:%d: %w", cfg.Engine, cfg.Host, cfg.Port, err)
	}

	log.Info("dbconn: connected", "engine", cfg.Engine, "host", cfg.Host, "port", cfg.Port, "database", cfg.Database)
	return db, nil
}

// Test opens a connection, pings it and closes it again, reporting only
// whether the configuration can reach the warehouse.
func Test(ctx context.Context, log *slog.Logger, cfg *config.Config) error {
	db, err := Open(ctx, log, cfg)
	if err != nil {
		return err
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	log.Info("dbconn: connection test passed", "engine", cfg.Engine, "host", cfg.Host)
	return nil
}
