// Package storage elige el adapter de store.Store según DB_DRIVER.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"tnr-records/internal/adapters/storage/memory"
	"tnr-records/internal/adapters/storage/postgres"
	"tnr-records/internal/adapters/storage/sqlite"
	"tnr-records/internal/adapters/storage/sqlstore"
	"tnr-records/internal/platform/config"
	"tnr-records/internal/platform/logger"
	"tnr-records/internal/ports/store"
)

// Handle es el store abierto más lo necesario para cerrarlo.
type Handle struct {
	Store store.Store
	// SQL es nil con el driver memory.
	SQL   *sqlstore.Store
	close func() error
}

func (h *Handle) Close() error {
	if h == nil || h.close == nil {
		return nil
	}
	return h.close()
}

// Open abre el store configurado. Con AutoMigrate aplica las migraciones
// antes de devolverlo.
func Open(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (*Handle, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.Driver == "" || cfg.Driver == "memory" {
		log.Warn("using in-memory store; data is lost on restart", nil)
		return &Handle{Store: memory.NewStore()}, nil
	}

	driver, err := sqlstore.ParseDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}
	db, err := OpenDB(ctx, driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := sqlstore.Migrate(ctx, db, driver); err != nil {
			_ = db.Close()
			return nil, err
		}
		if v, err := sqlstore.MigrationVersion(ctx, db, driver); err == nil {
			log.Info("database migrated", map[string]any{"driver": driver, "version": v})
		}
	}

	s, err := sqlstore.New(db, driver, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Handle{Store: s, SQL: s, close: s.Close}, nil
}

// OpenDB abre la conexión cruda del driver (también la usa el comando migrate).
func OpenDB(ctx context.Context, driver sqlstore.Driver, dsn string) (*sql.DB, error) {
	switch driver {
	case sqlstore.DriverPostgres:
		db, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		return db, nil
	case sqlstore.DriverSQLite:
		return sqlite.Open(ctx, dsn)
	}
	return nil, fmt.Errorf("unsupported driver %q", driver)
}
