package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"tnr-records/migrations"

	"github.com/pressly/goose/v3"
)

// Migrate aplica las migraciones embebidas del driver.
func Migrate(ctx context.Context, db *sql.DB, driver Driver) error {
	dialect, dir := "postgres", "postgres"
	if driver == DriverSQLite {
		dialect, dir = "sqlite3", "sqlite"
	}

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// MigrationVersion devuelve la versión aplicada.
func MigrationVersion(ctx context.Context, db *sql.DB, driver Driver) (int64, error) {
	dialect := "postgres"
	if driver == DriverSQLite {
		dialect = "sqlite3"
	}
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(dialect); err != nil {
		return 0, fmt.Errorf("failed to set dialect: %w", err)
	}
	return goose.GetDBVersionContext(ctx, db)
}
