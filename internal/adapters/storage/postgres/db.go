// Package postgres abre el pool de conexiones que usa sqlstore con el
// driver pgx detrás de database/sql.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// Parámetros de sesión que se aplican si el DSN no los trae.
var defaultRuntimeParams = map[string]string{
	"application_name": "tnr-records",
	// los claims de merge usan NOWAIT; esto acota cualquier otra espera por locks de fila
	"lock_timeout":                        "5s",
	"idle_in_transaction_session_timeout": "60s",
}

// Open parsea el DSN, completa los parámetros de sesión y verifica la conexión.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	for k, v := range defaultRuntimeParams {
		if _, ok := cfg.RuntimeParams[k]; !ok {
			cfg.RuntimeParams[k] = v
		}
	}

	db := stdlib.OpenDB(*cfg)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}
