// Package sqlstore implementa store.Store sobre database/sql (sqlx) para
// Postgres y SQLite. Las consultas se arman con go-sqlbuilder en el flavor
// de cada driver.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tnr-records/internal/domain/records"
	"tnr-records/internal/platform/logger"
	"tnr-records/internal/ports/store"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
)

type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

func ParseDriver(s string) (Driver, error) {
	switch Driver(strings.ToLower(strings.TrimSpace(s))) {
	case DriverPostgres:
		return DriverPostgres, nil
	case DriverSQLite:
		return DriverSQLite, nil
	}
	return "", fmt.Errorf("sqlstore: unsupported driver %q", s)
}

var ErrReadOnly = errors.New("sqlstore: write in read-only transaction")

type Store struct {
	db     *sqlx.DB
	driver Driver
	flavor sqlbuilder.Flavor
	log    logger.Logger
}

// New envuelve una conexión ya abierta (ver postgres.Open / sqlite.Open).
func New(db *sql.DB, driver Driver, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Store{driver: driver, log: log.With(map[string]any{"component": "sqlstore", "driver": driver})}
	switch driver {
	case DriverPostgres:
		s.db = sqlx.NewDb(db, "pgx")
		s.flavor = sqlbuilder.PostgreSQL
	case DriverSQLite:
		s.db = sqlx.NewDb(db, "sqlite3")
		s.flavor = sqlbuilder.SQLite
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
	return s, nil
}

func (s *Store) Driver() Driver { return s.driver }

func (s *Store) DB() *sql.DB { return s.db.DB }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.run(ctx, false, fn)
}

func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.run(ctx, true, fn)
}

func (s *Store) run(ctx context.Context, readOnly bool, fn func(tx store.Tx) error) error {
	opts := &sql.TxOptions{}
	// modernc no soporta transacciones READ ONLY; el sqlTx igual rechaza escrituras.
	if readOnly && s.driver == DriverPostgres {
		opts.ReadOnly = true
	}

	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("sqlstore: begin: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Warn("rollback failed", map[string]any{"error": err.Error()})
		}
	}()

	if err := fn(&sqlTx{tx: tx, s: s, readOnly: readOnly}); err != nil {
		return err
	}
	if readOnly {
		return nil
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit: %w", err)
	}
	committed = true
	return nil
}

type sqlTx struct {
	tx       *sqlx.Tx
	s        *Store
	readOnly bool
}

func (t *sqlTx) writable() error {
	if t.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (t *sqlTx) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func notFound(what, id string) error {
	return records.NotFound(what+"_not_found", what+" "+id+" not found").With("id", id)
}

// isBusy reconoce el "fila tomada por otra transacción" de cada driver:
// 55P03 (lock_not_available) en Postgres, SQLITE_BUSY / SQLITE_LOCKED en SQLite.
func isBusy(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "55P03"
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		code := sqErr.Code() & 0xff
		return code == 5 || code == 6
	}
	return false
}

// isExclusiveViolation reconoce la violación de los índices únicos parciales
// sobre vínculos exclusivos: 23505 con esa constraint en Postgres,
// SQLITE_CONSTRAINT_UNIQUE (2067) en SQLite.
func isExclusiveViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && strings.HasPrefix(pgErr.ConstraintName, "uq_relationships_exclusive")
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		code := sqErr.Code()
		return code == 2067 || (code&0xff == 19 && strings.Contains(sqErr.Error(), "UNIQUE"))
	}
	return false
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
