// Package postgres implements pkg/store.Store over a pgx connection pool for
// the bulk of its reads, plus a second database/sql handle (the pgx stdlib
// driver, already registered for goose) for the batch-upsert write path: that
// path binds Go slices as Postgres arrays via lib/pq's pq.Array, which relies
// on database/sql's guarantee of calling driver.Valuer.Value() on its
// arguments — a guarantee the pgxpool native path does not make. Queries on
// that path are written with `?` placeholders and rebound to pgx's `$N` style
// with sqlx.Rebind. The performance contract is O(1) queries per kind per
// sweep, not O(N) per entity.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver registration for goose and the batch path
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the Postgres-backed implementation of store.Store.
type Store struct {
	pool   *pgxpool.Pool
	sqlxDB *sqlx.DB
	logger *logrus.Logger
}

// Open connects to Postgres and runs pending goose migrations before
// returning, so every caller observes a schema at least as new as this
// binary expects.
func Open(ctx context.Context, dsn string, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := migrate(dsn); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	sqlxDB, err := sqlx.Open("pgx", dsn)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: sqlx open: %w", err)
	}
	if err := sqlxDB.PingContext(ctx); err != nil {
		pool.Close()
		sqlxDB.Close()
		return nil, fmt.Errorf("postgres: sqlx ping: %w", err)
	}

	return &Store{pool: pool, sqlxDB: sqlxDB, logger: logger}, nil
}

func migrate(dsn string) error {
	goose.SetBaseFS(migrationsFS)
	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return goose.Up(db, "migrations")
}

// Close releases both connection pools.
func (s *Store) Close() {
	s.pool.Close()
	s.sqlxDB.Close()
}

// rebind converts a query written with `?` placeholders to pgx's native `$N`
// style, for queries executed against sqlxDB/execer below.
func (s *Store) rebind(query string) string {
	return sqlx.Rebind(sqlx.DOLLAR, query)
}

// txKey is the context key WithTx uses to carry its *sqlx.Tx to every Store
// method called from inside fn, so mark-to-remove, the batch upsert, and
// clear-to-remove for one parent share a single Postgres transaction.
type txKey struct{}

// execer abstracts *sqlx.DB and *sqlx.Tx so batch.go/markclear.go can run
// against either an ambient per-parent transaction started by WithTx, or
// directly against the pool when called standalone (e.g. from tests that
// exercise one Store method in isolation).
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// exec returns the execer fn should use: the transaction WithTx put on ctx,
// or sqlxDB directly.
func (s *Store) exec(ctx context.Context) execer {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return s.sqlxDB
}

// WithTx runs fn with a single Postgres transaction threaded through ctx:
// MarkToRemove, the BatchUpsert call, and ClearToRemove for one parent all
// run inside fn and so all commit — or roll back — together. A crash or
// cancellation mid-sweep leaves the previous state untouched instead of
// partially applied.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.sqlxDB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit()
}
