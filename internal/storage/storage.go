// Package storage owns the Postgres connection pool and schema migrations
// shared by the Core Persister (C3), Derived-State Engine (C4) and
// Bootstrapper (C6). Built on github.com/jackc/pgx/v5 (see DESIGN.md),
// wrapping a single driver behind a small Open/Migrate/Close surface.
package storage

import (
	"context"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ergowatch/watcher/db"
	"github.com/ergowatch/watcher/internal/log"
)

var logger = log.New("storage")

// DB wraps a pgx connection pool plus a configurable statement timeout
// (StatementTimeoutMs). DB itself only opens the pool; callers that begin
// a transaction (tracker.Tracker, bootstrap.Bootstrapper) are responsible
// for issuing `SET LOCAL statement_timeout` against it at the start of
// each transaction, which is what they do.
type DB struct {
	Pool               *pgxpool.Pool
	StatementTimeoutMs int
}

// Open connects to Postgres at connStr and returns a ready-to-use DB.
func Open(ctx context.Context, connStr string, statementTimeoutMs int) (*DB, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &DB{Pool: pool, StatementTimeoutMs: statementTimeoutMs}, nil
}

// Close releases the pool.
func (s *DB) Close() { s.Pool.Close() }

// Migrate applies every embedded migration that hasn't run yet. It must be
// called once at startup, before the tracker loop or the bootstrapper run.
func (s *DB) Migrate(connStr string) error {
	src, err := iofs.New(db.Migrations, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, withPostgresDriverName(connStr))
	if err != nil {
		return fmt.Errorf("constructing migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}
	logger.Info("migrations up to date")
	return nil
}

// withPostgresDriverName builds the "pgx5://" DSN golang-migrate's
// database/pgx/v5 driver expects, reusing the operator-supplied conn_str.
func withPostgresDriverName(connStr string) string {
	return "pgx5://" + stripScheme(connStr)
}

func stripScheme(connStr string) string {
	const pgScheme = "postgres://"
	const pgScheme2 = "postgresql://"
	if len(connStr) >= len(pgScheme) && connStr[:len(pgScheme)] == pgScheme {
		return connStr[len(pgScheme):]
	}
	if len(connStr) >= len(pgScheme2) && connStr[:len(pgScheme2)] == pgScheme2 {
		return connStr[len(pgScheme2):]
	}
	return connStr
}
