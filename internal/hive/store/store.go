// Package store owns all SQL: typed persistence of the entities in §3 of
// the data model, exposed as transactional operations that the services
// layer composes. It is the only package that issues queries against the
// Hive tables; other packages use pgx for the pgx.Tx handle WithTx passes
// in, and migration issues its own DDL.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a process-wide connection pool. Handlers borrow a connection
// for the duration of one operation; transactions hold their connection
// across suspension points, matching the resource model in §5.
type Store struct {
	pool *pgxpool.Pool
}

// Open creates a pool against dsn and verifies connectivity.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Pool exposes the underlying pool for the migration runner's stdlib shim
// and for health checks.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting read
// helpers run either standalone or inside a caller's transaction.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Query, QueryRow and Exec let Store itself satisfy Querier for read paths
// that don't need an explicit transaction.
func (s *Store) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return s.pool.Query(ctx, sql, args...)
}

func (s *Store) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return s.pool.QueryRow(ctx, sql, args...)
}

func (s *Store) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// WithTx runs fn inside a transaction: every mutating service operation
// uses this so that the mutation and its audit entry commit atomically
// (§4.5 step 6, property P4).
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}
