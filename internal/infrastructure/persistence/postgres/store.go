// Package postgres implements every repository interface over a single
// pgxpool connection pool. Concurrency-sensitive transitions (job claims,
// lease ownership, rate-limit state) are single-statement check-and-set
// queries so correctness never depends on worker count.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merchkit/opshub/internal/application/approvals"
	"github.com/merchkit/opshub/internal/application/audit"
	"github.com/merchkit/opshub/internal/application/budgets"
	"github.com/merchkit/opshub/internal/application/gateway"
	"github.com/merchkit/opshub/internal/application/handlers"
	"github.com/merchkit/opshub/internal/application/jobs"
	"github.com/merchkit/opshub/internal/application/reconcile"
	"github.com/merchkit/opshub/internal/application/webhookin"
)

// dbtx is the query surface shared by the pool and transactions.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements all repository interfaces over one pool.
type Store struct {
	pool *pgxpool.Pool
	db   dbtx
}

// Compile-time checks that Store satisfies every consumer interface.
var (
	_ jobs.Repository             = (*Store)(nil)
	_ webhookin.StoreRepository   = (*Store)(nil)
	_ webhookin.EventRepository   = (*Store)(nil)
	_ gateway.StoreRepository     = (*Store)(nil)
	_ approvals.Repository        = (*Store)(nil)
	_ budgets.Repository          = (*Store)(nil)
	_ reconcile.StoreRepository   = (*Store)(nil)
	_ reconcile.ListingRepository = (*Store)(nil)
	_ handlers.ListingRepository  = (*Store)(nil)
	_ audit.Repository            = (*Store)(nil)
)

// NewStore wraps an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// Pool exposes the underlying pool for health checks.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping reports database liveness.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close shuts the pool down.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// isUniqueViolation reports whether err is a unique constraint violation,
// optionally on a named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// isSerializationFailure matches the retryable transaction-conflict codes.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
