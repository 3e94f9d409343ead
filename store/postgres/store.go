package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xraph/jobq/store"
)

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// Store is a PostgreSQL implementation of store.Store backed by a pgx
// connection pool. The caller owns the pool lifecycle; Close is a
// no-op.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a PostgreSQL store on the given pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:   pool,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the jobs table and the eligibility indexes.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS jobq_jobs (
			id               TEXT PRIMARY KEY,
			job_type         TEXT NOT NULL,
			payload          BYTEA NOT NULL,
			status           TEXT NOT NULL DEFAULT 'pending',
			attempts         INTEGER NOT NULL DEFAULT 0,
			max_retries      INTEGER NOT NULL DEFAULT 3,
			last_error       TEXT NOT NULL DEFAULT '',
			worker_id        TEXT,
			scheduled_at     TIMESTAMPTZ NOT NULL,
			lease_expires_at TIMESTAMPTZ,
			completed_at     TIMESTAMPTZ,
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobq_jobs_pending
			ON jobq_jobs (status, scheduled_at)`,
		`CREATE INDEX IF NOT EXISTS idx_jobq_jobs_lease
			ON jobq_jobs (status, lease_expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_jobq_jobs_claim
			ON jobq_jobs (job_type, status, scheduled_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("jobq/postgres: migrate: %w", err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close is a no-op because the caller owns the pool lifecycle.
func (s *Store) Close() error {
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

// isNoRows returns true when err indicates an empty result.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks for a unique constraint violation.
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
