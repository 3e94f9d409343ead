package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xraph/jobq/store"
)

// colJobs is the single persisted collection; the queue keeps no other
// state.
const colJobs = "jobq_jobs"

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// Store is a MongoDB implementation of store.Store. The caller owns
// the *mongo.Database lifecycle; Store never disconnects the client.
type Store struct {
	db     *mongod.Database
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

// New creates a MongoDB store on the given database. The caller owns
// the database handle; Close is a no-op.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the indexes the claim protocol queries against.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := []mongod.IndexModel{
		// Eligibility: pending jobs by due time.
		{Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "scheduled_at", Value: 1},
		}},
		// Eligibility: running jobs by lease expiry.
		{Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "lease_expires_at", Value: 1},
		}},
		// Claim filter also narrows by type.
		{Keys: bson.D{
			{Key: "job_type", Value: 1},
			{Key: "status", Value: 1},
			{Key: "scheduled_at", Value: 1},
		}},
	}

	_, err := s.db.Collection(colJobs).Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("jobq/mongo: migrate indexes: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error {
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

func (s *Store) jobs() *mongod.Collection {
	return s.db.Collection(colJobs)
}

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "duplicate key") ||
		strings.Contains(err.Error(), "E11000")
}
