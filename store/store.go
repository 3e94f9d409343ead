// Package store defines the composite persistence interface a jobq
// backend implements: the job store contract plus lifecycle management.
package store

import (
	"context"

	"github.com/xraph/jobq/job"
)

// Store is the full persistence interface for a jobq backend.
type Store interface {
	job.Store

	// Migrate creates collections/tables and the indexes the claim
	// protocol needs: (status, scheduled_at) and (status,
	// lease_expires_at).
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
