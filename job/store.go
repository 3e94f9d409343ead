package job

import (
	"context"
	"time"

	"github.com/xraph/jobq/backoff"
	"github.com/xraph/jobq/id"
)

// ListOpts controls pagination for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Status filters by job status. Empty means all statuses.
	Status Status
	// Type filters by job type. Empty means all types.
	Type string
}

// Store is the persistence contract for jobs. Implementations must
// guarantee that every mutating operation below is a single-document
// (single-row) atomic conditional update against the backing store;
// the claim/lease protocol's correctness rests on that alone, never on
// multi-document transactions or in-process locking.
//
// Callers pass now explicitly so that eligibility and lease arithmetic
// stay deterministic and testable; stores never consult a clock of
// their own.
type Store interface {
	// InsertJob persists a new pending job. Returns
	// jobq.ErrJobAlreadyExists if the ID is already present.
	InsertJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ClaimJob atomically selects one eligible job — pending and due,
	// or running with an expired lease — matching one of jobTypes
	// (empty means any type), oldest ScheduledAt first, and in the same
	// atomic operation marks it running under workerID with a fresh
	// lease and an incremented attempt counter. Returns the claimed job,
	// or jobq.ErrNoJobAvailable when nothing is eligible.
	ClaimJob(ctx context.Context, jobTypes []string, workerID id.WorkerID, now time.Time, leaseDuration time.Duration) (*Job, error)

	// RenewLease extends the lease on a running job, conditioned on
	// workerID still holding it. Returns jobq.ErrLeaseLost if the job is
	// no longer running under workerID, jobq.ErrJobNotFound if it does
	// not exist.
	RenewLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, now time.Time, leaseDuration time.Duration) error

	// CompleteJob marks a running job done, conditioned on workerID
	// still holding it. Error semantics match RenewLease.
	CompleteJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, now time.Time) error

	// FailJob records a failure on a running job, conditioned on
	// workerID still holding it. If retries remain the job returns to
	// pending, scheduled bo.Delay(attempts) in the future; otherwise it
	// is dead-lettered as failed. Error semantics match RenewLease.
	FailJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, errMsg string, now time.Time, bo backoff.Strategy) error

	// RequeueAbandoned resets every running job whose lease expired at
	// or before now back to pending, returning the number swept. This is
	// an optional maintenance pass; ClaimJob already treats expired
	// leases as eligible.
	RequeueAbandoned(ctx context.Context, now time.Time) (int64, error)

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobsByStatus returns jobs in the given status, oldest
	// ScheduledAt first.
	ListJobsByStatus(ctx context.Context, status Status, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching opts.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// PurgeTerminal deletes done and failed jobs whose last update is at
	// or before cutoff, returning the number removed.
	PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error)
}
