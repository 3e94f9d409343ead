// Package queue exposes the public job-queue operations: schedule,
// claim, heartbeat, complete, fail, plus the requeue and purge
// maintenance sweeps. It is a thin composition over a job.Store; the
// store is the single source of truth and nothing is cached
// in-process, because independent worker processes share it.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/backoff"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

// Queue is the facade consumers and workers share.
type Queue struct {
	store         job.Store
	registry      *job.Registry
	backoff       backoff.Strategy
	leaseDuration time.Duration
	maxRetries    int
	clock         func() time.Time
	logger        *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithRegistry makes registered job definitions supply per-type
// scheduling defaults: Schedule starts from the definition's options
// (max retries, delay) before applying its own, and lease durations
// resolve per type through LeaseDurationFor.
func WithRegistry(reg *job.Registry) Option {
	return func(q *Queue) { q.registry = reg }
}

// WithBackoff sets the retry delay strategy applied on failure.
func WithBackoff(bo backoff.Strategy) Option {
	return func(q *Queue) { q.backoff = bo }
}

// WithLeaseDuration sets the claim exclusivity window.
func WithLeaseDuration(d time.Duration) Option {
	return func(q *Queue) { q.leaseDuration = d }
}

// WithMaxRetries sets the default retry ceiling for scheduled jobs.
func WithMaxRetries(n int) Option {
	return func(q *Queue) { q.maxRetries = n }
}

// WithClock overrides the time source. Tests use this to step through
// lease expiry deterministically.
func WithClock(clock func() time.Time) Option {
	return func(q *Queue) { q.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// New creates a Queue over the given store.
func New(st job.Store, opts ...Option) (*Queue, error) {
	if st == nil {
		return nil, jobq.ErrNoStore
	}

	cfg := jobq.DefaultConfig()
	q := &Queue{
		store:         st,
		backoff:       backoff.DefaultStrategy(),
		leaseDuration: cfg.LeaseDuration,
		maxRetries:    cfg.MaxRetries,
		clock:         func() time.Time { return time.Now().UTC() },
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// LeaseDuration returns the configured claim exclusivity window.
func (q *Queue) LeaseDuration() time.Duration { return q.leaseDuration }

// LeaseDurationFor returns the lease duration for jobs of the given
// type: the registered definition's value when one is declared,
// otherwise the queue-wide default.
func (q *Queue) LeaseDurationFor(jobType string) time.Duration {
	if q.registry != nil {
		if o, ok := q.registry.Options(jobType); ok && o.LeaseDuration > 0 {
			return o.LeaseDuration
		}
	}
	return q.leaseDuration
}

// scheduleDefaults resolves the option baseline for a job type: the
// registered definition's options when a registry is configured and
// knows the type, the queue-wide defaults otherwise.
func (q *Queue) scheduleDefaults(jobType string) job.Options {
	if q.registry != nil {
		if o, ok := q.registry.Options(jobType); ok {
			return o
		}
	}
	return job.Options{MaxRetries: q.maxRetries}
}

// Schedule inserts a new pending job and returns its ID. The payload
// is stored opaquely. Delay and retry ceiling come from the registered
// definition's options (see WithRegistry), overridden by opts.
func (q *Queue) Schedule(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (id.JobID, error) {
	if jobType == "" {
		return id.Nil, fmt.Errorf("jobq/queue: empty job type")
	}

	o := q.scheduleDefaults(jobType)
	for _, opt := range opts {
		opt(&o)
	}

	now := q.clock()
	j := &job.Job{
		Entity:      jobq.Entity{CreatedAt: now, UpdatedAt: now},
		ID:          id.NewJobID(),
		Type:        jobType,
		Payload:     payload,
		Status:      job.StatusPending,
		MaxRetries:  o.MaxRetries,
		ScheduledAt: now.Add(o.Delay),
	}

	if err := q.store.InsertJob(ctx, j); err != nil {
		return id.Nil, err
	}

	q.logger.Debug("job scheduled",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", jobType),
		slog.Time("scheduled_at", j.ScheduledAt),
	)
	return j.ID, nil
}

// Claim atomically takes ownership of one eligible job for workerID.
// Returns jobq.ErrNoJobAvailable when nothing is eligible — an
// expected outcome, not a failure.
func (q *Queue) Claim(ctx context.Context, jobTypes []string, workerID id.WorkerID) (*job.Job, error) {
	return q.store.ClaimJob(ctx, jobTypes, workerID, q.clock(), q.leaseDuration)
}

// Heartbeat extends workerID's lease on a running job by the queue-wide
// lease duration. A jobq.ErrLeaseLost return means the worker no longer
// owns the job and must stop processing it.
func (q *Queue) Heartbeat(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	return q.ExtendLease(ctx, jobID, workerID, q.leaseDuration)
}

// ExtendLease is Heartbeat with an explicit window. Workers use it to
// honor a definition's lease duration (see LeaseDurationFor) instead of
// the queue-wide default. A non-positive d falls back to the default.
func (q *Queue) ExtendLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, d time.Duration) error {
	if d <= 0 {
		d = q.leaseDuration
	}
	return q.store.RenewLease(ctx, jobID, workerID, q.clock(), d)
}

// Complete marks a job done. Safe to call after losing the lease; the
// jobq.ErrLeaseLost return carries no side effect.
func (q *Queue) Complete(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	return q.store.CompleteJob(ctx, jobID, workerID, q.clock())
}

// Fail records a handler failure. With retries remaining the job goes
// back to pending after the configured backoff; otherwise it is
// dead-lettered.
func (q *Queue) Fail(ctx context.Context, jobID id.JobID, workerID id.WorkerID, errMsg string) error {
	return q.store.FailJob(ctx, jobID, workerID, errMsg, q.clock(), q.backoff)
}

// Get fetches a job by ID, for inspection.
func (q *Queue) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return q.store.GetJob(ctx, jobID)
}

// RequeueAbandoned sweeps running jobs whose leases expired back to
// pending. Optional housekeeping: claims already treat expired leases
// as eligible, so correctness never depends on this pass.
func (q *Queue) RequeueAbandoned(ctx context.Context) (int64, error) {
	swept, err := q.store.RequeueAbandoned(ctx, q.clock())
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		q.logger.Info("requeued abandoned jobs", slog.Int64("count", swept))
	}
	return swept, nil
}

// Purge deletes terminal (done or failed) jobs older than retention.
func (q *Queue) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	return q.store.PurgeTerminal(ctx, q.clock().Add(-retention))
}

// Stats summarizes the queue by status.
type Stats struct {
	Pending int64 `json:"pending"`
	Running int64 `json:"running"`
	Done    int64 `json:"done"`
	Failed  int64 `json:"failed"`
}

// Stats counts jobs per status. Diagnostic read; never part of a
// mutation decision.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	for _, pair := range []struct {
		status job.Status
		dst    *int64
	}{
		{job.StatusPending, &st.Pending},
		{job.StatusRunning, &st.Running},
		{job.StatusDone, &st.Done},
		{job.StatusFailed, &st.Failed},
	} {
		n, err := q.store.CountJobs(ctx, job.CountOpts{Status: pair.status})
		if err != nil {
			return Stats{}, err
		}
		*pair.dst = n
	}
	return st, nil
}
