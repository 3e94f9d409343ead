// Package memory provides a fully in-process jobq store. The single
// mutex plays the role the backing database's single-document atomicity
// plays in the real backends, so the conditional claim/lease semantics
// are byte-for-byte the same. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/backoff"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
	"github.com/xraph/jobq/store"
)

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store.
// Safe for concurrent access.
type Store struct {
	mu   sync.Mutex
	jobs map[string]*job.Job
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs: make(map[string]*job.Job),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// InsertJob persists a new pending job.
func (m *Store) InsertJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return jobq.ErrJobAlreadyExists
	}
	cp := cloneJob(j)
	m.jobs[key] = cp
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, jobq.ErrJobNotFound
	}
	return cloneJob(j), nil
}

// ClaimJob atomically claims the oldest eligible job. The select and
// mutate happen under one critical section, mirroring the atomic
// find-and-modify of the database backends.
func (m *Store) ClaimJob(_ context.Context, jobTypes []string, workerID id.WorkerID, now time.Time, leaseDuration time.Duration) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	typeSet := make(map[string]struct{}, len(jobTypes))
	for _, t := range jobTypes {
		typeSet[t] = struct{}{}
	}

	var candidate *job.Job
	for _, j := range m.jobs {
		if !job.Eligible(j, now) {
			continue
		}
		if len(typeSet) > 0 {
			if _, ok := typeSet[j.Type]; !ok {
				continue
			}
		}
		// Oldest ScheduledAt first; ID breaks ties for determinism.
		if candidate == nil ||
			j.ScheduledAt.Before(candidate.ScheduledAt) ||
			(j.ScheduledAt.Equal(candidate.ScheduledAt) && j.ID.String() < candidate.ID.String()) {
			candidate = j
		}
	}

	if candidate == nil {
		return nil, jobq.ErrNoJobAvailable
	}

	lease := job.LeaseExpiry(now, leaseDuration)
	candidate.Status = job.StatusRunning
	candidate.WorkerID = workerID
	candidate.LeaseExpiresAt = &lease
	candidate.Attempts++
	candidate.UpdatedAt = now

	return cloneJob(candidate), nil
}

// RenewLease extends the lease on a running job held by workerID.
func (m *Store) RenewLease(_ context.Context, jobID id.JobID, workerID id.WorkerID, now time.Time, leaseDuration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return jobq.ErrJobNotFound
	}
	if j.Status != job.StatusRunning || !j.WorkerID.Equal(workerID) {
		return jobq.ErrLeaseLost
	}

	lease := job.LeaseExpiry(now, leaseDuration)
	j.LeaseExpiresAt = &lease
	j.UpdatedAt = now
	return nil
}

// CompleteJob marks a running job held by workerID as done.
func (m *Store) CompleteJob(_ context.Context, jobID id.JobID, workerID id.WorkerID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return jobq.ErrJobNotFound
	}
	if j.Status != job.StatusRunning || !j.WorkerID.Equal(workerID) {
		return jobq.ErrLeaseLost
	}

	j.Status = job.StatusDone
	j.LeaseExpiresAt = nil
	n := now
	j.CompletedAt = &n
	j.UpdatedAt = now
	return nil
}

// FailJob records a failure on a running job held by workerID, either
// requeueing it after backoff or dead-lettering it.
func (m *Store) FailJob(_ context.Context, jobID id.JobID, workerID id.WorkerID, errMsg string, now time.Time, bo backoff.Strategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return jobq.ErrJobNotFound
	}
	if j.Status != job.StatusRunning || !j.WorkerID.Equal(workerID) {
		return jobq.ErrLeaseLost
	}

	j.LastError = errMsg
	j.LeaseExpiresAt = nil
	j.WorkerID = id.Nil
	j.UpdatedAt = now

	if j.RetriesRemaining() {
		j.Status = job.StatusPending
		j.ScheduledAt = job.RetryAt(now, bo, j.Attempts)
	} else {
		j.Status = job.StatusFailed
		n := now
		j.CompletedAt = &n
	}
	return nil
}

// RequeueAbandoned resets running jobs with expired leases to pending.
func (m *Store) RequeueAbandoned(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var swept int64
	for _, j := range m.jobs {
		if j.Status != job.StatusRunning {
			continue
		}
		if j.LeaseExpiresAt == nil || j.LeaseExpiresAt.After(now) {
			continue
		}
		j.Status = job.StatusPending
		j.WorkerID = id.Nil
		j.LeaseExpiresAt = nil
		j.UpdatedAt = now
		swept++
	}
	return swept, nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return jobq.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ListJobsByStatus returns jobs in the given status, oldest
// ScheduledAt first.
func (m *Store) ListJobsByStatus(_ context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if j.Status == status {
			matched = append(matched, j)
		}
	}

	sort.Slice(matched, func(i, k int) bool {
		if !matched[i].ScheduledAt.Equal(matched[k].ScheduledAt) {
			return matched[i].ScheduledAt.Before(matched[k].ScheduledAt)
		}
		return matched[i].ID.String() < matched[k].ID.String()
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	result := make([]*job.Job, len(matched))
	for i, j := range matched {
		result[i] = cloneJob(j)
	}
	return result, nil
}

// CountJobs returns the number of jobs matching opts.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for _, j := range m.jobs {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		count++
	}
	return count, nil
}

// PurgeTerminal deletes done and failed jobs last updated at or before
// cutoff.
func (m *Store) PurgeTerminal(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for key, j := range m.jobs {
		if !j.Status.Terminal() {
			continue
		}
		if j.UpdatedAt.After(cutoff) {
			continue
		}
		delete(m.jobs, key)
		removed++
	}
	return removed, nil
}

// cloneJob copies a job so callers can mutate without racing the store.
func cloneJob(j *job.Job) *job.Job {
	cp := *j
	if j.Payload != nil {
		cp.Payload = append([]byte(nil), j.Payload...)
	}
	if j.LeaseExpiresAt != nil {
		t := *j.LeaseExpiresAt
		cp.LeaseExpiresAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
