// Package storetest provides a backend-agnostic conformance suite for
// store.Store implementations. Every backend must exhibit the same
// conditional claim/lease semantics; the suite drives them through an
// injected clock value, so it is deterministic against any backend and
// never sleeps.
//
// Backends plug in with a Factory that yields a fresh, empty store:
//
//	func TestConformance(t *testing.T) {
//		storetest.Run(t, func(t *testing.T) store.Store {
//			return memory.New()
//		})
//	}
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/backoff"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
	"github.com/xraph/jobq/store"
)

// Factory returns a fresh, empty store for one subtest. Implementations
// register any teardown with t.Cleanup.
type Factory func(t *testing.T) store.Store

var (
	t0    = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	lease = 30 * time.Second
)

func newJob(jobType string, scheduledAt time.Time, maxRetries int) *job.Job {
	return &job.Job{
		Entity:      jobq.Entity{CreatedAt: t0, UpdatedAt: t0},
		ID:          id.NewJobID(),
		Type:        jobType,
		Payload:     []byte(`{"k":"v"}`),
		Status:      job.StatusPending,
		MaxRetries:  maxRetries,
		ScheduledAt: scheduledAt,
	}
}

func mustInsert(t *testing.T, s store.Store, j *job.Job) {
	t.Helper()
	if err := s.InsertJob(context.Background(), j); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
}

func mustClaim(t *testing.T, s store.Store, workerID id.WorkerID, now time.Time) *job.Job {
	t.Helper()
	j, err := s.ClaimJob(context.Background(), nil, workerID, now, lease)
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	return j
}

// Run exercises the claim/lease/complete/fail protocol against the
// store under test.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("InsertGetDuplicate", func(t *testing.T) {
		s := newStore(t)
		j := newJob("email:send", t0, 3)
		mustInsert(t, s, j)

		got, err := s.GetJob(ctx, j.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if got.Type != j.Type || got.Status != job.StatusPending || got.Attempts != 0 {
			t.Fatalf("got %s/%s/%d", got.Type, got.Status, got.Attempts)
		}
		if string(got.Payload) != `{"k":"v"}` {
			t.Fatalf("payload = %q", got.Payload)
		}

		if err := s.InsertJob(ctx, j); !errors.Is(err, jobq.ErrJobAlreadyExists) {
			t.Fatalf("duplicate insert: %v, want ErrJobAlreadyExists", err)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, jobq.ErrJobNotFound) {
			t.Fatalf("err = %v, want ErrJobNotFound", err)
		}
	})

	t.Run("ClaimSetsLeaseAndAttempts", func(t *testing.T) {
		s := newStore(t)
		worker := id.NewWorkerID()
		mustInsert(t, s, newJob("t", t0, 3))

		j := mustClaim(t, s, worker, t0)
		if j.Status != job.StatusRunning || j.Attempts != 1 {
			t.Fatalf("status/attempts = %s/%d", j.Status, j.Attempts)
		}
		if !j.WorkerID.Equal(worker) {
			t.Fatalf("worker = %s", j.WorkerID)
		}
		if j.LeaseExpiresAt == nil || !j.LeaseExpiresAt.Equal(t0.Add(lease)) {
			t.Fatalf("lease = %v", j.LeaseExpiresAt)
		}
	})

	t.Run("ClaimHonorsScheduledAt", func(t *testing.T) {
		s := newStore(t)
		mustInsert(t, s, newJob("t", t0.Add(time.Minute), 3))

		if _, err := s.ClaimJob(ctx, nil, id.NewWorkerID(), t0, lease); !errors.Is(err, jobq.ErrNoJobAvailable) {
			t.Fatalf("claim before due: %v, want ErrNoJobAvailable", err)
		}
		if _, err := s.ClaimJob(ctx, nil, id.NewWorkerID(), t0.Add(time.Minute), lease); err != nil {
			t.Fatalf("claim at due time: %v", err)
		}
	})

	t.Run("ClaimFiltersTypes", func(t *testing.T) {
		s := newStore(t)
		mustInsert(t, s, newJob("audio:encode", t0, 3))

		if _, err := s.ClaimJob(ctx, []string{"video:encode"}, id.NewWorkerID(), t0, lease); !errors.Is(err, jobq.ErrNoJobAvailable) {
			t.Fatalf("mismatched type: %v", err)
		}
		j, err := s.ClaimJob(ctx, []string{"video:encode", "audio:encode"}, id.NewWorkerID(), t0, lease)
		if err != nil {
			t.Fatalf("matching type: %v", err)
		}
		if j.Type != "audio:encode" {
			t.Fatalf("claimed %s", j.Type)
		}
	})

	t.Run("ClaimOldestFirst", func(t *testing.T) {
		s := newStore(t)
		newer := newJob("t", t0.Add(time.Second), 3)
		older := newJob("t", t0.Add(-time.Minute), 3)
		mustInsert(t, s, newer)
		mustInsert(t, s, older)

		j := mustClaim(t, s, id.NewWorkerID(), t0.Add(time.Second))
		if !j.ID.Equal(older.ID) {
			t.Fatal("claim must prefer the oldest eligible job")
		}
	})

	t.Run("ReclaimAfterLeaseExpiry", func(t *testing.T) {
		s := newStore(t)
		workerA := id.NewWorkerID()
		workerB := id.NewWorkerID()
		orig := newJob("t", t0, 3)
		mustInsert(t, s, orig)
		mustClaim(t, s, workerA, t0)

		// Invisible while the lease is live.
		if _, err := s.ClaimJob(ctx, nil, workerB, t0.Add(lease-time.Second), lease); !errors.Is(err, jobq.ErrNoJobAvailable) {
			t.Fatalf("claim during lease: %v", err)
		}

		j, err := s.ClaimJob(ctx, nil, workerB, t0.Add(lease), lease)
		if err != nil {
			t.Fatalf("claim at expiry: %v", err)
		}
		if !j.ID.Equal(orig.ID) || j.Attempts != 2 || !j.WorkerID.Equal(workerB) {
			t.Fatalf("reclaim: attempts=%d worker=%s", j.Attempts, j.WorkerID)
		}

		// The stale owner's writes are all rejected.
		later := t0.Add(lease + time.Second)
		if err := s.RenewLease(ctx, j.ID, workerA, later, lease); !errors.Is(err, jobq.ErrLeaseLost) {
			t.Fatalf("stale renew: %v, want ErrLeaseLost", err)
		}
		if err := s.CompleteJob(ctx, j.ID, workerA, later); !errors.Is(err, jobq.ErrLeaseLost) {
			t.Fatalf("stale complete: %v, want ErrLeaseLost", err)
		}
		if err := s.FailJob(ctx, j.ID, workerA, "late", later, backoff.NewConstant(time.Second)); !errors.Is(err, jobq.ErrLeaseLost) {
			t.Fatalf("stale fail: %v, want ErrLeaseLost", err)
		}
	})

	t.Run("RenewLeaseOwnerOnly", func(t *testing.T) {
		s := newStore(t)
		worker := id.NewWorkerID()
		orig := newJob("t", t0, 3)
		mustInsert(t, s, orig)
		mustClaim(t, s, worker, t0)

		renewAt := t0.Add(20 * time.Second)
		if err := s.RenewLease(ctx, orig.ID, worker, renewAt, lease); err != nil {
			t.Fatalf("RenewLease: %v", err)
		}
		got, _ := s.GetJob(ctx, orig.ID)
		if !got.LeaseExpiresAt.Equal(renewAt.Add(lease)) {
			t.Fatalf("lease = %v", got.LeaseExpiresAt)
		}

		if err := s.RenewLease(ctx, orig.ID, id.NewWorkerID(), renewAt, lease); !errors.Is(err, jobq.ErrLeaseLost) {
			t.Fatalf("foreign renew: %v, want ErrLeaseLost", err)
		}
		if err := s.RenewLease(ctx, id.NewJobID(), worker, renewAt, lease); !errors.Is(err, jobq.ErrJobNotFound) {
			t.Fatalf("missing job renew: %v, want ErrJobNotFound", err)
		}
	})

	t.Run("CompleteTerminalAndIdempotent", func(t *testing.T) {
		s := newStore(t)
		worker := id.NewWorkerID()
		orig := newJob("t", t0, 3)
		mustInsert(t, s, orig)
		mustClaim(t, s, worker, t0)

		doneAt := t0.Add(time.Second)
		if err := s.CompleteJob(ctx, orig.ID, worker, doneAt); err != nil {
			t.Fatalf("CompleteJob: %v", err)
		}
		got, _ := s.GetJob(ctx, orig.ID)
		if got.Status != job.StatusDone || got.CompletedAt == nil || got.LeaseExpiresAt != nil {
			t.Fatalf("terminal state: %s lease=%v completed=%v", got.Status, got.LeaseExpiresAt, got.CompletedAt)
		}

		// Second complete reports lease lost and changes nothing.
		if err := s.CompleteJob(ctx, orig.ID, worker, doneAt.Add(time.Second)); !errors.Is(err, jobq.ErrLeaseLost) {
			t.Fatalf("second complete: %v, want ErrLeaseLost", err)
		}
		again, _ := s.GetJob(ctx, orig.ID)
		if !again.CompletedAt.Equal(*got.CompletedAt) {
			t.Fatal("second complete must not touch the record")
		}

		// Terminal jobs are never claimable.
		if _, err := s.ClaimJob(ctx, nil, worker, doneAt.Add(time.Hour), lease); !errors.Is(err, jobq.ErrNoJobAvailable) {
			t.Fatalf("claim of done job: %v", err)
		}
	})

	t.Run("FailRequeuesWithBackoff", func(t *testing.T) {
		s := newStore(t)
		worker := id.NewWorkerID()
		orig := newJob("t", t0, 3)
		mustInsert(t, s, orig)
		claimed := mustClaim(t, s, worker, t0)

		failAt := t0.Add(time.Second)
		bo := backoff.NewConstant(10 * time.Second)
		if err := s.FailJob(ctx, orig.ID, worker, "boom", failAt, bo); err != nil {
			t.Fatalf("FailJob: %v", err)
		}

		got, _ := s.GetJob(ctx, orig.ID)
		if got.Status != job.StatusPending {
			t.Fatalf("status = %s, want pending", got.Status)
		}
		if got.Attempts != claimed.Attempts {
			t.Fatalf("fail must not change attempts: %d", got.Attempts)
		}
		if got.LastError != "boom" {
			t.Fatalf("last_error = %q", got.LastError)
		}
		if !got.ScheduledAt.Equal(failAt.Add(10 * time.Second)) {
			t.Fatalf("scheduled_at = %v", got.ScheduledAt)
		}
		if !got.WorkerID.IsNil() || got.LeaseExpiresAt != nil {
			t.Fatal("requeued job must clear ownership")
		}
	})

	t.Run("FailDeadLettersAfterExhaustion", func(t *testing.T) {
		s := newStore(t)
		worker := id.NewWorkerID()
		orig := newJob("t", t0, 0)
		mustInsert(t, s, orig)
		mustClaim(t, s, worker, t0)

		failAt := t0.Add(time.Second)
		if err := s.FailJob(ctx, orig.ID, worker, "boom", failAt, backoff.NewConstant(time.Second)); err != nil {
			t.Fatalf("FailJob: %v", err)
		}

		got, _ := s.GetJob(ctx, orig.ID)
		if got.Status != job.StatusFailed || got.CompletedAt == nil {
			t.Fatalf("dead-letter state: %s completed=%v", got.Status, got.CompletedAt)
		}
		if _, err := s.ClaimJob(ctx, nil, worker, failAt.Add(time.Hour), lease); !errors.Is(err, jobq.ErrNoJobAvailable) {
			t.Fatalf("claim of dead-lettered job: %v", err)
		}
	})

	t.Run("RequeueAbandoned", func(t *testing.T) {
		s := newStore(t)
		for range 2 {
			j := newJob("t", t0, 3)
			mustInsert(t, s, j)
			mustClaim(t, s, id.NewWorkerID(), t0)
		}

		n, err := s.RequeueAbandoned(ctx, t0.Add(lease-time.Second))
		if err != nil {
			t.Fatalf("RequeueAbandoned: %v", err)
		}
		if n != 0 {
			t.Fatalf("swept %d live leases", n)
		}

		n, err = s.RequeueAbandoned(ctx, t0.Add(lease))
		if err != nil {
			t.Fatalf("RequeueAbandoned: %v", err)
		}
		if n != 2 {
			t.Fatalf("swept %d, want 2", n)
		}

		pending, err := s.CountJobs(ctx, job.CountOpts{Status: job.StatusPending})
		if err != nil {
			t.Fatalf("CountJobs: %v", err)
		}
		if pending != 2 {
			t.Fatalf("pending = %d, want 2", pending)
		}
	})

	t.Run("ListAndCount", func(t *testing.T) {
		s := newStore(t)
		first := newJob("a", t0, 3)
		second := newJob("b", t0.Add(time.Second), 3)
		mustInsert(t, s, first)
		mustInsert(t, s, second)

		jobs, err := s.ListJobsByStatus(ctx, job.StatusPending, job.ListOpts{})
		if err != nil {
			t.Fatalf("ListJobsByStatus: %v", err)
		}
		if len(jobs) != 2 || !jobs[0].ID.Equal(first.ID) || !jobs[1].ID.Equal(second.ID) {
			t.Fatalf("list order wrong: %d jobs", len(jobs))
		}

		limited, err := s.ListJobsByStatus(ctx, job.StatusPending, job.ListOpts{Limit: 1, Offset: 1})
		if err != nil {
			t.Fatalf("ListJobsByStatus: %v", err)
		}
		if len(limited) != 1 || !limited[0].ID.Equal(second.ID) {
			t.Fatal("limit/offset paging wrong")
		}

		byType, err := s.CountJobs(ctx, job.CountOpts{Type: "a"})
		if err != nil {
			t.Fatalf("CountJobs: %v", err)
		}
		if byType != 1 {
			t.Fatalf("count(type=a) = %d", byType)
		}
	})

	t.Run("DeleteAndPurge", func(t *testing.T) {
		s := newStore(t)
		worker := id.NewWorkerID()

		doomed := newJob("t", t0, 3)
		mustInsert(t, s, doomed)
		if err := s.DeleteJob(ctx, doomed.ID); err != nil {
			t.Fatalf("DeleteJob: %v", err)
		}
		if err := s.DeleteJob(ctx, doomed.ID); !errors.Is(err, jobq.ErrJobNotFound) {
			t.Fatalf("second delete: %v, want ErrJobNotFound", err)
		}

		old := newJob("t", t0, 3)
		mustInsert(t, s, old)
		mustClaim(t, s, worker, t0)
		if err := s.CompleteJob(ctx, old.ID, worker, t0.Add(time.Second)); err != nil {
			t.Fatalf("CompleteJob: %v", err)
		}
		fresh := newJob("t", t0.Add(time.Hour), 3)
		mustInsert(t, s, fresh)

		n, err := s.PurgeTerminal(ctx, t0.Add(time.Minute))
		if err != nil {
			t.Fatalf("PurgeTerminal: %v", err)
		}
		if n != 1 {
			t.Fatalf("purged %d, want 1", n)
		}
		if _, err := s.GetJob(ctx, old.ID); !errors.Is(err, jobq.ErrJobNotFound) {
			t.Fatalf("purged job still present: %v", err)
		}
		if _, err := s.GetJob(ctx, fresh.ID); err != nil {
			t.Fatalf("fresh job lost: %v", err)
		}
	})
}
