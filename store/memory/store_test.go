package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/backoff"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

var (
	t0    = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	lease = 30 * time.Second
)

func newJob(jobType string, scheduledAt time.Time, maxRetries int) *job.Job {
	return &job.Job{
		Entity:      jobq.Entity{CreatedAt: scheduledAt, UpdatedAt: scheduledAt},
		ID:          id.NewJobID(),
		Type:        jobType,
		Payload:     []byte(`{}`),
		Status:      job.StatusPending,
		MaxRetries:  maxRetries,
		ScheduledAt: scheduledAt,
	}
}

// ---------------------------------------------------------------------------
// Insert / Get / Delete
// ---------------------------------------------------------------------------

func TestInsertJob_Duplicate(t *testing.T) {
	s := New()
	ctx := context.Background()
	j := newJob("t", t0, 3)

	if err := s.InsertJob(ctx, j); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	if err := s.InsertJob(ctx, j); !errors.Is(err, jobq.ErrJobAlreadyExists) {
		t.Fatalf("duplicate insert err = %v, want ErrJobAlreadyExists", err)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	s := New()
	if _, err := s.GetJob(context.Background(), id.NewJobID()); !errors.Is(err, jobq.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestGetJob_ReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	j := newJob("t", t0, 3)
	if err := s.InsertJob(ctx, j); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	got.Status = job.StatusFailed
	got.Payload[0] = 'X'

	again, _ := s.GetJob(ctx, j.ID)
	if again.Status != job.StatusPending || again.Payload[0] != '{' {
		t.Fatal("mutating a returned job must not affect the store")
	}
}

func TestDeleteJob(t *testing.T) {
	s := New()
	ctx := context.Background()
	j := newJob("t", t0, 3)
	_ = s.InsertJob(ctx, j)

	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if err := s.DeleteJob(ctx, j.ID); !errors.Is(err, jobq.ErrJobNotFound) {
		t.Fatalf("second delete err = %v, want ErrJobNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Claim
// ---------------------------------------------------------------------------

func TestClaimJob_Empty(t *testing.T) {
	s := New()
	_, err := s.ClaimJob(context.Background(), nil, id.NewWorkerID(), t0, lease)
	if !errors.Is(err, jobq.ErrNoJobAvailable) {
		t.Fatalf("err = %v, want ErrNoJobAvailable", err)
	}
}

func TestClaimJob_SetsLeaseAndAttempts(t *testing.T) {
	s := New()
	ctx := context.Background()
	j := newJob("t", t0, 3)
	_ = s.InsertJob(ctx, j)

	w := id.NewWorkerID()
	claimed, err := s.ClaimJob(ctx, []string{"t"}, w, t0, lease)
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if claimed.Status != job.StatusRunning {
		t.Fatalf("status = %s, want running", claimed.Status)
	}
	if claimed.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", claimed.Attempts)
	}
	if !claimed.WorkerID.Equal(w) {
		t.Fatal("worker not recorded")
	}
	if claimed.LeaseExpiresAt == nil || !claimed.LeaseExpiresAt.Equal(t0.Add(lease)) {
		t.Fatalf("lease = %v, want %v", claimed.LeaseExpiresAt, t0.Add(lease))
	}
}

func TestClaimJob_SkipsNotDue(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.InsertJob(ctx, newJob("t", t0.Add(time.Hour), 3))

	if _, err := s.ClaimJob(ctx, []string{"t"}, id.NewWorkerID(), t0, lease); !errors.Is(err, jobq.ErrNoJobAvailable) {
		t.Fatalf("err = %v, want ErrNoJobAvailable", err)
	}
}

func TestClaimJob_FiltersTypes(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.InsertJob(ctx, newJob("a", t0, 3))

	if _, err := s.ClaimJob(ctx, []string{"b"}, id.NewWorkerID(), t0, lease); !errors.Is(err, jobq.ErrNoJobAvailable) {
		t.Fatalf("err = %v, want ErrNoJobAvailable", err)
	}

	claimed, err := s.ClaimJob(ctx, []string{"a", "b"}, id.NewWorkerID(), t0, lease)
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if claimed.Type != "a" {
		t.Fatalf("type = %q, want a", claimed.Type)
	}
}

func TestClaimJob_OldestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	newer := newJob("t", t0.Add(-time.Minute), 3)
	older := newJob("t", t0.Add(-time.Hour), 3)
	_ = s.InsertJob(ctx, newer)
	_ = s.InsertJob(ctx, older)

	claimed, err := s.ClaimJob(ctx, []string{"t"}, id.NewWorkerID(), t0, lease)
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if !claimed.ID.Equal(older.ID) {
		t.Fatal("claim must pick the oldest eligible job")
	}
}

func TestClaimJob_ReclaimsExpiredLease(t *testing.T) {
	s := New()
	ctx := context.Background()
	j := newJob("t", t0, 3)
	_ = s.InsertJob(ctx, j)

	w1 := id.NewWorkerID()
	if _, err := s.ClaimJob(ctx, []string{"t"}, w1, t0, time.Second); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	// Before expiry the job is invisible to other workers.
	w2 := id.NewWorkerID()
	if _, err := s.ClaimJob(ctx, []string{"t"}, w2, t0.Add(500*time.Millisecond), lease); !errors.Is(err, jobq.ErrNoJobAvailable) {
		t.Fatalf("pre-expiry claim err = %v, want ErrNoJobAvailable", err)
	}

	// At expiry the abandoned job is claimable, attempts increments again.
	reclaimed, err := s.ClaimJob(ctx, []string{"t"}, w2, t0.Add(2*time.Second), lease)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if reclaimed.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", reclaimed.Attempts)
	}
	if !reclaimed.WorkerID.Equal(w2) {
		t.Fatal("reclaim must transfer ownership")
	}
}

// Mutual exclusion: N concurrent claims over one eligible job yield
// exactly one winner.
func TestClaimJob_MutualExclusion(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.InsertJob(ctx, newJob("t", t0, 3))

	const workers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		won     int
		misses  int
		badErrs []error
	)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ClaimJob(ctx, []string{"t"}, id.NewWorkerID(), t0, lease)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, jobq.ErrNoJobAvailable):
				misses++
			default:
				badErrs = append(badErrs, err)
			}
		}()
	}
	wg.Wait()

	if len(badErrs) > 0 {
		t.Fatalf("unexpected errors: %v", badErrs)
	}
	if won != 1 || misses != workers-1 {
		t.Fatalf("won = %d, misses = %d; want 1 and %d", won, misses, workers-1)
	}
}

// ---------------------------------------------------------------------------
// RenewLease / CompleteJob / FailJob
// ---------------------------------------------------------------------------

func TestRenewLease_ExtendsOnlyForOwner(t *testing.T) {
	s := New()
	ctx := context.Background()
	j := newJob("t", t0, 3)
	_ = s.InsertJob(ctx, j)

	w := id.NewWorkerID()
	_, _ = s.ClaimJob(ctx, []string{"t"}, w, t0, lease)

	if err := s.RenewLease(ctx, j.ID, w, t0.Add(10*time.Second), lease); err != nil {
		t.Fatalf("RenewLease: %v", err)
	}
	got, _ := s.GetJob(ctx, j.ID)
	if !got.LeaseExpiresAt.Equal(t0.Add(10*time.Second + lease)) {
		t.Fatalf("lease = %v", got.LeaseExpiresAt)
	}

	// A stranger cannot renew.
	if err := s.RenewLease(ctx, j.ID, id.NewWorkerID(), t0, lease); !errors.Is(err, jobq.ErrLeaseLost) {
		t.Fatalf("stranger renew err = %v, want ErrLeaseLost", err)
	}
}

func TestRenewLease_AfterReclaim(t *testing.T) {
	s := New()
	ctx := context.Background()
	j := newJob("t", t0, 3)
	_ = s.InsertJob(ctx, j)

	w1 := id.NewWorkerID()
	_, _ = s.ClaimJob(ctx, []string{"t"}, w1, t0, time.Second)

	// Lease expires; another worker reclaims.
	w2 := id.NewWorkerID()
	if _, err := s.ClaimJob(ctx, []string{"t"}, w2, t0.Add(2*time.Second), lease); err != nil {
		t.Fatalf("reclaim: %v", err)
	}

	// The original worker's heartbeat must not extend the new lease.
	if err := s.RenewLease(ctx, j.ID, w1, t0.Add(3*time.Second), lease); !errors.Is(err, jobq.ErrLeaseLost) {
		t.Fatalf("err = %v, want ErrLeaseLost", err)
	}
}

func TestRenewLease_NotFound(t *testing.T) {
	s := New()
	err := s.RenewLease(context.Background(), id.NewJobID(), id.NewWorkerID(), t0, lease)
	if !errors.Is(err, jobq.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestCompleteJob_Terminal(t *testing.T) {
	s := New()
	ctx := context.Background()
	j := newJob("t", t0, 3)
	_ = s.InsertJob(ctx, j)

	w := id.NewWorkerID()
	_, _ = s.ClaimJob(ctx, []string{"t"}, w, t0, lease)

	if err := s.CompleteJob(ctx, j.ID, w, t0.Add(time.Second)); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != job.StatusDone {
		t.Fatalf("status = %s, want done", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("CompletedAt not set")
	}

	// Second complete reports LeaseLost and leaves the state untouched.
	if err := s.CompleteJob(ctx, j.ID, w, t0.Add(2*time.Second)); !errors.Is(err, jobq.ErrLeaseLost) {
		t.Fatalf("second complete err = %v, want ErrLeaseLost", err)
	}
	again, _ := s.GetJob(ctx, j.ID)
	if again.Status != job.StatusDone || !again.CompletedAt.Equal(*got.CompletedAt) {
		t.Fatal("terminal state must be immutable")
	}
}

func TestFailJob_RequeuesWithBackoff(t *testing.T) {
	s := New()
	ctx := context.Background()
	j := newJob("t", t0, 3)
	_ = s.InsertJob(ctx, j)

	w := id.NewWorkerID()
	_, _ = s.ClaimJob(ctx, []string{"t"}, w, t0, lease)

	bo := backoff.NewConstant(time.Minute)
	if err := s.FailJob(ctx, j.ID, w, "boom", t0.Add(time.Second), bo); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != job.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if got.LastError != "boom" {
		t.Fatalf("last_error = %q", got.LastError)
	}
	if !got.ScheduledAt.Equal(t0.Add(time.Second + time.Minute)) {
		t.Fatalf("scheduled_at = %v", got.ScheduledAt)
	}
	if got.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (fail must not increment)", got.Attempts)
	}
}

func TestFailJob_DeadLettersAfterExhaustion(t *testing.T) {
	s := New()
	ctx := context.Background()
	j := newJob("t", t0, 0) // no retries
	_ = s.InsertJob(ctx, j)

	w := id.NewWorkerID()
	_, _ = s.ClaimJob(ctx, []string{"t"}, w, t0, lease)

	if err := s.FailJob(ctx, j.ID, w, "boom", t0, backoff.DefaultStrategy()); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != job.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}

	// Dead-lettered jobs are never claimable.
	if _, err := s.ClaimJob(ctx, []string{"t"}, w, t0.Add(24*time.Hour), lease); !errors.Is(err, jobq.ErrNoJobAvailable) {
		t.Fatalf("claim err = %v, want ErrNoJobAvailable", err)
	}
}

func TestFailJob_LeaseLostAfterReclaim(t *testing.T) {
	s := New()
	ctx := context.Background()
	j := newJob("t", t0, 3)
	_ = s.InsertJob(ctx, j)

	w1 := id.NewWorkerID()
	_, _ = s.ClaimJob(ctx, []string{"t"}, w1, t0, time.Second)
	w2 := id.NewWorkerID()
	_, _ = s.ClaimJob(ctx, []string{"t"}, w2, t0.Add(2*time.Second), lease)

	err := s.FailJob(ctx, j.ID, w1, "late", t0.Add(3*time.Second), backoff.DefaultStrategy())
	if !errors.Is(err, jobq.ErrLeaseLost) {
		t.Fatalf("err = %v, want ErrLeaseLost", err)
	}
}

// ---------------------------------------------------------------------------
// RequeueAbandoned / List / Count / Purge
// ---------------------------------------------------------------------------

func TestRequeueAbandoned(t *testing.T) {
	s := New()
	ctx := context.Background()
	abandoned := newJob("t", t0, 3)
	live := newJob("t", t0, 3)
	_ = s.InsertJob(ctx, abandoned)
	_ = s.InsertJob(ctx, live)

	w := id.NewWorkerID()
	// Claim both; the first with a short lease.
	first, _ := s.ClaimJob(ctx, []string{"t"}, w, t0, time.Second)
	_, _ = s.ClaimJob(ctx, []string{"t"}, w, t0, time.Hour)

	swept, err := s.RequeueAbandoned(ctx, t0.Add(2*time.Second))
	if err != nil {
		t.Fatalf("RequeueAbandoned: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	got, _ := s.GetJob(ctx, first.ID)
	if got.Status != job.StatusPending || !got.WorkerID.IsNil() {
		t.Fatalf("abandoned job = %+v, want pending with no worker", got)
	}
}

func TestListJobsByStatus_OrderAndPaging(t *testing.T) {
	s := New()
	ctx := context.Background()
	j1 := newJob("t", t0.Add(2*time.Minute), 3)
	j2 := newJob("t", t0.Add(1*time.Minute), 3)
	j3 := newJob("t", t0.Add(3*time.Minute), 3)
	for _, j := range []*job.Job{j1, j2, j3} {
		_ = s.InsertJob(ctx, j)
	}

	all, err := s.ListJobsByStatus(ctx, job.StatusPending, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobsByStatus: %v", err)
	}
	if len(all) != 3 || !all[0].ID.Equal(j2.ID) || !all[2].ID.Equal(j3.ID) {
		t.Fatalf("unexpected order: %v", all)
	}

	page, err := s.ListJobsByStatus(ctx, job.StatusPending, job.ListOpts{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListJobsByStatus: %v", err)
	}
	if len(page) != 1 || !page[0].ID.Equal(j1.ID) {
		t.Fatalf("unexpected page: %v", page)
	}
}

func TestCountJobs(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.InsertJob(ctx, newJob("a", t0, 3))
	_ = s.InsertJob(ctx, newJob("a", t0, 3))
	_ = s.InsertJob(ctx, newJob("b", t0, 3))

	total, _ := s.CountJobs(ctx, job.CountOpts{})
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	byType, _ := s.CountJobs(ctx, job.CountOpts{Type: "a"})
	if byType != 2 {
		t.Fatalf("type a = %d, want 2", byType)
	}
	running, _ := s.CountJobs(ctx, job.CountOpts{Status: job.StatusRunning})
	if running != 0 {
		t.Fatalf("running = %d, want 0", running)
	}
}

func TestPurgeTerminal(t *testing.T) {
	s := New()
	ctx := context.Background()
	done := newJob("t", t0, 3)
	pending := newJob("t", t0, 3)
	_ = s.InsertJob(ctx, done)
	_ = s.InsertJob(ctx, pending)

	w := id.NewWorkerID()
	claimed, _ := s.ClaimJob(ctx, []string{"t"}, w, t0, lease)
	_ = s.CompleteJob(ctx, claimed.ID, w, t0.Add(time.Second))

	removed, err := s.PurgeTerminal(ctx, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("PurgeTerminal: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	left, _ := s.CountJobs(ctx, job.CountOpts{})
	if left != 1 {
		t.Fatalf("left = %d, want 1", left)
	}
}
