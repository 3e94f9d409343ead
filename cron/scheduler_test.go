package cron

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func countingEnqueue(count *atomic.Int32) EnqueueFunc {
	return func(_ context.Context, _ string, _ []byte, _ ...job.Option) (id.JobID, error) {
		count.Add(1)
		return id.NewJobID(), nil
	}
}

func TestParseSchedule(t *testing.T) {
	if _, err := ParseSchedule("*/5 * * * *"); err != nil {
		t.Fatalf("5-field expression: %v", err)
	}
	if _, err := ParseSchedule("@every 30s"); err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	if _, err := ParseSchedule("not a schedule"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestScheduler_AddValidation(t *testing.T) {
	var count atomic.Int32
	s := NewScheduler(countingEnqueue(&count), nil)

	if err := s.Add(Entry{Schedule: "@every 1s", JobType: "t"}); err == nil {
		t.Fatal("expected error for missing name")
	}
	if err := s.Add(Entry{Name: "a", Schedule: "@every 1s"}); err == nil {
		t.Fatal("expected error for missing job type")
	}
	if err := s.Add(Entry{Name: "a", Schedule: "garbage", JobType: "t"}); err == nil {
		t.Fatal("expected error for bad schedule")
	}

	if err := s.Add(Entry{Name: "a", Schedule: "@every 1s", JobType: "t"}); err != nil {
		t.Fatalf("valid entry: %v", err)
	}
	if err := s.Add(Entry{Name: "a", Schedule: "@every 1s", JobType: "t"}); err == nil {
		t.Fatal("expected error for duplicate name")
	}
}

func TestScheduler_RemoveAndEntries(t *testing.T) {
	var count atomic.Int32
	s := NewScheduler(countingEnqueue(&count), nil)

	if err := s.Add(Entry{Name: "a", Schedule: "@every 1s", JobType: "t"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(Entry{Name: "b", Schedule: "@every 1s", JobType: "t"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := len(s.Entries()); got != 2 {
		t.Fatalf("entries = %d, want 2", got)
	}

	s.Remove("a")
	entries := s.Entries()
	if len(entries) != 1 || entries[0] != "b" {
		t.Fatalf("entries = %v", entries)
	}
}

func TestScheduler_FiresDueEntry(t *testing.T) {
	var count atomic.Int32
	clk := newFakeClock()
	s := NewScheduler(countingEnqueue(&count), nil,
		WithTickInterval(5*time.Millisecond),
		WithClock(clk.Now),
	)

	if err := s.Add(Entry{Name: "heartbeat", Schedule: "@every 1m", JobType: "beat"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	// Clock frozen before the first schedule point: nothing fires.
	time.Sleep(30 * time.Millisecond)
	if n := count.Load(); n != 0 {
		t.Fatalf("fired %d times before due", n)
	}

	clk.Advance(time.Minute)
	deadline := time.After(2 * time.Second)
	for count.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for entry to fire")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	// The entry fired exactly once for this schedule point, even
	// though many ticks elapsed.
	time.Sleep(30 * time.Millisecond)
	if n := count.Load(); n != 1 {
		t.Fatalf("fired %d times, want 1", n)
	}
}

func TestScheduler_LateTickFiresOnce(t *testing.T) {
	var count atomic.Int32
	clk := newFakeClock()
	s := NewScheduler(countingEnqueue(&count), nil,
		WithTickInterval(5*time.Millisecond),
		WithClock(clk.Now),
	)

	if err := s.Add(Entry{Name: "sweep", Schedule: "@every 1m", JobType: "sweep"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	// Jump past five schedule points at once.
	clk.Advance(5 * time.Minute)

	deadline := time.After(2 * time.Second)
	for count.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for entry to fire")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	time.Sleep(30 * time.Millisecond)
	if n := count.Load(); n != 1 {
		t.Fatalf("fired %d times after catch-up, want 1", n)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	var count atomic.Int32
	s := NewScheduler(countingEnqueue(&count), nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("double Start: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("double Stop: %v", err)
	}
}
