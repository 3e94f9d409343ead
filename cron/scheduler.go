// Package cron provides in-process recurring job scheduling. Entries
// are registered on the scheduler and enqueued as regular jobs when
// their schedule fires; execution itself always goes through the queue
// so recurring work gets the same lease, retry, and dead-letter
// treatment as one-off jobs.
//
// Each process runs its own scheduler over its own entries. Running
// the same entry in several processes fires it in each of them; keep
// an entry on a single process when exactly-once firing matters.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

// EnqueueFunc is the callback the scheduler uses to enqueue jobs.
// queue.Queue.Schedule satisfies it.
type EnqueueFunc func(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (id.JobID, error)

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Entry is one recurring enqueue.
type Entry struct {
	// Name uniquely identifies the entry on this scheduler.
	Name string

	// Schedule is the cron expression ("*/5 * * * *", "@every 30s").
	Schedule string

	// JobType and Payload describe the job enqueued on each firing.
	JobType string
	Payload []byte

	// Opts are passed through to the enqueue call.
	Opts []job.Option

	sched cronlib.Schedule
	next  time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.clock = clock }
}

// Scheduler fires registered entries on a tick loop.
type Scheduler struct {
	enqueue      EnqueueFunc
	logger       *slog.Logger
	tickInterval time.Duration
	clock        func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewScheduler creates a Scheduler.
func NewScheduler(enqueue EnqueueFunc, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		enqueue:      enqueue,
		logger:       logger,
		tickInterval: 1 * time.Second,
		clock:        func() time.Time { return time.Now().UTC() },
		entries:      make(map[string]*Entry),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a recurring entry. The first firing is the next time
// the schedule matches; entries never fire immediately on registration.
func (s *Scheduler) Add(e Entry) error {
	if e.Name == "" {
		return fmt.Errorf("jobq/cron: entry name is required")
	}
	if e.JobType == "" {
		return fmt.Errorf("jobq/cron: entry %q: job type is required", e.Name)
	}

	sched, err := ParseSchedule(e.Schedule)
	if err != nil {
		return fmt.Errorf("jobq/cron: entry %q: parse schedule %q: %w", e.Name, e.Schedule, err)
	}
	e.sched = sched
	e.next = sched.Next(s.clock())

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[e.Name]; exists {
		return fmt.Errorf("jobq/cron: entry %q already registered", e.Name)
	}
	s.entries[e.Name] = &e
	return nil
}

// Remove deregisters an entry by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, name)
}

// Entries returns the names of all registered entries.
func (s *Scheduler) Entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// Start launches the tick goroutine. It returns immediately.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true

	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("cron scheduler started",
		slog.Duration("tick_interval", s.tickInterval),
		slog.Int("entries", len(s.entries)),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for the tick goroutine.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick fires every due entry once and advances its next-run time. A
// tick that arrives late fires the entry once, not once per missed
// schedule point.
func (s *Scheduler) tick() {
	now := s.clock()

	s.mu.Lock()
	var due []*Entry
	for _, e := range s.entries {
		if !e.next.After(now) {
			due = append(due, e)
			e.next = e.sched.Next(now)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		s.fireEntry(e)
	}
}

func (s *Scheduler) fireEntry(e *Entry) {
	jobID, err := s.enqueue(context.Background(), e.JobType, e.Payload, e.Opts...)
	if err != nil {
		s.logger.Error("cron enqueue error",
			slog.String("cron_name", e.Name),
			slog.String("job_type", e.JobType),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Info("cron fired",
		slog.String("cron_name", e.Name),
		slog.String("job_type", e.JobType),
		slog.String("job_id", jobID.String()),
	)
}
