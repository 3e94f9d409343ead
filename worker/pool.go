package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
	"github.com/xraph/jobq/queue"
)

// activeJob tracks one in-flight execution so the heartbeat loop can
// renew its lease and cancel it on shutdown or lease loss.
type activeJob struct {
	id      id.JobID
	jobType string
	cancel  context.CancelFunc
}

// Pool manages a set of concurrent worker goroutines that claim jobs
// and execute them through the Executor. One Pool holds one worker
// identity: every claim and every outcome write carries its WorkerID.
type Pool struct {
	queue        *queue.Queue
	executor     *Executor
	concurrency  int
	jobTypes     []string
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	// Heartbeat / maintenance configuration.
	heartbeatInterval time.Duration
	requeueInterval   time.Duration

	// Per-type limiter (optional).
	limiter *Limiter

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]activeJob
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of concurrent worker goroutines.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithJobTypes restricts the pool to claiming the given job types.
// By default the pool claims every type its executor has a handler for.
func WithJobTypes(types []string) PoolOption {
	return func(p *Pool) { p.jobTypes = types }
}

// WithPollInterval sets how long workers sleep when no job is eligible.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often the pool renews leases for
// active jobs. Must be well below the queue's lease duration or live
// jobs get reclaimed mid-flight. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithRequeueInterval sets how often the pool sweeps expired-lease jobs
// back to pending. Claims already treat expired leases as eligible, so
// this only speeds up visibility. A zero value disables the sweep.
func WithRequeueInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.requeueInterval = d }
}

// WithLimiter sets the per-type rate and concurrency limiter.
func WithLimiter(l *Limiter) PoolOption {
	return func(p *Pool) { p.limiter = l }
}

// NewPool creates a worker pool.
func NewPool(q *queue.Queue, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	cfg := jobq.DefaultConfig()
	p := &Pool{
		queue:             q,
		executor:          executor,
		concurrency:       cfg.Concurrency,
		pollInterval:      cfg.PollInterval,
		heartbeatInterval: cfg.HeartbeatInterval,
		workerID:          id.NewWorkerID(),
		logger:            logger,
		stopCh:            make(chan struct{}),
		activeJobs:        make(map[string]activeJob),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("job_types", p.claimTypes()),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.claimLoop()
	}

	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}

	if p.requeueInterval > 0 {
		p.wg.Add(1)
		go p.requeueLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// If the context has a deadline, active jobs are cancelled when time
// runs out; their leases lapse and other workers pick them up.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// claimTypes returns the job types this pool claims.
func (p *Pool) claimTypes() []string {
	if len(p.jobTypes) > 0 {
		return p.jobTypes
	}
	return p.executor.registry.Types()
}

// claimLoop is run by each worker goroutine.
func (p *Pool) claimLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		j, err := p.queue.Claim(context.Background(), p.claimTypes(), p.workerID)
		if err != nil {
			if !errors.Is(err, jobq.ErrNoJobAvailable) {
				p.logger.Error("claim error", slog.String("error", err.Error()))
			}
			p.sleep()
			continue
		}

		p.runJob(j)
	}
}

// runJob executes one claimed job. The job is tracked for the whole
// call so the heartbeat loop keeps its lease alive, including while
// waiting on the limiter.
func (p *Pool) runJob(j *job.Job) {
	ctx, cancel := context.WithCancel(context.Background())
	p.trackJob(j, cancel)
	defer func() {
		p.untrackJob(j.ID)
		cancel()
	}()

	// Wait for a per-type slot. The lease stays fresh via heartbeats;
	// on shutdown the wait aborts and the lease simply lapses.
	if p.limiter != nil {
		for !p.limiter.Acquire(j.Type) {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(p.pollInterval):
			}
		}
		defer p.limiter.Release(j.Type)
	}

	if err := p.executor.Execute(ctx, j, p.workerID); err != nil {
		p.logger.Debug("job execution failed",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("error", err.Error()),
		)
	}
}

// heartbeatLoop periodically renews leases for all active jobs.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	active := make([]activeJob, 0, len(p.activeJobs))
	for _, aj := range p.activeJobs {
		active = append(active, aj)
	}
	p.activeMu.Unlock()

	for _, aj := range active {
		// Renew with the per-type window so a definition's longer
		// lease is not shrunk back to the queue default.
		lease := p.queue.LeaseDurationFor(aj.jobType)
		err := p.queue.ExtendLease(context.Background(), aj.id, p.workerID, lease)
		if err == nil {
			continue
		}
		if errors.Is(err, jobq.ErrLeaseLost) || errors.Is(err, jobq.ErrJobNotFound) {
			// Another worker owns the job now. Stop our execution so
			// its side effects end as soon as possible.
			p.logger.Warn("lease lost, cancelling local execution",
				slog.String("job_id", aj.id.String()),
			)
			aj.cancel()
			continue
		}
		p.logger.Warn("heartbeat failed",
			slog.String("job_id", aj.id.String()),
			slog.String("error", err.Error()),
		)
	}
}

// requeueLoop periodically sweeps expired-lease jobs back to pending.
func (p *Pool) requeueLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.requeueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if _, err := p.queue.RequeueAbandoned(context.Background()); err != nil {
				p.logger.Error("requeue sweep error", slog.String("error", err.Error()))
			}
		}
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(j *job.Job, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[j.ID.String()] = activeJob{id: j.ID, jobType: j.Type, cancel: cancel}
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID id.JobID) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID.String())
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for _, aj := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", aj.id.String()))
		aj.cancel()
	}
}
