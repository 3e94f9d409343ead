// Package worker provides the job execution engine — an Executor that
// invokes registered handlers through middleware, and a Pool that
// manages concurrent worker goroutines claiming and executing jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
	"github.com/xraph/jobq/middleware"
	"github.com/xraph/jobq/queue"
)

// Executor runs a single claimed job through middleware and the
// registered handler, then reports the outcome through the queue's
// complete/fail protocol.
type Executor struct {
	registry *job.Registry
	queue    *queue.Queue
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor. Recover middleware is always the
// outermost wrapper so a panicking handler records a failure instead of
// killing the worker goroutine.
func NewExecutor(
	registry *job.Registry,
	q *queue.Queue,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	chain := append([]middleware.Middleware{middleware.Recover(logger)}, mws...)
	return &Executor{
		registry: registry,
		queue:    q,
		mw:       middleware.Chain(chain...),
		logger:   logger,
	}
}

// Execute runs a job claimed by workerID through the middleware chain
// and handler.
// On success: completes the job.
// On failure (handler error, panic, or missing handler): fails the job,
// which requeues it with backoff or dead-letters it.
// Losing the lease mid-flight is not an executor error: the outcome
// write is rejected by the store and the job runs elsewhere.
func (e *Executor) Execute(ctx context.Context, j *job.Job, workerID id.WorkerID) error {
	handler, ok := e.registry.Get(j.Type)
	if !ok {
		// Still a failure against the job: retries give a deploy with
		// the handler registered a chance to pick it up.
		return e.fail(ctx, j, workerID, fmt.Errorf("no handler registered for job type %q", j.Type))
	}

	// Definitions may declare a lease window longer than the claim's
	// default; stretch the lease before the handler starts so slow job
	// types are not reclaimed mid-run.
	if d := e.queue.LeaseDurationFor(j.Type); d != e.queue.LeaseDuration() {
		if err := e.queue.ExtendLease(ctx, j.ID, workerID, d); err != nil {
			if errors.Is(err, jobq.ErrLeaseLost) {
				e.logger.Warn("lease lost before execution, job will run elsewhere",
					slog.String("job_id", j.ID.String()),
					slog.String("job_type", j.Type),
				)
				return nil
			}
			return err
		}
	}

	terminal := func(ctx context.Context) error {
		return handler(ctx, j.Payload)
	}

	if err := e.mw(ctx, j, terminal); err != nil {
		return e.fail(ctx, j, workerID, err)
	}

	if err := e.queue.Complete(ctx, j.ID, workerID); err != nil {
		if errors.Is(err, jobq.ErrLeaseLost) {
			e.logger.Warn("lease lost before completion, job will run elsewhere",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", j.Type),
			)
			return nil
		}
		e.logger.Error("failed to complete job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

func (e *Executor) fail(ctx context.Context, j *job.Job, workerID id.WorkerID, handlerErr error) error {
	if err := e.queue.Fail(ctx, j.ID, workerID, handlerErr.Error()); err != nil {
		if errors.Is(err, jobq.ErrLeaseLost) {
			e.logger.Warn("lease lost before failure could be recorded",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", j.Type),
			)
			return nil
		}
		e.logger.Error("failed to record job failure",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.logger.Debug("job execution failed",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("attempt", j.Attempts),
		slog.Int("max_retries", j.MaxRetries),
		slog.String("error", handlerErr.Error()),
	)
	return handlerErr
}
