package middleware

import (
	"context"
	"time"

	"github.com/xraph/jobq/job"
)

// Timeout returns middleware that enforces a per-job execution deadline.
// When the deadline is exceeded the job context is cancelled and the
// handler should return context.DeadlineExceeded. A worker holding a
// lease should set d below the lease duration so the handler gives up
// before the job becomes claimable elsewhere.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
