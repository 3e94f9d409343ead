package jobq

import "errors"

var (
	// Not found errors.
	ErrJobNotFound = errors.New("jobq: job not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("jobq: job already exists")

	// ErrLeaseLost means a heartbeat, complete, or fail call found the
	// job no longer running under the caller's lease. The worker must
	// abandon the job immediately: another worker owns it now, or it has
	// already been resolved.
	ErrLeaseLost = errors.New("jobq: lease lost")

	// ErrNoJobAvailable is the expected outcome of a claim that found
	// nothing eligible. It is not a failure; callers poll again later.
	ErrNoJobAvailable = errors.New("jobq: no job available")

	// ErrNoStore means a component was constructed without a store.
	ErrNoStore = errors.New("jobq: no store configured")
)
