package jobq

import "time"

// Config holds shared configuration for queues and worker pools.
type Config struct {
	// LeaseDuration is how long a claim remains exclusive without a
	// heartbeat. Too short causes spurious reclaims of still-working
	// jobs; too long delays recovery from real crashes.
	LeaseDuration time.Duration

	// MaxRetries is the default ceiling on claim attempts before a job
	// is dead-lettered. Individual jobs may override it at schedule time.
	MaxRetries int

	// Concurrency is the number of goroutines a worker pool runs.
	Concurrency int

	// PollInterval is how often idle workers poll for eligible jobs.
	PollInterval time.Duration

	// HeartbeatInterval is how often a pool renews leases for the jobs
	// it is executing. It should be well under LeaseDuration.
	HeartbeatInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LeaseDuration:     30 * time.Second,
		MaxRetries:        3,
		Concurrency:       10,
		PollInterval:      1 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
	}
}
