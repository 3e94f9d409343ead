package job

import "time"

// Options configures per-definition behavior such as retries and lease
// duration.
type Options struct {
	// MaxRetries is the ceiling on retry attempts before dead-lettering.
	MaxRetries int

	// LeaseDuration is the claim exclusivity window for jobs of this
	// type. Zero means the queue-wide default.
	LeaseDuration time.Duration

	// Delay postpones eligibility after scheduling. Zero means
	// immediately claimable.
	Delay time.Duration
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 3,
	}
}

// Option is a functional option for configuring a job definition.
type Option func(*Options)

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithLeaseDuration sets the claim exclusivity window for the job type.
func WithLeaseDuration(d time.Duration) Option {
	return func(o *Options) {
		o.LeaseDuration = d
	}
}

// WithDelay postpones eligibility after scheduling.
func WithDelay(d time.Duration) Option {
	return func(o *Options) {
		o.Delay = d
	}
}
