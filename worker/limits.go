package worker

import (
	"sync"

	"golang.org/x/time/rate"
)

// LimitConfig defines per-job-type throttling.
type LimitConfig struct {
	// Type is the job type name this limit applies to.
	Type string

	// MaxConcurrency limits how many jobs of this type may run
	// simultaneously in the local pool. Zero means no type-specific
	// limit (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained jobs per second of this type
	// that may start executing. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// typeState tracks runtime state for a single job type.
type typeState struct {
	config  LimitConfig
	limiter *rate.Limiter
	active  int
}

// Limiter controls per-job-type rate limiting and concurrency.
// It is safe for concurrent use.
type Limiter struct {
	mu    sync.Mutex
	types map[string]*typeState
}

// NewLimiter creates a Limiter with the given type configurations.
// Types not listed here have no limits.
func NewLimiter(configs ...LimitConfig) *Limiter {
	l := &Limiter{
		types: make(map[string]*typeState, len(configs)),
	}
	for _, cfg := range configs {
		l.types[cfg.Type] = newTypeState(cfg)
	}
	return l
}

func newTypeState(cfg LimitConfig) *typeState {
	ts := &typeState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ts
}

// Acquire checks rate and concurrency limits for the given job type.
// If execution may proceed it increments the active counter and returns
// true. The caller MUST call Release when the job finishes.
//
// The concurrency cap is checked before the rate limiter: a caller
// rejected on concurrency retries Acquire until a slot frees, and those
// retries must not drain the type's rate budget.
func (l *Limiter) Acquire(jobType string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.types[jobType]
	if ts != nil {
		if ts.config.MaxConcurrency > 0 && ts.active >= ts.config.MaxConcurrency {
			return false
		}
		if ts.limiter != nil && !ts.limiter.Allow() {
			return false
		}
		ts.active++
	}
	return true
}

// Release decrements the active count for the job type.
func (l *Limiter) Release(jobType string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ts := l.types[jobType]; ts != nil && ts.active > 0 {
		ts.active--
	}
}

// SetConfig dynamically updates (or creates) a type configuration.
func (l *Limiter) SetConfig(cfg LimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing := l.types[cfg.Type]
	ts := newTypeState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		ts.active = existing.active
	}
	l.types[cfg.Type] = ts
}

// ActiveCount returns the current number of active jobs for a type.
func (l *Limiter) ActiveCount(jobType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ts := l.types[jobType]; ts != nil {
		return ts.active
	}
	return 0
}
