package job

import (
	"time"

	"github.com/xraph/jobq/backoff"
)

// Lease policy: pure, deterministic functions of their inputs. Stores
// evaluate these predicates fresh at claim time, so lease expiry is an
// implicit transition that needs no background sweeper to be correct.

// LeaseExpiry returns the instant a lease taken at now runs out.
func LeaseExpiry(now time.Time, leaseDuration time.Duration) time.Time {
	return now.Add(leaseDuration)
}

// Eligible reports whether j may be claimed at now: either it is
// pending and due, or it is running on a lease that has expired (an
// abandoned lease is re-eligible work).
func Eligible(j *Job, now time.Time) bool {
	switch j.Status {
	case StatusPending:
		return !j.ScheduledAt.After(now)
	case StatusRunning:
		return j.LeaseExpiresAt != nil && !j.LeaseExpiresAt.After(now)
	default:
		return false
	}
}

// RetryAt returns when a job that just failed its given attempt becomes
// claimable again.
func RetryAt(now time.Time, bo backoff.Strategy, attempt int) time.Time {
	return now.Add(bo.Delay(attempt))
}
