package job

import (
	"testing"
	"time"

	"github.com/xraph/jobq/backoff"
)

var leaseEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestLeaseExpiry(t *testing.T) {
	got := LeaseExpiry(leaseEpoch, 30*time.Second)
	want := leaseEpoch.Add(30 * time.Second)
	if !got.Equal(want) {
		t.Fatalf("LeaseExpiry = %v, want %v", got, want)
	}
}

func TestEligible_Pending(t *testing.T) {
	j := &Job{Status: StatusPending, ScheduledAt: leaseEpoch}

	if !Eligible(j, leaseEpoch) {
		t.Fatal("pending job due exactly now must be eligible")
	}
	if !Eligible(j, leaseEpoch.Add(time.Hour)) {
		t.Fatal("pending job past due must be eligible")
	}
	if Eligible(j, leaseEpoch.Add(-time.Second)) {
		t.Fatal("pending job before its scheduled time must not be eligible")
	}
}

func TestEligible_RunningLease(t *testing.T) {
	expires := leaseEpoch.Add(30 * time.Second)
	j := &Job{Status: StatusRunning, ScheduledAt: leaseEpoch, LeaseExpiresAt: &expires}

	if Eligible(j, leaseEpoch.Add(29*time.Second)) {
		t.Fatal("running job with a live lease must not be eligible")
	}
	if !Eligible(j, expires) {
		t.Fatal("running job is eligible exactly at lease expiry")
	}
	if !Eligible(j, expires.Add(time.Minute)) {
		t.Fatal("running job with an expired lease must be eligible")
	}
}

func TestEligible_RunningWithoutLeaseTimestamp(t *testing.T) {
	// A running job must carry a lease; a missing timestamp never makes
	// it claimable.
	j := &Job{Status: StatusRunning, ScheduledAt: leaseEpoch}
	if Eligible(j, leaseEpoch.Add(time.Hour)) {
		t.Fatal("running job without a lease timestamp must not be eligible")
	}
}

func TestEligible_TerminalNever(t *testing.T) {
	for _, status := range []Status{StatusDone, StatusFailed} {
		j := &Job{Status: status, ScheduledAt: leaseEpoch}
		if Eligible(j, leaseEpoch.Add(time.Hour)) {
			t.Fatalf("%s job must never be eligible", status)
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	cases := map[Status]bool{
		StatusPending: false,
		StatusRunning: false,
		StatusDone:    true,
		StatusFailed:  true,
	}
	for status, want := range cases {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestRetriesRemaining(t *testing.T) {
	j := &Job{MaxRetries: 1}

	j.Attempts = 1
	if !j.RetriesRemaining() {
		t.Fatal("first failure with max_retries=1 must leave a retry")
	}

	j.Attempts = 2
	if j.RetriesRemaining() {
		t.Fatal("second failure with max_retries=1 must dead-letter")
	}
}

func TestRetryAt_UsesBackoff(t *testing.T) {
	bo := backoff.NewConstant(10 * time.Second)
	got := RetryAt(leaseEpoch, bo, 3)
	want := leaseEpoch.Add(10 * time.Second)
	if !got.Equal(want) {
		t.Fatalf("RetryAt = %v, want %v", got, want)
	}
}
