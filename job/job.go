package job

import (
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/id"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job is waiting to be claimed by a worker.
	StatusPending Status = "pending"
	// StatusRunning means a worker holds a lease on the job.
	StatusRunning Status = "running"
	// StatusDone means the job finished successfully.
	StatusDone Status = "done"
	// StatusFailed means the job exhausted its retries and is
	// dead-lettered.
	StatusFailed Status = "failed"
)

// Terminal reports whether a job in this status is immutable and can
// never be claimed again.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Job is the unit of schedulable, retryable work.
//
// Type, Payload, MaxRetries, and CreatedAt are immutable once
// scheduled. Attempts only ever increases, and it does so exclusively
// at claim time. LeaseExpiresAt is meaningful only while the job is
// running; a running job whose lease has passed is treated as
// abandoned and becomes claimable again.
type Job struct {
	jobq.Entity

	ID             id.JobID    `json:"id"`
	Type           string      `json:"job_type"`
	Payload        []byte      `json:"payload"`
	Status         Status      `json:"status"`
	Attempts       int         `json:"attempts"`
	MaxRetries     int         `json:"max_retries"`
	LastError      string      `json:"last_error,omitempty"`
	WorkerID       id.WorkerID `json:"worker_id,omitempty"`
	ScheduledAt    time.Time   `json:"scheduled_at"`
	LeaseExpiresAt *time.Time  `json:"lease_expires_at,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

// RetriesRemaining reports whether a failure now would requeue the job
// rather than dead-letter it. A job runs at most MaxRetries+1 times:
// the initial execution plus MaxRetries retries.
func (j *Job) RetriesRemaining() bool {
	return j.Attempts <= j.MaxRetries
}
