package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/backoff"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

// jobColumns is the canonical select list shared by every query that
// scans a full job row.
const jobColumns = `
	id, job_type, payload, status, attempts, max_retries, last_error,
	worker_id, scheduled_at, lease_expires_at, completed_at,
	created_at, updated_at`

// InsertJob persists a new pending job.
func (s *Store) InsertJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobq_jobs (
			id, job_type, payload, status, attempts, max_retries, last_error,
			worker_id, scheduled_at, lease_expires_at, completed_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13
		)`,
		j.ID.String(), j.Type, j.Payload, string(j.Status),
		j.Attempts, j.MaxRetries, j.LastError,
		nullableID(j.WorkerID), j.ScheduledAt, j.LeaseExpiresAt, j.CompletedAt,
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return jobq.ErrJobAlreadyExists
		}
		return fmt.Errorf("jobq/postgres: insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobq_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, jobq.ErrJobNotFound
		}
		return nil, fmt.Errorf("jobq/postgres: get job: %w", err)
	}
	return j, nil
}

// ClaimJob atomically claims the oldest eligible job. The inner SELECT
// uses FOR UPDATE SKIP LOCKED so concurrent claimants never race for
// the same row; select and mutate commit as one statement.
func (s *Store) ClaimJob(ctx context.Context, jobTypes []string, workerID id.WorkerID, now time.Time, leaseDuration time.Duration) (*job.Job, error) {
	// nil means any type; pgx sends a NULL array.
	var types []string
	if len(jobTypes) > 0 {
		types = jobTypes
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE jobq_jobs SET
			status = 'running',
			worker_id = $2,
			lease_expires_at = $3,
			attempts = attempts + 1,
			updated_at = $4
		WHERE id = (
			SELECT id FROM jobq_jobs
			WHERE ((status = 'pending' AND scheduled_at <= $4)
				OR (status = 'running' AND lease_expires_at <= $4))
			  AND ($1::text[] IS NULL OR job_type = ANY($1))
			ORDER BY scheduled_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		types, workerID.String(), job.LeaseExpiry(now, leaseDuration), now,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, jobq.ErrNoJobAvailable
		}
		return nil, fmt.Errorf("jobq/postgres: claim job: %w", err)
	}
	return j, nil
}

// RenewLease extends the lease on a running job held by workerID.
func (s *Store) RenewLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, now time.Time, leaseDuration time.Duration) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobq_jobs SET
			lease_expires_at = $3,
			updated_at = $4
		WHERE id = $1 AND status = 'running' AND worker_id = $2`,
		jobID.String(), workerID.String(), job.LeaseExpiry(now, leaseDuration), now,
	)
	if err != nil {
		return fmt.Errorf("jobq/postgres: renew lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.leaseLostOrNotFound(ctx, jobID)
	}
	return nil
}

// CompleteJob marks a running job held by workerID as done.
func (s *Store) CompleteJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobq_jobs SET
			status = 'done',
			lease_expires_at = NULL,
			completed_at = $3,
			updated_at = $3
		WHERE id = $1 AND status = 'running' AND worker_id = $2`,
		jobID.String(), workerID.String(), now,
	)
	if err != nil {
		return fmt.Errorf("jobq/postgres: complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.leaseLostOrNotFound(ctx, jobID)
	}
	return nil
}

// FailJob records a failure on a running job held by workerID. The
// retry-or-dead-letter branch is decided from a read of the attempts
// counter, and the update pins attempts to that value: only a claim
// changes attempts, so a matched update proves the decision inputs
// held throughout.
func (s *Store) FailJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, errMsg string, now time.Time, bo backoff.Strategy) error {
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status != job.StatusRunning || !j.WorkerID.Equal(workerID) {
		return jobq.ErrLeaseLost
	}

	var (
		status      = job.StatusFailed
		scheduledAt = j.ScheduledAt
		completedAt *time.Time
	)
	if j.RetriesRemaining() {
		status = job.StatusPending
		scheduledAt = job.RetryAt(now, bo, j.Attempts)
	} else {
		completedAt = &now
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobq_jobs SET
			status = $4,
			scheduled_at = $5,
			last_error = $6,
			completed_at = $7,
			worker_id = NULL,
			lease_expires_at = NULL,
			updated_at = $8
		WHERE id = $1 AND status = 'running' AND worker_id = $2 AND attempts = $3`,
		jobID.String(), workerID.String(), j.Attempts,
		string(status), scheduledAt, errMsg, completedAt, now,
	)
	if err != nil {
		return fmt.Errorf("jobq/postgres: fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.leaseLostOrNotFound(ctx, jobID)
	}
	return nil
}

// RequeueAbandoned resets running jobs with expired leases to pending.
func (s *Store) RequeueAbandoned(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobq_jobs SET
			status = 'pending',
			worker_id = NULL,
			lease_expires_at = NULL,
			updated_at = $1
		WHERE status = 'running' AND lease_expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("jobq/postgres: requeue abandoned: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobq_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("jobq/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobq.ErrJobNotFound
	}
	return nil
}

// ListJobsByStatus returns jobs in the given status, oldest
// ScheduledAt first.
func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobq_jobs WHERE status = $1 ORDER BY scheduled_at ASC, id ASC`
	args := []any{string(status)}

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobq/postgres: list jobs by status: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM jobq_jobs
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR job_type = $2)`,
		string(opts.Status), opts.Type,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("jobq/postgres: count jobs: %w", err)
	}
	return count, nil
}

// PurgeTerminal deletes done and failed jobs last updated at or before
// cutoff.
func (s *Store) PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM jobq_jobs
		WHERE status IN ('done', 'failed') AND updated_at <= $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("jobq/postgres: purge terminal: %w", err)
	}
	return tag.RowsAffected(), nil
}

// leaseLostOrNotFound disambiguates a zero-row conditional update.
// The read is diagnostic only; it never feeds a mutation decision.
func (s *Store) leaseLostOrNotFound(ctx context.Context, jobID id.JobID) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM jobq_jobs WHERE id = $1)`,
		jobID.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("jobq/postgres: inspect job %s: %w", jobID, err)
	}
	if !exists {
		return jobq.ErrJobNotFound
	}
	return jobq.ErrLeaseLost
}

// ── row scanning ─────────────────────────────────────────────────

// scanJob scans a single job row in jobColumns order.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j        job.Job
		idStr    string
		status   string
		workerID *string
	)

	err := row.Scan(
		&idStr, &j.Type, &j.Payload, &status, &j.Attempts, &j.MaxRetries,
		&j.LastError, &workerID, &j.ScheduledAt, &j.LeaseExpiresAt,
		&j.CompletedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseJobID(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", idStr, err)
	}
	j.ID = parsedID
	j.Status = job.Status(status)

	if workerID != nil && *workerID != "" {
		parsedWorker, wErr := id.ParseWorkerID(*workerID)
		if wErr != nil {
			return nil, fmt.Errorf("parse worker id %q: %w", *workerID, wErr)
		}
		j.WorkerID = parsedWorker
	}

	return &j, nil
}

// collectJobs drains rows into a slice of jobs.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jobq/postgres: scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobq/postgres: iterate jobs: %w", err)
	}
	return jobs, nil
}

// nullableID maps the Nil ID to SQL NULL.
func nullableID(v id.ID) *string {
	if v.IsNil() {
		return nil
	}
	s := v.String()
	return &s
}
