package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/backoff"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

// InsertJob persists a new pending job.
func (s *Store) InsertJob(ctx context.Context, j *job.Job) error {
	_, err := s.jobs().InsertOne(ctx, toJobModel(j))
	if err != nil {
		if isDuplicateKey(err) {
			return jobq.ErrJobAlreadyExists
		}
		return fmt.Errorf("jobq/mongo: insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.jobs().FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, jobq.ErrJobNotFound
		}
		return nil, fmt.Errorf("jobq/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// eligibilityFilter is the is_eligible predicate as a query document:
// pending and due, or running past lease expiry.
func eligibilityFilter(jobTypes []string, now time.Time) bson.M {
	filter := bson.M{
		"$or": []bson.M{
			{"status": string(job.StatusPending), "scheduled_at": bson.M{"$lte": now}},
			{"status": string(job.StatusRunning), "lease_expires_at": bson.M{"$lte": now}},
		},
	}
	if len(jobTypes) > 0 {
		filter["job_type"] = bson.M{"$in": jobTypes}
	}
	return filter
}

// ClaimJob atomically claims the oldest eligible job. Select-and-mutate
// is one FindOneAndUpdate: if it were two operations, two workers could
// both select the same document before either updated it.
func (s *Store) ClaimJob(ctx context.Context, jobTypes []string, workerID id.WorkerID, now time.Time, leaseDuration time.Duration) (*job.Job, error) {
	update := bson.M{
		"$set": bson.M{
			"status":           string(job.StatusRunning),
			"worker_id":        workerID.String(),
			"lease_expires_at": job.LeaseExpiry(now, leaseDuration),
			"updated_at":       now,
		},
		"$inc": bson.M{"attempts": 1},
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{{Key: "scheduled_at", Value: 1}})

	var m jobModel
	err := s.jobs().FindOneAndUpdate(ctx, eligibilityFilter(jobTypes, now), update, opts).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, jobq.ErrNoJobAvailable
		}
		return nil, fmt.Errorf("jobq/mongo: claim job: %w", err)
	}

	return fromJobModel(&m)
}

// ownedFilter matches the job only while workerID still holds its
// lease. Every lease-holder mutation goes through it so the ownership
// check and the write are one atomic operation.
func ownedFilter(jobID id.JobID, workerID id.WorkerID) bson.M {
	return bson.M{
		"_id":       jobID.String(),
		"status":    string(job.StatusRunning),
		"worker_id": workerID.String(),
	}
}

// RenewLease extends the lease on a running job held by workerID.
func (s *Store) RenewLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, now time.Time, leaseDuration time.Duration) error {
	update := bson.M{"$set": bson.M{
		"lease_expires_at": job.LeaseExpiry(now, leaseDuration),
		"updated_at":       now,
	}}

	res, err := s.jobs().UpdateOne(ctx, ownedFilter(jobID, workerID), update)
	if err != nil {
		return fmt.Errorf("jobq/mongo: renew lease: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.leaseLostOrNotFound(ctx, jobID)
	}
	return nil
}

// CompleteJob marks a running job held by workerID as done.
func (s *Store) CompleteJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, now time.Time) error {
	update := bson.M{
		"$set": bson.M{
			"status":       string(job.StatusDone),
			"completed_at": now,
			"updated_at":   now,
		},
		"$unset": bson.M{"lease_expires_at": ""},
	}

	res, err := s.jobs().UpdateOne(ctx, ownedFilter(jobID, workerID), update)
	if err != nil {
		return fmt.Errorf("jobq/mongo: complete job: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.leaseLostOrNotFound(ctx, jobID)
	}
	return nil
}

// FailJob records a failure on a running job held by workerID.
//
// The retry-or-dead-letter branch depends on the attempts counter, so
// the job is read first and the update filter pins attempts to the
// value the decision was made from. Attempts only changes at claim
// time, so a matched update proves the lease was held and the branch
// inputs were current throughout; if anything moved, the update
// matches zero documents and the caller learns the lease is gone.
func (s *Store) FailJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, errMsg string, now time.Time, bo backoff.Strategy) error {
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status != job.StatusRunning || !j.WorkerID.Equal(workerID) {
		return jobq.ErrLeaseLost
	}

	filter := ownedFilter(jobID, workerID)
	filter["attempts"] = j.Attempts

	set := bson.M{
		"last_error": errMsg,
		"updated_at": now,
	}
	if j.RetriesRemaining() {
		set["status"] = string(job.StatusPending)
		set["scheduled_at"] = job.RetryAt(now, bo, j.Attempts)
	} else {
		set["status"] = string(job.StatusFailed)
		set["completed_at"] = now
	}

	update := bson.M{
		"$set":   set,
		"$unset": bson.M{"lease_expires_at": "", "worker_id": ""},
	}

	res, err := s.jobs().UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("jobq/mongo: fail job: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.leaseLostOrNotFound(ctx, jobID)
	}
	return nil
}

// RequeueAbandoned resets running jobs with expired leases to pending.
// Maintenance only: ClaimJob already treats expired leases as eligible.
func (s *Store) RequeueAbandoned(ctx context.Context, now time.Time) (int64, error) {
	filter := bson.M{
		"status":           string(job.StatusRunning),
		"lease_expires_at": bson.M{"$lte": now},
	}
	update := bson.M{
		"$set":   bson.M{"status": string(job.StatusPending), "updated_at": now},
		"$unset": bson.M{"lease_expires_at": "", "worker_id": ""},
	}

	res, err := s.jobs().UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("jobq/mongo: requeue abandoned: %w", err)
	}
	return res.ModifiedCount, nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.jobs().DeleteOne(ctx, bson.M{"_id": jobID.String()})
	if err != nil {
		return fmt.Errorf("jobq/mongo: delete job: %w", err)
	}
	if res.DeletedCount == 0 {
		return jobq.ErrJobNotFound
	}
	return nil
}

// ListJobsByStatus returns jobs in the given status, oldest
// ScheduledAt first.
func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "scheduled_at", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.jobs().Find(ctx, bson.M{"status": string(status)}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("jobq/mongo: list jobs by status: %w", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("jobq/mongo: list jobs decode: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if opts.Type != "" {
		filter["job_type"] = opts.Type
	}

	count, err := s.jobs().CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("jobq/mongo: count jobs: %w", err)
	}
	return count, nil
}

// PurgeTerminal deletes done and failed jobs last updated at or before
// cutoff.
func (s *Store) PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	filter := bson.M{
		"status":     bson.M{"$in": []string{string(job.StatusDone), string(job.StatusFailed)}},
		"updated_at": bson.M{"$lte": cutoff},
	}

	res, err := s.jobs().DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("jobq/mongo: purge terminal: %w", err)
	}
	return res.DeletedCount, nil
}

// leaseLostOrNotFound disambiguates a zero-match conditional update.
// The read is diagnostic only; it never feeds a mutation decision.
func (s *Store) leaseLostOrNotFound(ctx context.Context, jobID id.JobID) error {
	err := s.jobs().FindOne(ctx, bson.M{"_id": jobID.String()}).Err()
	if err != nil {
		if isNoDocuments(err) {
			return jobq.ErrJobNotFound
		}
		return fmt.Errorf("jobq/mongo: inspect job %s: %w", jobID, err)
	}
	return jobq.ErrLeaseLost
}
