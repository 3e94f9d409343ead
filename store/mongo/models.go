package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

// jobModel is the persisted document shape. Timestamps are stored as
// BSON datetimes (millisecond precision); lease_expires_at and
// completed_at are absent rather than zero when unset.
type jobModel struct {
	ID             string     `bson:"_id"`
	Type           string     `bson:"job_type"`
	Payload        []byte     `bson:"payload"`
	Status         string     `bson:"status"`
	Attempts       int        `bson:"attempts"`
	MaxRetries     int        `bson:"max_retries"`
	LastError      string     `bson:"last_error,omitempty"`
	WorkerID       string     `bson:"worker_id,omitempty"`
	ScheduledAt    time.Time  `bson:"scheduled_at"`
	LeaseExpiresAt *time.Time `bson:"lease_expires_at,omitempty"`
	CompletedAt    *time.Time `bson:"completed_at,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:             j.ID.String(),
		Type:           j.Type,
		Payload:        j.Payload,
		Status:         string(j.Status),
		Attempts:       j.Attempts,
		MaxRetries:     j.MaxRetries,
		LastError:      j.LastError,
		WorkerID:       j.WorkerID.String(),
		ScheduledAt:    j.ScheduledAt,
		LeaseExpiresAt: j.LeaseExpiresAt,
		CompletedAt:    j.CompletedAt,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("jobq/mongo: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		Entity: jobq.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             parsedID,
		Type:           m.Type,
		Payload:        m.Payload,
		Status:         job.Status(m.Status),
		Attempts:       m.Attempts,
		MaxRetries:     m.MaxRetries,
		LastError:      m.LastError,
		ScheduledAt:    m.ScheduledAt,
		LeaseExpiresAt: m.LeaseExpiresAt,
		CompletedAt:    m.CompletedAt,
	}

	if m.WorkerID != "" {
		parsedWorker, wErr := id.ParseWorkerID(m.WorkerID)
		if wErr != nil {
			return nil, fmt.Errorf("jobq/mongo: parse worker id %q: %w", m.WorkerID, wErr)
		}
		j.WorkerID = parsedWorker
	}

	return j, nil
}
