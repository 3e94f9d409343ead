package jobq

import "time"

// Entity carries the timestamps common to all persisted records.
// Stores set CreatedAt once at insertion and bump UpdatedAt on every
// mutation.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
