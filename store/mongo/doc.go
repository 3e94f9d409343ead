// Package mongo provides the MongoDB jobq store.
//
// MongoDB's FindOneAndUpdate is the atomic find-and-modify primitive
// the claim protocol is built on: selecting the oldest eligible job and
// marking it running happen in one server-side document operation, so
// two workers can never claim the same job. Every lease-holder
// mutation (renew, complete, fail) is likewise a single conditional
// update whose filter carries the caller's ownership assumption.
//
// Migrate creates the compound indexes (status, scheduled_at) and
// (status, lease_expires_at) that back the eligibility predicate.
package mongo
