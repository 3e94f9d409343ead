// Package jobq provides a durable, lease-based job queue backed by a
// document store. Producers schedule typed work items with an optional
// delay; pools of workers claim, execute, retry, and complete them
// without double-processing, even across worker crashes and independent
// processes.
//
// The correctness of the queue rests on a single store capability: an
// atomic conditional find-and-update on one document. Every mutation
// that assumes "I currently hold this job" carries that assumption as a
// condition inside the same atomic operation, so no in-process lock or
// external lock service is ever involved. A worker that dies simply
// stops heartbeating; its job becomes claimable again once the lease
// expires.
//
// # Quick Start
//
//	st := mongo.New(db)
//	q, err := queue.New(st, queue.WithLeaseDuration(30*time.Second))
//	if err != nil {
//		return err
//	}
//
//	jobID, err := q.Schedule(ctx, "email:welcome", payload)
//
// Workers poll through the same facade:
//
//	j, err := q.Claim(ctx, []string{"email:welcome"}, workerID)
//
// The queue guarantees at-least-once execution with mutual exclusion of
// live leases, not exactly-once semantics.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package jobq
