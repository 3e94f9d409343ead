// Package job defines the unit of work managed by jobq: the Job entity
// and its status machine, the pure lease/eligibility policy, the Store
// contract every backend implements, and the typed handler registry
// used by worker pools to dispatch claimed payloads.
//
// The status machine per job:
//
//	Pending --claim--> Running --complete--> Done
//	Running --heartbeat--> Running
//	Running --lease expires--> (eligible again, reclaimed as Running)
//	Running --fail, attempts <= max retries--> Pending (after backoff)
//	Running --fail, attempts > max retries--> Failed (terminal)
//
// Done and Failed are terminal; jobs there are immutable and never
// reclaimed.
package job
