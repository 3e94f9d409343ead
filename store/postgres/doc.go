// Package postgres provides the PostgreSQL jobq store.
//
// The claim primitive is a single UPDATE whose target row comes from a
// FOR UPDATE SKIP LOCKED subquery: concurrent claimants skip rows
// already locked by another transaction instead of blocking on them,
// so each eligible job goes to exactly one caller. All lease-holder
// mutations are single conditional UPDATEs carrying the ownership
// predicate in their WHERE clause.
package postgres
