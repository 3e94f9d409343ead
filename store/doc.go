// Package store and its subpackages provide jobq persistence backends.
//
// Three implementations ship with the module:
//
//   - store/mongo: the primary backend, a MongoDB document store using
//     FindOneAndUpdate as the atomic claim primitive.
//   - store/postgres: the same contract on PostgreSQL, claiming with
//     FOR UPDATE SKIP LOCKED.
//   - store/memory: an in-process store for tests and development.
//
// Backends differ only in how they express the single-document atomic
// conditional update; the protocol semantics are identical.
package store
