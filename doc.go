// Package cset defines the shared types and helpers used across the CSET codebase:
// error codes, logging setup, retry/sleep utilities, UUIDs, and the bounded task
// runner. CSET is an embedded, in-memory, ordered transactional set. The ordered
// index and the transactional store live in the ordset subpackage, the fixed-width
// sharded facade in partitioned, and a typed key/value convenience layer in inmemory.
// It is a foundational package that other components build upon.
package cset

// Blocking model
//
// CSET operations block only on partition lock acquisition (partitioned package) and
// never on I/O. Operations that span all partitions acquire locks through try-lock
// loops that give up after a configurable number of passes and surface ErrorCode
// WouldBlock, so a caller can retry with backoff (see Retry) or fail fast.
// Single-key operations (and opening a partitioned transaction) take partition locks
// with plain blocking Lock or RLock calls, which have no pass budget. Callbacks supplied to read operations
// run synchronously while a partition lock is held; they must not re-enter the store.
