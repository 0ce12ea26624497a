// Package policy defines execution policy snapshots and the shared
// runtime that enforces them: bounded concurrency, per-host rate
// limiting, per-host circuit breaking, and retry backoff computation.
//
// A Snapshot is resolved once per run and never mutated afterwards; it
// is serialized verbatim onto the run's report for audit. The Runtime
// built from a snapshot shares its semaphore, rate limiters, and
// circuit breakers with every other run using the same policy key, so
// concurrency and failure budgets hold across simultaneous runs within
// one process.
package policy
