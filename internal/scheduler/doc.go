// Package scheduler drives the renewal reminder loop.
//
// # Overview
//
// A cron-backed driver fires Tick on a fixed interval (default hourly).
// Each tick takes a point-in-time snapshot of the registry, evaluates every
// active reminder against the current clock, consults the dedup policy
// against the attempt log, and calls the Notifier for reminders that are due
// and not suppressed. Every Notifier call is recorded as a sent or failed
// log entry.
//
// # Failure isolation
//
// Per-reminder processing is wrapped so one failing reminder (panic,
// Notifier timeout, malformed data) never aborts the rest of the batch.
// Failed sends are recorded and become eligible for retry on the next tick
// that re-evaluates the same day or window.
//
// # Retention
//
// A lower-frequency sweep (default daily) prunes log entries older than the
// configured retention period, default 60 days.
//
// # Lifecycle
//
// The Service can be started/stopped at runtime (e.g. via config hot
// reload). Tick and Sweep are exported and take an explicit clock reading,
// so tests drive them directly with fixed times.
package scheduler
