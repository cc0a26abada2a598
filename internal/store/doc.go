// Package store persists governance state in SQLite.
//
// Two tables back the subsystem: quota_records, an append-only ledger of
// consumed quota units per channel, and breaker_state, one row per guarded
// resource holding the circuit breaker's last persisted state. Budgets are
// never stored; they are derived by summing records inside the active reset
// window.
//
// Schema changes bump schemaVersion in schema.go. Unlike a work queue the
// ledger is long-lived, so a mismatch is reported instead of silently
// recreating tables.
package store
