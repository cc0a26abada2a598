// Package notifications pushes governance alerts to ntfy.
//
// Alerts cover the moments an operator has to act on: the publishing circuit
// opening or closing, the daily quota running out, a pre-flight shortfall,
// and failed maintenance passes. Each family can be switched off in the
// [notifications] config section, and repeats of the same alert inside the
// dedup window are dropped. Without a topic the service is a no-op.
package notifications
