// Package services defines shared utilities consumed by the governance
// components and the publishing adapters.
//
// Key responsibilities:
//   - Context helpers that stamp channel names, operation kinds, run
//     correlation IDs, and retry attempts for logging.
//   - Structured error markers plus the Wrap helper that classify failures as
//     transient, permanent, or cancelled so the retry governor and circuit
//     breaker agree on what counts as a resource failure.
//   - Disposition, which tells pipeline callers whether to defer, back off,
//     retry, fail, or abort.
//
// Use these helpers when wiring new publishing adapters so operational
// behaviour (error handling, observability, retries) stays uniform.
package services
