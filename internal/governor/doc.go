// Package governor composes quota, circuit breaker and retry into the single
// object a pipeline uses to call the publishing API for one channel.
//
// Every call is nested retry → breaker → quota → publish:
//
//   - The retry governor re-runs an attempt only for transient failures.
//   - The breaker rejects the attempt outright while the API is unhealthy,
//     so an open circuit never spends quota.
//   - The ledger charges the attempt's cost before the request is sent, and
//     a QuotaExceeded rejection sends nothing.
//   - If the run is cancelled after the charge, the charge is refunded so the
//     aborted attempt leaves no net quota mutation.
//
// Open takes a per-channel file lock; a second governor for the same channel
// in another process is refused. Read-only inspection can skip the lock with
// WithoutLock.
package governor
