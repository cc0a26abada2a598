// Package retry runs governed operations under a bounded exponential backoff.
//
// Only errors marked services.ErrTransient are retried. Permanent failures,
// open circuits and quota deferrals return immediately. Sleeps honour context
// cancellation and an aborted wait is reported as services.ErrCancelled.
package retry
