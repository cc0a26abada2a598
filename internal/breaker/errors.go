package breaker

import (
	"errors"
	"fmt"
	"time"
)

// ErrOpen marks a call rejected without invoking the guarded operation.
var ErrOpen = errors.New("circuit open")

// OpenError reports which resource rejected the call and when it may retry.
type OpenError struct {
	Resource string
	State    State
	Failures int
	RetryAt  time.Time
}

func (e *OpenError) Error() string {
	if e.State == HalfOpen {
		return fmt.Sprintf("circuit open: %s is half-open with a probe in flight", e.Resource)
	}
	return fmt.Sprintf("circuit open: %s after %d consecutive failures (probe allowed at %s)",
		e.Resource, e.Failures, e.RetryAt.Format(time.RFC3339))
}

// Is matches ErrOpen.
func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// Backoff reports that callers should back off without spending retries.
func (e *OpenError) Backoff() bool { return true }
