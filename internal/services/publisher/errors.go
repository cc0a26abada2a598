package publisher

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// StatusError is a non-2xx platform response.
type StatusError struct {
	StatusCode int
	Body       string
	Wait       time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// RetryAfter is the server-requested wait, zero when none was sent.
func (e *StatusError) RetryAfter() time.Duration {
	return e.Wait
}

// TransportError is a request that never produced a response. It keeps only
// the message of the underlying error so an HTTP client timeout is not
// mistaken for the caller's context expiring.
type TransportError struct {
	Message  string
	TimedOut bool
}

func newTransportError(err error) *TransportError {
	var netErr net.Error
	return &TransportError{
		Message:  err.Error(),
		TimedOut: errors.As(err, &netErr) && netErr.Timeout(),
	}
}

func (e *TransportError) Error() string {
	return e.Message
}
