package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTransient     = errors.New("transient failure")
	ErrPermanent     = errors.New("permanent failure")
	ErrCancelled     = errors.New("cancelled")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsCancelled reports whether err stems from an aborted run rather than a
// failure of the guarded resource.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsRetryable reports whether err is a transient failure worth another attempt.
// Permanent failures win when an error carries both markers.
func IsRetryable(err error) bool {
	if err == nil || IsCancelled(err) || errors.Is(err, ErrPermanent) {
		return false
	}
	return errors.Is(err, ErrTransient)
}

// Action tells a pipeline caller what to do with a governance failure.
type Action string

const (
	ActionNone    Action = "none"
	ActionDefer   Action = "defer"
	ActionBackoff Action = "backoff"
	ActionRetry   Action = "retry"
	ActionFail    Action = "fail"
	ActionAbort   Action = "abort"
)

// Deferrer is implemented by soft failures the caller should postpone
// (quota exhausted until the next reset).
type Deferrer interface {
	Defer() bool
}

// Backoffer is implemented by soft failures the caller should back off from
// without spending retry budget (open circuit).
type Backoffer interface {
	Backoff() bool
}

// Disposition maps an error to the caller-facing action.
func Disposition(err error) Action {
	if err == nil {
		return ActionNone
	}
	if IsCancelled(err) {
		return ActionAbort
	}
	var deferrer Deferrer
	if errors.As(err, &deferrer) && deferrer.Defer() {
		return ActionDefer
	}
	var backoffer Backoffer
	if errors.As(err, &backoffer) && backoffer.Backoff() {
		return ActionBackoff
	}
	if IsRetryable(err) {
		return ActionRetry
	}
	return ActionFail
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
