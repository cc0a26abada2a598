package quota

import (
	"errors"
	"fmt"
	"time"
)

// ErrExceeded marks a consume call rejected because the daily cap would be
// crossed. Callers should defer the operation to the next window.
var ErrExceeded = errors.New("quota exceeded")

// ExceededError carries the budget snapshot at rejection time.
type ExceededError struct {
	Channel   string
	Operation string
	Cost      int64
	Used      int64
	Cap       int64
	ResetAt   time.Time
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %s costs %d units, %d of %d used on channel %s (resets %s)",
		e.Operation, e.Cost, e.Used, e.Cap, e.Channel, e.ResetAt.Format(time.RFC3339))
}

// Is matches ErrExceeded.
func (e *ExceededError) Is(target error) bool {
	return target == ErrExceeded
}

// Defer reports that the operation should be postponed, not failed.
func (e *ExceededError) Defer() bool { return true }

// Remaining returns the units still available in the window.
func (e *ExceededError) Remaining() int64 {
	if left := e.Cap - e.Used; left > 0 {
		return left
	}
	return 0
}
