package assets

import (
	"errors"
	"fmt"
)

// ErrInsufficient marks a pool that cannot cover a timeline.
var ErrInsufficient = errors.New("insufficient assets")

// InsufficientError carries the shortfall. When the aggregate check passes
// but assignment stalls on the reuse gap, Category and SegmentIndex locate
// the segment that could not be served.
type InsufficientError struct {
	KeyRequired     int
	KeyAvailable    int
	FillerRequired  int
	FillerAvailable int
	Category        Category
	SegmentIndex    int
	MinGap          int
}

// Required is the total number of unique assets needed.
func (e *InsufficientError) Required() int {
	return e.KeyRequired + e.FillerRequired
}

// Available is the total pool size.
func (e *InsufficientError) Available() int {
	return e.KeyAvailable + e.FillerAvailable
}

// Shortfall is how many more assets the pool needs, at least one.
func (e *InsufficientError) Shortfall() int {
	short := max(e.KeyRequired-e.KeyAvailable, 0) + max(e.FillerRequired-e.FillerAvailable, 0)
	if short == 0 {
		return 1
	}
	return short
}

func (e *InsufficientError) Error() string {
	msg := fmt.Sprintf("insufficient assets: required %d, available %d (key %d/%d, filler %d/%d)",
		e.Required(), e.Available(), e.KeyRequired, e.KeyAvailable, e.FillerRequired, e.FillerAvailable)
	if e.Category != "" {
		msg += fmt.Sprintf("; no %s asset free of the %d-segment reuse gap at segment %d", e.Category, e.MinGap, e.SegmentIndex)
	}
	return msg
}

// Is matches ErrInsufficient.
func (e *InsufficientError) Is(target error) bool {
	return target == ErrInsufficient
}
