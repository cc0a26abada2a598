package scenes

import (
	"fmt"
	"time"

	"tollgate/internal/services"
)

// Segment is one narration span that receives a single visual.
type Segment struct {
	Index       int
	Duration    time.Duration
	ContentRef  string
	SourceIndex int
}

// Optimize splits every segment longer than maxHold into equal consecutive
// parts and renumbers the output. Segments at or under maxHold pass through.
// The input slice is not modified.
func Optimize(segments []Segment, maxHold time.Duration) ([]Segment, error) {
	if maxHold <= 0 {
		return nil, services.Wrap(services.ErrValidation, "scenes", "optimize",
			fmt.Sprintf("max hold must be positive, got %s", maxHold), nil)
	}
	out := make([]Segment, 0, len(segments))
	for _, seg := range segments {
		if seg.Duration < 0 {
			return nil, services.Wrap(services.ErrValidation, "scenes", "optimize",
				fmt.Sprintf("segment %d has negative duration %s", seg.Index, seg.Duration), nil)
		}
		for _, part := range Split(seg.Duration, maxHold) {
			out = append(out, Segment{
				Index:       len(out),
				Duration:    part,
				ContentRef:  seg.ContentRef,
				SourceIndex: seg.Index,
			})
		}
	}
	return out, nil
}

// Split returns the part durations for a single segment.
func Split(d, maxHold time.Duration) []time.Duration {
	if maxHold <= 0 || d <= maxHold {
		return []time.Duration{d}
	}
	count := PartCount(d, maxHold)
	base := d / time.Duration(count)
	extra := int(d % time.Duration(count))
	parts := make([]time.Duration, count)
	for i := range parts {
		parts[i] = base
		if i < extra {
			parts[i]++
		}
	}
	return parts
}

// PartCount is ceil(d/maxHold), or 1 when d fits.
func PartCount(d, maxHold time.Duration) int {
	if maxHold <= 0 || d <= maxHold {
		return 1
	}
	return int((d + maxHold - 1) / maxHold)
}

// Total sums segment durations.
func Total(segments []Segment) time.Duration {
	var total time.Duration
	for _, seg := range segments {
		total += seg.Duration
	}
	return total
}

// FromDurations builds sequentially indexed segments.
func FromDurations(durations ...time.Duration) []Segment {
	segments := make([]Segment, len(durations))
	for i, d := range durations {
		segments[i] = Segment{Index: i, Duration: d, SourceIndex: i}
	}
	return segments
}
