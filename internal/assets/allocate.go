package assets

import (
	"time"

	"tollgate/internal/scenes"
)

// Pool holds candidate asset ids partitioned by the content services.
type Pool struct {
	Key    []string
	Filler []string
}

// Available returns the distinct ids per category in first-seen order.
func (p Pool) Available() (key, filler []string) {
	return distinct(p.Key), distinct(p.Filler)
}

// Assignment pairs one segment with one asset.
type Assignment struct {
	SegmentIndex int
	AssetID      string
	Category     Category
	Start        time.Duration
	Duration     time.Duration
}

// Timeline is the renderer's input.
type Timeline struct {
	Assignments []Assignment
	Requirement Requirement
	MinGap      int
}

// Duration is the timeline's total length.
func (t Timeline) Duration() time.Duration {
	if len(t.Assignments) == 0 {
		return 0
	}
	last := t.Assignments[len(t.Assignments)-1]
	return last.Start + last.Duration
}

// Check compares the pool with the requirement without assigning anything.
func Check(req Requirement, pool Pool) error {
	key, filler := pool.Available()
	if len(key) >= req.Key && len(filler) >= req.Filler {
		return nil
	}
	return &InsufficientError{
		KeyRequired:     req.Key,
		KeyAvailable:    len(key),
		FillerRequired:  req.Filler,
		FillerAvailable: len(filler),
	}
}

// Allocate assigns one asset per segment. Segments must be in index order.
// Each category is drawn round-robin from its own cursor; an asset used by
// any segment fewer than minGap indices earlier is skipped, whichever
// category it was used for.
func Allocate(segments []scenes.Segment, pool Pool, minGap int, sel KeySelection) (Timeline, error) {
	mask := sel.Mask(len(segments))
	req := Required(len(segments), sel)
	if err := Check(req, pool); err != nil {
		return Timeline{}, err
	}

	key, filler := pool.Available()
	draw := map[Category]*cursor{
		CategoryKey:    {ids: key},
		CategoryFiller: {ids: filler},
	}
	lastUsed := make(map[string]int, len(key)+len(filler))
	assignments := make([]Assignment, 0, len(segments))
	var start time.Duration

	for i, seg := range segments {
		category := CategoryFiller
		if mask[i] {
			category = CategoryKey
		}
		id, ok := draw[category].next(i, minGap, lastUsed)
		if !ok {
			return Timeline{}, &InsufficientError{
				KeyRequired:     req.Key,
				KeyAvailable:    len(key),
				FillerRequired:  req.Filler,
				FillerAvailable: len(filler),
				Category:        category,
				SegmentIndex:    i,
				MinGap:          minGap,
			}
		}
		lastUsed[id] = i
		assignments = append(assignments, Assignment{
			SegmentIndex: i,
			AssetID:      id,
			Category:     category,
			Start:        start,
			Duration:     seg.Duration,
		})
		start += seg.Duration
	}

	return Timeline{Assignments: assignments, Requirement: req, MinGap: minGap}, nil
}

type cursor struct {
	ids []string
	pos int
}

// next returns the first id at or after the cursor that is outside the reuse
// gap for position, advancing the cursor past it.
func (c *cursor) next(position, minGap int, lastUsed map[string]int) (string, bool) {
	for step := 0; step < len(c.ids); step++ {
		idx := (c.pos + step) % len(c.ids)
		id := c.ids[idx]
		if last, used := lastUsed[id]; used && position-last < minGap {
			continue
		}
		c.pos = (idx + 1) % len(c.ids)
		return id, true
	}
	return "", false
}

func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
