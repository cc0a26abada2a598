package assets

import (
	"math"

	"tollgate/internal/config"
)

// Category partitions segments and assets.
type Category string

const (
	CategoryKey    Category = "key"
	CategoryFiller Category = "filler"
)

// KeySelection sizes the windows of segments that receive key assets.
type KeySelection struct {
	Leading  int
	Middle   int
	Trailing int
}

// SelectionFromConfig reads the [scenes] key windows.
func SelectionFromConfig(cfg *config.Config) KeySelection {
	return KeySelection{
		Leading:  cfg.Scenes.KeyLeading,
		Middle:   cfg.Scenes.KeyMiddle,
		Trailing: cfg.Scenes.KeyTrailing,
	}
}

// Mask reports for each of count segments whether it is a key segment. The
// middle window is centred on count/2; overlapping windows count once.
func (s KeySelection) Mask(count int) []bool {
	if count <= 0 {
		return nil
	}
	mask := make([]bool, count)
	mark := func(from, to int) {
		from = max(from, 0)
		to = min(to, count)
		for i := from; i < to; i++ {
			mask[i] = true
		}
	}
	mark(0, s.Leading)
	if s.Middle > 0 {
		start := count/2 - s.Middle/2
		mark(start, start+s.Middle)
	}
	mark(count-s.Trailing, count)
	return mask
}

// Requirement is the number of unique assets a timeline needs per category.
type Requirement struct {
	Key    int
	Filler int
}

// Total is Key + Filler.
func (r Requirement) Total() int {
	return r.Key + r.Filler
}

// Buffered scales the total by factor, rounding up, to size a generation
// request that leaves room for rejected assets.
func (r Requirement) Buffered(factor float64) int {
	if factor <= 1 {
		return r.Total()
	}
	return int(math.Ceil(float64(r.Total()) * factor))
}

// Required computes the requirement for segmentCount segments. Pass the
// optimized count: splitting long segments changes both the total and which
// indices fall into the key windows.
func Required(segmentCount int, sel KeySelection) Requirement {
	var req Requirement
	for _, key := range sel.Mask(segmentCount) {
		if key {
			req.Key++
		} else {
			req.Filler++
		}
	}
	return req
}
