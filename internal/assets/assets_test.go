package assets_test

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"tollgate/internal/assets"
	"tollgate/internal/scenes"
)

var defaultSelection = assets.KeySelection{Leading: 5, Middle: 5, Trailing: 5}

func ids(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s-%02d", prefix, i)
	}
	return out
}

func uniformSegments(n int, d time.Duration) []scenes.Segment {
	durations := make([]time.Duration, n)
	for i := range durations {
		durations[i] = d
	}
	return scenes.FromDurations(durations...)
}

func TestMask(t *testing.T) {
	cases := []struct {
		name  string
		count int
		sel   assets.KeySelection
		want  string
	}{
		{"windows", 12, assets.KeySelection{Leading: 2, Middle: 2, Trailing: 2}, "KK...KK...KK"},
		{"odd middle", 11, assets.KeySelection{Middle: 3}, "....KKK...."},
		{"overlap", 5, assets.KeySelection{Leading: 3, Middle: 1, Trailing: 3}, "KKKKK"},
		{"empty selection", 4, assets.KeySelection{}, "...."},
		{"oversized", 3, assets.KeySelection{Leading: 10, Trailing: 10}, "KKK"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mask := tc.sel.Mask(tc.count)
			got := make([]byte, len(mask))
			for i, key := range mask {
				got[i] = '.'
				if key {
					got[i] = 'K'
				}
			}
			if string(got) != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
	if mask := (assets.KeySelection{Leading: 1}).Mask(0); mask != nil {
		t.Fatal("expected nil mask for empty timeline")
	}
}

func TestRequiredUsesOptimizedCount(t *testing.T) {
	raw := scenes.FromDurations(10*time.Second, 3*time.Second, 2*time.Second, 9*time.Second)
	before := assets.Required(len(raw), defaultSelection)
	if before.Total() != 4 || before.Filler != 0 {
		t.Fatalf("unexpected raw requirement: %+v", before)
	}

	optimized, err := scenes.Optimize(raw, 4500*time.Millisecond)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	after := assets.Required(len(optimized), defaultSelection)
	if after.Total() != 7 {
		t.Fatalf("expected 7 required after optimization, got %+v", after)
	}

	req := assets.Required(40, defaultSelection)
	if req.Key != 15 || req.Filler != 25 {
		t.Fatalf("unexpected requirement for 40 segments: %+v", req)
	}
	if req.Buffered(1.5) != 60 || req.Buffered(1) != 40 {
		t.Fatalf("unexpected buffered count: %d", req.Buffered(1.5))
	}
	if got := (assets.Requirement{Key: 3, Filler: 4}).Buffered(1.15); got != 9 {
		t.Fatalf("expected buffered count rounded up to 9, got %d", got)
	}
}

func TestAllocateReportsAggregateShortfall(t *testing.T) {
	segments := uniformSegments(40, 3*time.Second)
	pool := assets.Pool{Key: ids("key", 12), Filler: ids("fill", 20)}

	timeline, err := assets.Allocate(segments, pool, 3, defaultSelection)
	if !errors.Is(err, assets.ErrInsufficient) {
		t.Fatalf("expected ErrInsufficient, got %v", err)
	}
	var insufficient *assets.InsufficientError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected *InsufficientError, got %T", err)
	}
	if insufficient.Required() != 40 || insufficient.Available() != 32 {
		t.Fatalf("expected required=40 available=32, got %d/%d", insufficient.Required(), insufficient.Available())
	}
	if insufficient.KeyRequired != 15 || insufficient.KeyAvailable != 12 || insufficient.FillerRequired != 25 || insufficient.FillerAvailable != 20 {
		t.Fatalf("unexpected per-category counts: %+v", insufficient)
	}
	if insufficient.Shortfall() != 8 {
		t.Fatalf("expected shortfall 8, got %d", insufficient.Shortfall())
	}
	if len(timeline.Assignments) != 0 {
		t.Fatalf("no assignment may be returned on failure, got %d", len(timeline.Assignments))
	}
}

func TestAllocateCountsDistinctIDs(t *testing.T) {
	segments := uniformSegments(4, time.Second)
	pool := assets.Pool{Key: []string{"a", "a", "b", ""}, Filler: []string{"c"}}
	sel := assets.KeySelection{Leading: 3}

	_, err := assets.Allocate(segments, pool, 1, sel)
	var insufficient *assets.InsufficientError
	if !errors.As(err, &insufficient) || insufficient.KeyAvailable != 2 {
		t.Fatalf("expected duplicate ids counted once, got %v", err)
	}
}

func TestAllocateAssignsInOrder(t *testing.T) {
	segments := scenes.FromDurations(time.Second, 2*time.Second, 3*time.Second, 4*time.Second, 5*time.Second)
	pool := assets.Pool{Key: []string{"k1", "k2"}, Filler: []string{"f1", "f2", "f3"}}
	sel := assets.KeySelection{Leading: 1, Trailing: 1}

	timeline, err := assets.Allocate(segments, pool, 2, sel)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	want := []struct {
		id       string
		category assets.Category
		start    time.Duration
	}{
		{"k1", assets.CategoryKey, 0},
		{"f1", assets.CategoryFiller, time.Second},
		{"f2", assets.CategoryFiller, 3 * time.Second},
		{"f3", assets.CategoryFiller, 6 * time.Second},
		{"k2", assets.CategoryKey, 10 * time.Second},
	}
	if len(timeline.Assignments) != len(want) {
		t.Fatalf("expected %d assignments, got %d", len(want), len(timeline.Assignments))
	}
	for i, w := range want {
		got := timeline.Assignments[i]
		if got.SegmentIndex != i || got.AssetID != w.id || got.Category != w.category || got.Start != w.start {
			t.Fatalf("assignment %d: got %+v want %+v", i, got, w)
		}
	}
	if timeline.Duration() != 15*time.Second {
		t.Fatalf("unexpected timeline duration %s", timeline.Duration())
	}
	if timeline.Requirement.Key != 2 || timeline.Requirement.Filler != 3 || timeline.MinGap != 2 {
		t.Fatalf("unexpected timeline metadata: %+v", timeline)
	}
}

func TestAllocateDiscardsPartialProgressWhenGapBlocks(t *testing.T) {
	segments := uniformSegments(2, time.Second)
	pool := assets.Pool{Key: []string{"shared"}, Filler: []string{"shared"}}
	sel := assets.KeySelection{Leading: 1}

	timeline, err := assets.Allocate(segments, pool, 3, sel)
	var insufficient *assets.InsufficientError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientError, got %v", err)
	}
	if insufficient.Category != assets.CategoryFiller || insufficient.SegmentIndex != 1 {
		t.Fatalf("expected filler stall at segment 1, got %+v", insufficient)
	}
	if len(timeline.Assignments) != 0 {
		t.Fatal("partial assignment leaked")
	}

	if _, err := assets.Allocate(segments, pool, 1, sel); err != nil {
		t.Fatalf("gap of 1 allows adjacent reuse across categories: %v", err)
	}
}

func TestAllocateNeverReusesWithinGap(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 300; round++ {
		count := 1 + rng.Intn(60)
		sel := assets.KeySelection{Leading: rng.Intn(6), Middle: rng.Intn(6), Trailing: rng.Intn(6)}
		req := assets.Required(count, sel)
		minGap := rng.Intn(8)

		shared := ids("shared", rng.Intn(4))
		pool := assets.Pool{
			Key:    append(ids("key", req.Key+rng.Intn(5)), shared...),
			Filler: append(ids("fill", req.Filler+rng.Intn(5)), shared...),
		}
		rng.Shuffle(len(pool.Key), func(i, j int) { pool.Key[i], pool.Key[j] = pool.Key[j], pool.Key[i] })
		rng.Shuffle(len(pool.Filler), func(i, j int) { pool.Filler[i], pool.Filler[j] = pool.Filler[j], pool.Filler[i] })

		timeline, err := assets.Allocate(uniformSegments(count, time.Second), pool, minGap, sel)
		if err != nil {
			if !errors.Is(err, assets.ErrInsufficient) {
				t.Fatalf("round %d: unexpected error %v", round, err)
			}
			if len(timeline.Assignments) != 0 {
				t.Fatalf("round %d: partial assignment on failure", round)
			}
			continue
		}
		if len(timeline.Assignments) != count {
			t.Fatalf("round %d: expected %d assignments, got %d", round, count, len(timeline.Assignments))
		}
		lastSeen := map[string]int{}
		mask := sel.Mask(count)
		for i, a := range timeline.Assignments {
			if prev, ok := lastSeen[a.AssetID]; ok && i-prev < minGap {
				t.Fatalf("round %d: %s reused at %d and %d with gap %d", round, a.AssetID, prev, i, minGap)
			}
			lastSeen[a.AssetID] = i
			wantCategory := assets.CategoryFiller
			if mask[i] {
				wantCategory = assets.CategoryKey
			}
			if a.Category != wantCategory {
				t.Fatalf("round %d: segment %d category %s want %s", round, i, a.Category, wantCategory)
			}
		}
	}
}

func TestAllocateIsDeterministic(t *testing.T) {
	segments := uniformSegments(25, 2*time.Second)
	pool := assets.Pool{Key: ids("key", 15), Filler: ids("fill", 12)}

	first, err := assets.Allocate(segments, pool, 3, defaultSelection)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	second, err := assets.Allocate(segments, pool, 3, defaultSelection)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	for i := range first.Assignments {
		if first.Assignments[i] != second.Assignments[i] {
			t.Fatalf("assignment %d differs between runs", i)
		}
	}
}
