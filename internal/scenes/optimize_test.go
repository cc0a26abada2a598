package scenes_test

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"tollgate/internal/scenes"
	"tollgate/internal/services"
)

const maxHold = 4500 * time.Millisecond

func TestOptimizeSplitsLongSegmentsEvenly(t *testing.T) {
	input := scenes.FromDurations(10*time.Second, 3*time.Second, 2*time.Second)
	input[0].ContentRef = "intro"
	input[1].ContentRef = "middle"

	out, err := scenes.Optimize(input, maxHold)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if len(out) != 5 {
		t.Fatalf("expected 5 segments, got %d", len(out))
	}

	var split time.Duration
	for i := 0; i < 3; i++ {
		seg := out[i]
		if seg.Index != i || seg.SourceIndex != 0 || seg.ContentRef != "intro" {
			t.Fatalf("segment %d: unexpected metadata %+v", i, seg)
		}
		if seg.Duration < 3333333333 || seg.Duration > 3333333334 {
			t.Fatalf("segment %d: expected ~3.33s, got %s", i, seg.Duration)
		}
		split += seg.Duration
	}
	if split != 10*time.Second {
		t.Fatalf("split parts sum to %s, want 10s", split)
	}
	if out[3].Duration != 3*time.Second || out[3].SourceIndex != 1 || out[3].ContentRef != "middle" || out[3].Index != 3 {
		t.Fatalf("unexpected pass-through segment: %+v", out[3])
	}
	if out[4].Duration != 2*time.Second || out[4].SourceIndex != 2 || out[4].Index != 4 {
		t.Fatalf("unexpected pass-through segment: %+v", out[4])
	}
	if total := scenes.Total(out); total != 15*time.Second {
		t.Fatalf("total changed: %s", total)
	}
	if input[0].Duration != 10*time.Second || len(input) != 3 {
		t.Fatal("input was modified")
	}
}

func TestSplitBoundaries(t *testing.T) {
	cases := []struct {
		name  string
		d     time.Duration
		count int
	}{
		{"zero", 0, 1},
		{"exactly max", maxHold, 1},
		{"just over", maxHold + 1, 2},
		{"exact multiple", 2 * maxHold, 2},
		{"long", 60 * time.Second, 14},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			parts := scenes.Split(tc.d, maxHold)
			if len(parts) != tc.count {
				t.Fatalf("expected %d parts, got %d", tc.count, len(parts))
			}
			var sum time.Duration
			for _, p := range parts {
				if p > maxHold {
					t.Fatalf("part %s exceeds max hold", p)
				}
				if p-parts[len(parts)-1] > 1 {
					t.Fatalf("parts differ by more than 1ns: %v", parts)
				}
				sum += p
			}
			if sum != tc.d {
				t.Fatalf("sum %s != %s", sum, tc.d)
			}
		})
	}
}

func TestOptimizeConservesDurationForRandomInput(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		durations := make([]time.Duration, 1+rng.Intn(30))
		for i := range durations {
			durations[i] = time.Duration(rng.Int63n(int64(20 * time.Second)))
		}
		input := scenes.FromDurations(durations...)
		out, err := scenes.Optimize(input, maxHold)
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		if scenes.Total(out) != scenes.Total(input) {
			t.Fatalf("round %d: total changed", round)
		}
		last := -1
		for i, seg := range out {
			if seg.Index != i {
				t.Fatalf("round %d: index %d at position %d", round, seg.Index, i)
			}
			if seg.Duration > maxHold {
				t.Fatalf("round %d: segment %d holds %s", round, i, seg.Duration)
			}
			if seg.SourceIndex < last {
				t.Fatalf("round %d: order not preserved", round)
			}
			last = seg.SourceIndex
		}
	}
}

func TestOptimizeRejectsInvalidInput(t *testing.T) {
	if _, err := scenes.Optimize(scenes.FromDurations(time.Second), 0); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for zero max hold, got %v", err)
	}
	if _, err := scenes.Optimize(scenes.FromDurations(-time.Second), maxHold); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for negative duration, got %v", err)
	}
	out, err := scenes.Optimize(nil, maxHold)
	if err != nil || len(out) != 0 {
		t.Fatalf("empty input should yield empty output: %v %v", out, err)
	}
}

func TestAnalyzePacing(t *testing.T) {
	cases := []struct {
		name       string
		durations  []time.Duration
		wantIssues int
	}{
		{"healthy", []time.Duration{3 * time.Second, 4 * time.Second, 3500 * time.Millisecond}, 0},
		{"too long", []time.Duration{7 * time.Second, 2 * time.Second}, 1},
		{"average high", []time.Duration{5 * time.Second, 5 * time.Second}, 1},
		{"too short", []time.Duration{time.Second, 3 * time.Second}, 1},
		{"everything wrong", []time.Duration{12 * time.Second, time.Second, 12 * time.Second}, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report := scenes.AnalyzePacing(scenes.FromDurations(tc.durations...), maxHold)
			if len(report.Issues) != tc.wantIssues {
				t.Fatalf("expected %d issues, got %v", tc.wantIssues, report.Issues)
			}
			if report.OK() != (tc.wantIssues == 0) {
				t.Fatalf("OK() mismatch for %v", report.Issues)
			}
			if report.Count != len(tc.durations) {
				t.Fatalf("unexpected count %d", report.Count)
			}
		})
	}

	empty := scenes.AnalyzePacing(nil, maxHold)
	if empty.OK() || len(empty.Issues) != 1 {
		t.Fatalf("empty timeline should report an issue: %+v", empty)
	}

	report := scenes.AnalyzePacing(scenes.FromDurations(2*time.Second, 4*time.Second), maxHold)
	if report.Average != 3*time.Second || report.Longest != 4*time.Second || report.Shortest != 2*time.Second || report.Total != 6*time.Second {
		t.Fatalf("unexpected stats: %+v", report)
	}
}
