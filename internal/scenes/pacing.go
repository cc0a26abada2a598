package scenes

import (
	"fmt"
	"time"
)

const (
	pacingLongest  = 6 * time.Second
	pacingShortest = 1500 * time.Millisecond
)

// PacingReport summarizes the rhythm of an optimized timeline.
type PacingReport struct {
	Count    int
	Total    time.Duration
	Average  time.Duration
	Longest  time.Duration
	Shortest time.Duration
	Issues   []string
}

// OK reports whether no pacing issue was found.
func (r PacingReport) OK() bool {
	return r.Count > 0 && len(r.Issues) == 0
}

// AnalyzePacing flags holds that are too long overall, an average above
// maxHold, and flashes too short to register.
func AnalyzePacing(segments []Segment, maxHold time.Duration) PacingReport {
	report := PacingReport{Count: len(segments)}
	if len(segments) == 0 {
		report.Issues = []string{"no segments"}
		return report
	}
	report.Shortest = segments[0].Duration
	for _, seg := range segments {
		report.Total += seg.Duration
		if seg.Duration > report.Longest {
			report.Longest = seg.Duration
		}
		if seg.Duration < report.Shortest {
			report.Shortest = seg.Duration
		}
	}
	report.Average = report.Total / time.Duration(len(segments))

	if report.Longest > pacingLongest {
		report.Issues = append(report.Issues, fmt.Sprintf("longest hold %s exceeds %s", report.Longest.Round(100*time.Millisecond), pacingLongest))
	}
	if maxHold > 0 && report.Average > maxHold {
		report.Issues = append(report.Issues, fmt.Sprintf("average hold %s exceeds %s", report.Average.Round(100*time.Millisecond), maxHold))
	}
	if report.Shortest < pacingShortest {
		report.Issues = append(report.Issues, fmt.Sprintf("shortest hold %s is under %s", report.Shortest.Round(100*time.Millisecond), pacingShortest))
	}
	return report
}
