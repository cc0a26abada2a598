package breaker

import (
	"fmt"
	"time"
)

// State is the breaker's tag.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// ParseState converts a persisted tag, defaulting unknown values to Closed.
func ParseState(value string) State {
	switch State(value) {
	case Open:
		return Open
	case HalfOpen:
		return HalfOpen
	default:
		return Closed
	}
}

// Outcome is the classified result of a guarded call.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeIgnore
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeIgnore:
		return "ignore"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Settings holds the transition thresholds.
type Settings struct {
	Threshold int
	Cooldown  time.Duration
}

// Snapshot is the complete breaker state. ProbeInFlight is process-local and
// never persisted: after a restart a half-open breaker admits a fresh probe.
type Snapshot struct {
	State         State
	Failures      int
	OpenedAt      time.Time
	ProbeInFlight bool
}

// RetryAt is when an open breaker will next admit a probe.
func (s Snapshot) RetryAt(settings Settings) time.Time {
	if s.State != Open {
		return time.Time{}
	}
	return s.OpenedAt.Add(settings.Cooldown)
}

// Admit decides whether a call may run and returns the state to adopt. An
// open breaker whose cooldown has elapsed becomes half-open and admits
// exactly one probe; further calls are rejected until the probe reports.
func Admit(s Snapshot, now time.Time, settings Settings) (Snapshot, bool) {
	switch s.State {
	case Open:
		if now.Before(s.OpenedAt.Add(settings.Cooldown)) {
			return s, false
		}
		return Snapshot{State: HalfOpen, Failures: s.Failures, OpenedAt: s.OpenedAt, ProbeInFlight: true}, true
	case HalfOpen:
		if s.ProbeInFlight {
			return s, false
		}
		s.ProbeInFlight = true
		return s, true
	default:
		return s, true
	}
}

// Record applies a call outcome to s.
func Record(s Snapshot, outcome Outcome, now time.Time, settings Settings) Snapshot {
	switch s.State {
	case Closed:
		switch outcome {
		case OutcomeSuccess:
			return Snapshot{State: Closed}
		case OutcomeFailure:
			failures := s.Failures + 1
			if failures >= settings.Threshold {
				return Snapshot{State: Open, Failures: failures, OpenedAt: now}
			}
			return Snapshot{State: Closed, Failures: failures}
		}
		return s
	case HalfOpen:
		switch outcome {
		case OutcomeSuccess:
			return Snapshot{State: Closed}
		case OutcomeFailure:
			return Snapshot{State: Open, Failures: s.Failures + 1, OpenedAt: now}
		}
		s.ProbeInFlight = false
		return s
	default:
		// Calls admitted before the breaker opened may finish late; they
		// neither close it nor restart the cooldown.
		return s
	}
}
