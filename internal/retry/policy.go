package retry

import (
	"math"
	"time"

	"tollgate/internal/config"
)

// Policy bounds how often and how slowly an operation is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	Jitter      time.Duration
	MaxDelay    time.Duration
}

// PolicyFromConfig converts the [retry] section.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Retry.BaseDelayMS) * time.Millisecond,
		Multiplier:  cfg.Retry.Multiplier,
		Jitter:      time.Duration(cfg.Retry.JitterMS) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
	}
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff returns the deterministic part of the delay before attempt n
// (n >= 2): base * multiplier^(n-2), capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 2 || p.BaseDelay <= 0 {
		return 0
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	raw := float64(p.BaseDelay) * math.Pow(multiplier, float64(attempt-2))
	if p.MaxDelay > 0 && raw >= float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if raw >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(raw)
}

// Delay adds jitter to Backoff. jitter must be drawn uniformly from
// [0, p.Jitter]; the sum is capped at MaxDelay.
func (p Policy) Delay(attempt int, jitter time.Duration) time.Duration {
	if attempt < 2 {
		return 0
	}
	delay := p.Backoff(attempt)
	if jitter > 0 {
		delay += jitter
	}
	return p.capDelay(delay)
}

func (p Policy) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
