package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"tollgate/internal/logging"
	"tollgate/internal/services"
)

// RetryAfterer is implemented by errors that carry a server-provided wait.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option customizes a Governor.
type Option func(*Governor)

// WithSleeper overrides how retry sleeps are performed.
func WithSleeper(sleep Sleeper) Option {
	return func(g *Governor) {
		if sleep != nil {
			g.sleep = sleep
		}
	}
}

// WithJitterSource overrides the jitter draw. It receives the policy's jitter
// bound and must return a value in [0, bound].
func WithJitterSource(draw func(bound time.Duration) time.Duration) Option {
	return func(g *Governor) {
		if draw != nil {
			g.jitter = draw
		}
	}
}

// Governor retries transient failures according to a Policy.
type Governor struct {
	policy Policy
	logger *slog.Logger
	sleep  Sleeper
	jitter func(time.Duration) time.Duration
}

// New builds a governor.
func New(policy Policy, logger *slog.Logger, opts ...Option) *Governor {
	g := &Governor{
		policy: policy,
		logger: logging.NewComponentLogger(logger, "retry"),
		sleep:  sleepContext,
		jitter: uniformJitter,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Policy returns the governor's policy.
func (g *Governor) Policy() Policy {
	return g.policy
}

// Do runs op until it succeeds, fails with a non-transient error, or the
// attempt budget is spent. The attempt number is stored in op's context.
func (g *Governor) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := g.policy.attempts()
	logger := logging.WithContext(ctx, g.logger)
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := g.nextDelay(attempt, lastErr)
			logger.Info("retrying after transient failure",
				logging.String(logging.FieldEventType, "retry_scheduled"),
				logging.Int(logging.FieldAttempt, attempt),
				logging.Int("max_attempts", attempts),
				logging.Duration("delay", delay),
				logging.Error(lastErr),
			)
			if err := g.sleep(ctx, delay); err != nil {
				return services.Wrap(services.ErrCancelled, "retry", "", fmt.Sprintf("aborted before attempt %d", attempt), err)
			}
		}
		if err := ctx.Err(); err != nil {
			return services.Wrap(services.ErrCancelled, "retry", "", fmt.Sprintf("aborted before attempt %d", attempt), err)
		}

		err := op(services.WithAttempt(ctx, attempt))
		if err == nil {
			if attempt > 1 {
				logger.Info("operation succeeded after retry",
					logging.String(logging.FieldEventType, "retry_recovered"),
					logging.Int(logging.FieldAttempt, attempt),
				)
			}
			return nil
		}
		if services.IsCancelled(err) && !errors.Is(err, services.ErrCancelled) {
			return services.Wrap(services.ErrCancelled, "retry", "", fmt.Sprintf("aborted during attempt %d", attempt), err)
		}
		if !services.IsRetryable(err) {
			return err
		}
		lastErr = err
	}

	logging.WarnWithContext(logger, "retry budget exhausted", "retry_exhausted",
		logging.Int("attempts", attempts),
		logging.Error(lastErr),
		logging.String(logging.FieldImpact, "operation failed; the pipeline decides whether to defer or abort"),
		logging.String(logging.FieldErrorHint, "check publishing API status and network connectivity"),
	)
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

func (g *Governor) nextDelay(attempt int, lastErr error) time.Duration {
	var jitter time.Duration
	if g.policy.Jitter > 0 {
		jitter = g.jitter(g.policy.Jitter)
	}
	delay := g.policy.Delay(attempt, jitter)
	var hinted RetryAfterer
	if errors.As(lastErr, &hinted) {
		if wait := g.policy.capDelay(hinted.RetryAfter()); wait > delay {
			delay = wait
		}
	}
	return delay
}

func uniformJitter(bound time.Duration) time.Duration {
	if bound <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(bound) + 1))
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
