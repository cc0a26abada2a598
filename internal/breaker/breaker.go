package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"tollgate/internal/logging"
	"tollgate/internal/services"
	"tollgate/internal/store"
)

// Persister stores breaker state across restarts.
type Persister interface {
	LoadBreaker(ctx context.Context, resource string) (store.BreakerRow, bool, error)
	SaveBreaker(ctx context.Context, row store.BreakerRow) error
}

// Classifier maps an operation's error to an Outcome.
type Classifier func(error) Outcome

// Classify is the default classifier. Transient and unclassified errors count
// as failures. Cancellation, permanent request errors, and soft rejections
// that ask the caller to defer or back off are ignored.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if services.IsCancelled(err) || errors.Is(err, services.ErrPermanent) || errors.Is(err, services.ErrValidation) {
		return OutcomeIgnore
	}
	var deferrer services.Deferrer
	if errors.As(err, &deferrer) && deferrer.Defer() {
		return OutcomeIgnore
	}
	var backoffer services.Backoffer
	if errors.As(err, &backoffer) && backoffer.Backoff() {
		return OutcomeIgnore
	}
	return OutcomeFailure
}

// Option customizes a Breaker.
type Option func(*Breaker)

// WithClock replaces the breaker's time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithClassifier replaces the outcome classifier.
func WithClassifier(classify Classifier) Option {
	return func(b *Breaker) {
		if classify != nil {
			b.classify = classify
		}
	}
}

// WithPersister stores state transitions.
func WithPersister(p Persister) Option {
	return func(b *Breaker) {
		b.persister = p
	}
}

// Breaker guards one resource.
type Breaker struct {
	mu        sync.Mutex
	resource  string
	settings  Settings
	state     Snapshot
	persister Persister
	classify  Classifier
	logger    *slog.Logger
	now       func() time.Time
}

// New builds a breaker for resource, restoring persisted state when a
// persister is supplied.
func New(ctx context.Context, resource string, settings Settings, logger *slog.Logger, opts ...Option) (*Breaker, error) {
	if settings.Threshold <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, "breaker", "init", "failure threshold must be positive", nil)
	}
	if settings.Cooldown < 0 {
		return nil, services.Wrap(services.ErrConfiguration, "breaker", "init", "cooldown must be >= 0", nil)
	}
	b := &Breaker{
		resource: resource,
		settings: settings,
		state:    Snapshot{State: Closed},
		classify: Classify,
		logger:   logging.NewComponentLogger(logger, "breaker").With(logging.String("resource", resource)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.persister != nil {
		row, ok, err := b.persister.LoadBreaker(ctx, resource)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "breaker", "init", "load state", err)
		}
		if ok {
			b.state = Snapshot{State: ParseState(row.State), Failures: row.Failures, OpenedAt: row.OpenedAt}
			if b.state.State != Closed {
				b.logger.Info("breaker state restored",
					logging.String(logging.FieldEventType, "breaker_restored"),
					logging.String("state", string(b.state.State)),
					logging.Int("failures", b.state.Failures),
				)
			}
		}
	}
	return b, nil
}

// Resource names the guarded resource.
func (b *Breaker) Resource() string {
	return b.resource
}

// Settings returns the transition thresholds.
func (b *Breaker) Settings() Settings {
	return b.settings
}

// Snapshot returns the current state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Guard runs op when the breaker admits it and folds the outcome into the
// state. A rejected call returns an *OpenError without invoking op.
func (b *Breaker) Guard(ctx context.Context, op func(context.Context) error) error {
	b.mu.Lock()
	before := b.state
	next, admitted := Admit(before, b.now(), b.settings)
	if !admitted {
		b.mu.Unlock()
		return &OpenError{
			Resource: b.resource,
			State:    before.State,
			Failures: before.Failures,
			RetryAt:  before.RetryAt(b.settings),
		}
	}
	b.apply(ctx, before, next, "admit")
	b.mu.Unlock()

	finished := false
	defer func() {
		if finished {
			return
		}
		// op panicked; count it as a failure so the half-open slot is
		// released before the panic continues.
		b.record(ctx, OutcomeFailure)
	}()
	err := op(ctx)
	finished = true
	b.record(ctx, b.classify(err))
	return err
}

func (b *Breaker) record(ctx context.Context, outcome Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	before := b.state
	b.apply(ctx, before, Record(before, outcome, b.now(), b.settings), outcome.String())
}

// Reset forces the breaker closed.
func (b *Breaker) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	before := b.state
	b.state = Snapshot{State: Closed}
	b.logger.Info("breaker reset by operator",
		logging.String(logging.FieldEventType, "breaker_reset"),
		logging.String("from_state", string(before.State)),
		logging.Int("failures", before.Failures),
	)
	return b.persist(ctx)
}

// apply adopts next, logging and persisting when the persisted fields change.
// Callers hold b.mu.
func (b *Breaker) apply(ctx context.Context, before, next Snapshot, cause string) {
	b.state = next
	if before.State == next.State && before.Failures == next.Failures && before.OpenedAt.Equal(next.OpenedAt) {
		return
	}

	logger := logging.WithContext(ctx, b.logger)
	switch {
	case before.State != next.State && next.State == Open:
		logging.WarnWithContext(logger, "circuit opened; publishing paused", "breaker_opened",
			logging.String("from_state", string(before.State)),
			logging.Int("failures", next.Failures),
			logging.Time("retry_at", next.RetryAt(b.settings)),
			logging.String(logging.FieldImpact, "publishing calls are rejected until the cooldown elapses"),
			logging.String(logging.FieldErrorHint, "check publishing API health"),
		)
	case before.State != next.State:
		logger.Info("circuit state changed",
			logging.String(logging.FieldEventType, "breaker_transition"),
			logging.String("from_state", string(before.State)),
			logging.String("to_state", string(next.State)),
			logging.String("cause", cause),
		)
	default:
		logger.Debug("failure counter updated",
			logging.String(logging.FieldEventType, "breaker_counter"),
			logging.Int("failures", next.Failures),
		)
	}

	if err := b.persist(context.WithoutCancel(ctx)); err != nil {
		logging.WarnWithContext(logger, "breaker state not persisted", "breaker_persist_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "state will be lost on restart"),
			logging.String(logging.FieldErrorHint, "check database permissions and free space"),
		)
	}
}

func (b *Breaker) persist(ctx context.Context) error {
	if b.persister == nil {
		return nil
	}
	return b.persister.SaveBreaker(ctx, store.BreakerRow{
		Resource:  b.resource,
		State:     string(b.state.State),
		Failures:  b.state.Failures,
		OpenedAt:  b.state.OpenedAt,
		UpdatedAt: b.now(),
	})
}
