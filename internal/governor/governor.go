package governor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"tollgate/internal/assets"
	"tollgate/internal/breaker"
	"tollgate/internal/config"
	"tollgate/internal/logging"
	"tollgate/internal/notifications"
	"tollgate/internal/quota"
	"tollgate/internal/retry"
	"tollgate/internal/services"
	"tollgate/internal/services/publisher"
	"tollgate/internal/store"
)

// ErrLocked is returned by Open when another process governs the channel.
var ErrLocked = errors.New("channel is governed by another process")

// Request is one publishing operation.
type Request = publisher.Request

// Publisher is the publishing API collaborator.
type Publisher interface {
	Cost(kind string) int64
	Publish(ctx context.Context, req Request) error
}

// Receipt summarizes one governed call.
type Receipt struct {
	RunID     string
	Operation string
	Attempts  int
	Cost      int64
	// Charged is the net quota spent across all attempts after refunds.
	Charged int64
}

// Health is a point-in-time view of the channel's governance state.
type Health struct {
	Channel string
	Quota   quota.Status
	Breaker breaker.Snapshot
	RetryAt time.Time
}

// Option customizes Open.
type Option func(*options)

type options struct {
	now       func() time.Time
	sleep     retry.Sleeper
	jitter    func(time.Duration) time.Duration
	publisher Publisher
	notifier  notifications.Service
	noLock    bool
}

// WithClock replaces the time source of the ledger and breaker.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithSleeper replaces the retry sleep.
func WithSleeper(sleep retry.Sleeper) Option {
	return func(o *options) {
		o.sleep = sleep
	}
}

// WithJitterSource replaces the retry jitter draw.
func WithJitterSource(draw func(time.Duration) time.Duration) Option {
	return func(o *options) {
		o.jitter = draw
	}
}

// WithPublisher replaces the HTTP publisher built from config.
func WithPublisher(p Publisher) Option {
	return func(o *options) {
		o.publisher = p
	}
}

// WithNotifier replaces the ntfy service built from config.
func WithNotifier(n notifications.Service) Option {
	return func(o *options) {
		o.notifier = n
	}
}

// WithoutLock skips the per-channel lock. Use it for read-only inspection
// while a pipeline may hold the channel.
func WithoutLock() Option {
	return func(o *options) {
		o.noLock = true
	}
}

// Governor guards publishing calls for one channel.
type Governor struct {
	channel   string
	ledger    *quota.Ledger
	breaker   *breaker.Breaker
	retry     *retry.Governor
	publisher Publisher
	notifier  notifications.Service
	history   *assets.History
	logger    *slog.Logger

	store *store.Store
	lock  *flock.Flock
}

// New composes already-built parts. The caller keeps ownership of their
// storage.
func New(ledger *quota.Ledger, br *breaker.Breaker, rg *retry.Governor, pub Publisher, logger *slog.Logger) (*Governor, error) {
	if ledger == nil || br == nil || rg == nil || pub == nil {
		return nil, services.Wrap(services.ErrConfiguration, "governor", "init", "ledger, breaker, retry and publisher are required", nil)
	}
	channel := ledger.Settings().Channel
	return &Governor{
		channel:   channel,
		ledger:    ledger,
		breaker:   br,
		retry:     rg,
		publisher: pub,
		logger:    logging.NewComponentLogger(logger, "governor"),
	}, nil
}

// Open builds a governor from config: it takes the channel lock, opens the
// governance database, and restores breaker state.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Governor, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "governor", "open", "config is required", nil)
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "governor", "open", "prepare directories", err)
	}

	var lock *flock.Flock
	if !o.noLock {
		lock = flock.New(cfg.LockPath())
		ok, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire channel lock: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %q (lock %s)", ErrLocked, cfg.Channel.Name, cfg.LockPath())
		}
	}
	release := func() {
		if lock != nil {
			_ = lock.Unlock()
		}
	}

	st, err := store.Open(cfg)
	if err != nil {
		release()
		return nil, err
	}
	fail := func(err error) (*Governor, error) {
		_ = st.Close()
		release()
		return nil, err
	}

	settings, err := quota.SettingsFromConfig(cfg)
	if err != nil {
		return fail(services.Wrap(services.ErrConfiguration, "governor", "open", "quota settings", err))
	}
	ledger, err := quota.New(st, settings, logger, quota.WithClock(o.now))
	if err != nil {
		return fail(err)
	}
	br, err := breaker.New(ctx, ResourceName(cfg.Channel.Name), breaker.Settings{
		Threshold: cfg.Breaker.FailureThreshold,
		Cooldown:  cfg.CooldownDuration(),
	}, logger, breaker.WithPersister(st), breaker.WithClock(o.now))
	if err != nil {
		return fail(err)
	}
	var retryOpts []retry.Option
	if o.sleep != nil {
		retryOpts = append(retryOpts, retry.WithSleeper(o.sleep))
	}
	if o.jitter != nil {
		retryOpts = append(retryOpts, retry.WithJitterSource(o.jitter))
	}
	rg := retry.New(retry.PolicyFromConfig(cfg), logger, retryOpts...)

	pub := o.publisher
	if pub == nil {
		pub = publisher.NewClient(publisher.ConfigFromConfig(cfg))
	}
	g, err := New(ledger, br, rg, pub, logger)
	if err != nil {
		return fail(err)
	}
	g.notifier = o.notifier
	if g.notifier == nil {
		g.notifier = notifications.NewService(cfg)
	}
	g.history = assets.NewHistory(st, cfg.Channel.Name, cfg.ReuseHorizon(), assets.WithHistoryClock(o.now))
	g.store = st
	g.lock = lock
	return g, nil
}

// ResourceName is the breaker resource key for a channel's publishing API.
func ResourceName(channel string) string {
	return "publisher:" + strings.ToLower(strings.TrimSpace(channel))
}

// Channel names the governed channel.
func (g *Governor) Channel() string {
	return g.channel
}

// Ledger exposes the quota ledger for inspection and maintenance.
func (g *Governor) Ledger() *quota.Ledger {
	return g.ledger
}

// History exposes the channel's asset usage history. It is nil for a
// governor composed with New.
func (g *Governor) History() *assets.History {
	return g.history
}

// Breaker exposes the circuit breaker for inspection and operator reset.
func (g *Governor) Breaker() *breaker.Breaker {
	return g.breaker
}

// Publish sends req through retry, breaker and quota. Each attempt that
// reaches the ledger is charged. The returned error keeps its services
// marker, so services.Disposition tells the caller whether to defer, back
// off, fail or abort.
func (g *Governor) Publish(ctx context.Context, req Request) (Receipt, error) {
	op := strings.ToLower(strings.TrimSpace(req.Operation))
	if op == "" {
		return Receipt{}, services.Wrap(services.ErrValidation, "governor", "publish", "operation is required", nil)
	}
	req.Operation = op
	receipt := Receipt{
		RunID:     uuid.NewString(),
		Operation: op,
		Cost:      g.publisher.Cost(op),
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		req.IdempotencyKey = receipt.RunID
	}
	ctx = services.WithChannel(ctx, g.channel)
	ctx = services.WithOperation(ctx, op)
	ctx = services.WithRunID(ctx, receipt.RunID)
	logger := logging.WithContext(ctx, g.logger)
	before := g.breaker.Snapshot()

	err := g.retry.Do(ctx, func(ctx context.Context) error {
		receipt.Attempts++
		return g.breaker.Guard(ctx, func(ctx context.Context) error {
			rec, err := g.ledger.Consume(ctx, op, receipt.Cost)
			if err != nil {
				return err
			}
			receipt.Charged += rec.Cost
			err = g.publisher.Publish(ctx, req)
			if services.IsCancelled(err) {
				if refundErr := g.ledger.Refund(context.WithoutCancel(ctx), rec, "cancelled"); refundErr != nil {
					logging.WarnWithContext(logger, "quota refund failed", "quota_refund_failed",
						logging.String("record_id", rec.ID),
						logging.Error(refundErr),
						logging.String(logging.FieldImpact, "the aborted attempt stays charged until the window resets"),
						logging.String(logging.FieldErrorHint, "check database permissions and free space"),
					)
				} else {
					receipt.Charged -= rec.Cost
				}
			}
			return err
		})
	})
	g.report(ctx, logger, receipt, err)
	g.alert(ctx, logger, receipt, before, err)
	return receipt, err
}

// alert pushes operator notifications for breaker transitions and quota
// exhaustion. Delivery failures are logged and never change the result.
func (g *Governor) alert(ctx context.Context, logger *slog.Logger, receipt Receipt, before breaker.Snapshot, err error) {
	if g.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	after := g.breaker.Snapshot()
	type pending struct {
		event   notifications.Event
		payload notifications.Payload
	}
	var events []pending
	switch {
	case after.State == breaker.Open && before.State != breaker.Open:
		events = append(events, pending{notifications.EventBreakerOpened, notifications.Payload{
			"channel":  g.channel,
			"failures": after.Failures,
			"retry_at": after.RetryAt(g.breaker.Settings()).Format(time.RFC3339),
		}})
	case after.State == breaker.Closed && before.State != breaker.Closed:
		events = append(events, pending{notifications.EventBreakerClosed, notifications.Payload{
			"channel": g.channel,
		}})
	}
	if exceeded, ok := quota.IsExceeded(err); ok {
		events = append(events, pending{notifications.EventQuotaExhausted, notifications.Payload{
			"channel":   g.channel,
			"operation": receipt.Operation,
			"cost":      exceeded.Cost,
			"remaining": exceeded.Remaining(),
			"cap":       exceeded.Cap,
			"reset_at":  exceeded.ResetAt.Format(time.RFC3339),
		}})
	}
	for _, ev := range events {
		if notifyErr := g.notifier.Publish(ctx, ev.event, ev.payload); notifyErr != nil {
			logging.WarnWithContext(logger, "notification failed", "notification_failed",
				logging.String("event", string(ev.event)),
				logging.Error(notifyErr),
				logging.String(logging.FieldImpact, "operator was not alerted"),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			)
		}
	}
}

func (g *Governor) report(ctx context.Context, logger *slog.Logger, receipt Receipt, err error) {
	attrs := []logging.Attr{
		logging.Int("attempts", receipt.Attempts),
		logging.Int64("cost", receipt.Cost),
		logging.Int64("charged", receipt.Charged),
	}
	if err == nil {
		logger.LogAttrs(ctx, slog.LevelInfo, "publish succeeded", append(attrs, logging.String(logging.FieldEventType, "publish_succeeded"))...)
		return
	}

	action := services.Disposition(err)
	attrs = append(attrs,
		logging.String("disposition", string(action)),
		logging.String("breaker_state", string(g.breaker.Snapshot().State)),
		logging.Error(err),
	)
	switch action {
	case services.ActionDefer, services.ActionBackoff, services.ActionAbort:
		if status, peekErr := g.ledger.Peek(context.WithoutCancel(ctx)); peekErr == nil {
			attrs = append(attrs, logging.Int64("quota_remaining", status.Remaining), logging.Duration("quota_reset_in", status.ResetIn))
		}
		logger.LogAttrs(ctx, slog.LevelInfo, "publish not completed", append(attrs, logging.String(logging.FieldEventType, "publish_"+string(action)))...)
	default:
		logging.ErrorWithContext(logger, "publish failed", "publish_failed",
			append(attrs,
				logging.String(logging.FieldImpact, "operation was not published"),
				logging.String(logging.FieldErrorHint, hintFor(err)),
			)...,
		)
	}
}

func hintFor(err error) string {
	switch {
	case errors.Is(err, services.ErrPermanent):
		return "the platform rejected the request; fix the payload before retrying"
	case errors.Is(err, services.ErrConfiguration):
		return "check the [publisher] section of the config"
	default:
		return "check publishing API status and network connectivity"
	}
}

// Snapshot reports quota and breaker state without mutating either.
func (g *Governor) Snapshot(ctx context.Context) (Health, error) {
	status, err := g.ledger.Peek(ctx)
	if err != nil {
		return Health{}, err
	}
	snap := g.breaker.Snapshot()
	health := Health{
		Channel: g.channel,
		Quota:   status,
		Breaker: snap,
	}
	if snap.State == breaker.Open {
		health.RetryAt = snap.RetryAt(g.breaker.Settings())
	}
	return health, nil
}

// Close releases the database and the channel lock.
func (g *Governor) Close() error {
	var errs []error
	if g.store != nil {
		errs = append(errs, g.store.Close())
		g.store = nil
	}
	if g.lock != nil {
		errs = append(errs, g.lock.Unlock())
		g.lock = nil
	}
	return errors.Join(errs...)
}
