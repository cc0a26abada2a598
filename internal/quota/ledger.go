package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tollgate/internal/config"
	"tollgate/internal/logging"
	"tollgate/internal/services"
	"tollgate/internal/store"
)

// Store is the persistence the ledger needs.
type Store interface {
	AppendQuotaWithin(ctx context.Context, rec store.QuotaRecord, windowEnd time.Time, limit int64) (bool, int64, error)
	AppendRefund(ctx context.Context, rec store.QuotaRecord) (bool, error)
	SumQuota(ctx context.Context, channel string, start, end time.Time) (int64, error)
	QuotaRecords(ctx context.Context, channel string, since time.Time) ([]store.QuotaRecord, error)
	PruneQuotaRecords(ctx context.Context, channel string, before time.Time) (int64, error)
}

// Settings configures a ledger for one channel.
type Settings struct {
	Channel       string
	DailyCap      int64
	Location      *time.Location
	ResetOffset   time.Duration
	Costs         CostTable
	RetentionDays int
}

// SettingsFromConfig derives ledger settings from application config.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	loc, err := cfg.Location()
	if err != nil {
		return Settings{}, err
	}
	offset, err := cfg.ResetOffset()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		Channel:       cfg.Channel.Name,
		DailyCap:      cfg.Quota.DailyCap,
		Location:      loc,
		ResetOffset:   offset,
		Costs:         NewCostTable(cfg.Quota.Costs, cfg.Quota.DefaultCost),
		RetentionDays: cfg.Quota.RetentionDays,
	}, nil
}

// Record is an accepted charge against the budget.
type Record = store.QuotaRecord

// Status is a read-only view of the active window.
type Status struct {
	Channel     string
	Cap         int64
	Used        int64
	Remaining   int64
	WindowStart time.Time
	WindowEnd   time.Time
	ResetIn     time.Duration
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock replaces the ledger's time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// Ledger charges quota for one channel.
type Ledger struct {
	mu       sync.Mutex
	store    Store
	settings Settings
	logger   *slog.Logger
	now      func() time.Time
}

// loggerFor stamps the channel through ctx so callers that already carry it
// do not log the field twice.
func (l *Ledger) loggerFor(ctx context.Context) *slog.Logger {
	return logging.WithContext(services.WithChannel(ctx, l.settings.Channel), l.logger)
}

// New builds a ledger over st.
func New(st Store, settings Settings, logger *slog.Logger, opts ...Option) (*Ledger, error) {
	if st == nil {
		return nil, services.Wrap(services.ErrConfiguration, "quota", "init", "store is required", nil)
	}
	if strings.TrimSpace(settings.Channel) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "quota", "init", "channel is required", nil)
	}
	if settings.DailyCap <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, "quota", "init",
			fmt.Sprintf("daily cap must be positive, got %d", settings.DailyCap), nil)
	}
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	l := &Ledger{
		store:    st,
		settings: settings,
		logger:   logging.NewComponentLogger(logger, "quota"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Settings returns the ledger configuration.
func (l *Ledger) Settings() Settings {
	return l.settings
}

// Cost returns the configured cost of an operation kind.
func (l *Ledger) Cost(operation string) int64 {
	return l.settings.Costs.Cost(operation)
}

// Window returns the reset window containing the ledger's current time.
func (l *Ledger) Window() (time.Time, time.Time) {
	return Window(l.now(), l.settings.Location, l.settings.ResetOffset)
}

// Consume charges cost units for operation. When the charge would push the
// window total past the cap it returns an *ExceededError and records nothing.
func (l *Ledger) Consume(ctx context.Context, operation string, cost int64) (Record, error) {
	operation = normalizeKind(operation)
	if operation == "" {
		return Record{}, services.Wrap(services.ErrValidation, "quota", "consume", "operation is required", nil)
	}
	if cost < 0 {
		return Record{}, services.Wrap(services.ErrValidation, "quota", operation,
			fmt.Sprintf("cost must be >= 0, got %d", cost), nil)
	}
	if err := ctx.Err(); err != nil {
		return Record{}, services.Wrap(services.ErrCancelled, "quota", operation, "consume aborted", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	start, end := Window(now, l.settings.Location, l.settings.ResetOffset)
	rec := Record{
		ID:          uuid.NewString(),
		Channel:     l.settings.Channel,
		Operation:   operation,
		Cost:        cost,
		RecordedAt:  now.UTC(),
		WindowStart: start.UTC(),
	}

	appended, used, err := l.store.AppendQuotaWithin(ctx, rec, end, l.settings.DailyCap)
	if err != nil {
		if services.IsCancelled(err) {
			return Record{}, services.Wrap(services.ErrCancelled, "quota", operation, "consume aborted", err)
		}
		return Record{}, services.Wrap(services.ErrTransient, "quota", operation, "append record", err)
	}
	if !appended {
		exceeded := &ExceededError{
			Channel:   l.settings.Channel,
			Operation: operation,
			Cost:      cost,
			Used:      used,
			Cap:       l.settings.DailyCap,
			ResetAt:   end,
		}
		l.loggerFor(ctx).Info("quota exceeded; operation deferred",
			logging.String(logging.FieldEventType, "quota_exceeded"),
			logging.String(logging.FieldOperation, operation),
			logging.Int64("cost", cost),
			logging.Int64("used", used),
			logging.Int64("cap", l.settings.DailyCap),
			logging.Time("reset_at", end),
		)
		return Record{}, exceeded
	}

	l.loggerFor(ctx).Debug("quota consumed",
		logging.String(logging.FieldEventType, "quota_consumed"),
		logging.String(logging.FieldOperation, operation),
		logging.String("record_id", rec.ID),
		logging.Int64("cost", cost),
		logging.Int64("used", used+cost),
		logging.Int64("remaining", l.settings.DailyCap-used-cost),
	)
	return rec, nil
}

// ConsumeOperation charges the configured cost for operation.
func (l *Ledger) ConsumeOperation(ctx context.Context, operation string) (Record, error) {
	return l.Consume(ctx, operation, l.Cost(operation))
}

// Refund appends a compensating record for rec. It is stamped at the original
// record's time so the credit lands in the same window. Refunding a record
// twice is a no-op.
func (l *Ledger) Refund(ctx context.Context, rec Record, reason string) error {
	if rec.ID == "" || rec.Cost == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	refund := Record{
		ID:          uuid.NewString(),
		Channel:     rec.Channel,
		Operation:   rec.Operation,
		Cost:        -rec.Cost,
		RecordedAt:  rec.RecordedAt,
		WindowStart: rec.WindowStart,
		RefID:       rec.ID,
	}
	written, err := l.store.AppendRefund(ctx, refund)
	if err != nil {
		return services.Wrap(services.ErrTransient, "quota", rec.Operation, "refund record", err)
	}
	if written {
		l.loggerFor(ctx).Info("quota refunded",
			logging.String(logging.FieldEventType, "quota_refunded"),
			logging.String(logging.FieldOperation, rec.Operation),
			logging.String("record_id", rec.ID),
			logging.Int64("cost", rec.Cost),
			logging.String("reason", reason),
		)
	}
	return nil
}

// Peek reports the active window's budget without changing ledger state.
func (l *Ledger) Peek(ctx context.Context) (Status, error) {
	now := l.now()
	start, end := Window(now, l.settings.Location, l.settings.ResetOffset)
	used, err := l.store.SumQuota(ctx, l.settings.Channel, start, end)
	if err != nil {
		return Status{}, services.Wrap(services.ErrTransient, "quota", "peek", "sum window", err)
	}
	remaining := l.settings.DailyCap - used
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		Channel:     l.settings.Channel,
		Cap:         l.settings.DailyCap,
		Used:        used,
		Remaining:   remaining,
		WindowStart: start,
		WindowEnd:   end,
		ResetIn:     end.Sub(now),
	}, nil
}

// History returns records at or after since, oldest first.
func (l *Ledger) History(ctx context.Context, since time.Time) ([]Record, error) {
	records, err := l.store.QuotaRecords(ctx, l.settings.Channel, since)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "quota", "history", "list records", err)
	}
	return records, nil
}

// DailyUsage sums history per window start, keyed by the window's local date.
func (l *Ledger) DailyUsage(ctx context.Context, days int) ([]DayUsage, error) {
	if days <= 0 {
		days = 1
	}
	start, _ := l.Window()
	since := start.AddDate(0, 0, -(days - 1))
	records, err := l.History(ctx, since)
	if err != nil {
		return nil, err
	}

	usage := make([]DayUsage, 0, days)
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		day := since.AddDate(0, 0, i)
		key := day.Format(time.DateOnly)
		index[key] = len(usage)
		usage = append(usage, DayUsage{Date: key, Cap: l.settings.DailyCap})
	}
	for _, rec := range records {
		recStart, _ := Window(rec.RecordedAt, l.settings.Location, l.settings.ResetOffset)
		key := recStart.Format(time.DateOnly)
		pos, ok := index[key]
		if !ok {
			continue
		}
		usage[pos].Used += rec.Cost
		if rec.Cost > 0 {
			usage[pos].Operations++
		}
	}
	return usage, nil
}

// DayUsage aggregates one reset window.
type DayUsage struct {
	Date       string
	Used       int64
	Cap        int64
	Operations int
}

// Prune deletes records older than the retention horizon. The active window
// is never touched regardless of retention.
func (l *Ledger) Prune(ctx context.Context) (int64, error) {
	if l.settings.RetentionDays <= 0 {
		return 0, nil
	}
	start, _ := l.Window()
	cutoff := start.AddDate(0, 0, -l.settings.RetentionDays)

	l.mu.Lock()
	removed, err := l.store.PruneQuotaRecords(ctx, l.settings.Channel, cutoff)
	l.mu.Unlock()
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "quota", "prune", "delete records", err)
	}
	if removed > 0 {
		l.loggerFor(ctx).Info("quota records pruned",
			logging.String(logging.FieldEventType, "quota_pruned"),
			logging.Int64("removed", removed),
			logging.Time("cutoff", cutoff),
		)
	}
	return removed, nil
}

// IsExceeded reports whether err is a quota rejection and returns its details.
func IsExceeded(err error) (*ExceededError, bool) {
	var exceeded *ExceededError
	if errors.As(err, &exceeded) {
		return exceeded, true
	}
	return nil, false
}
