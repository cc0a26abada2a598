package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	"tollgate/internal/config"
	"tollgate/internal/logging"
	"tollgate/internal/notifications"
)

// Pruner deletes ledger records that fell out of retention.
type Pruner interface {
	Prune(ctx context.Context) (int64, error)
}

// Summary reports one maintenance pass.
type Summary struct {
	RecordsPruned int64
	UsagePruned   int64
	LogsRemoved   int
	Duration      time.Duration
}

// Service schedules maintenance passes.
type Service struct {
	schedule     rcron.Schedule
	expr         string
	location     *time.Location
	pruner       Pruner
	usage        Pruner
	logDir       string
	logRetention int
	notifier     notifications.Service
	logger       *slog.Logger

	mu      sync.Mutex
	cron    *rcron.Cron
	done    chan struct{}
	running bool
}

// Option customizes a Service.
type Option func(*Service)

// WithNotifier replaces the ntfy service built from config.
func WithNotifier(n notifications.Service) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithUsageHistory also prunes asset usage history on every pass.
func WithUsageHistory(p Pruner) Option {
	return func(s *Service) {
		s.usage = p
	}
}

// New validates the schedule and builds a service. pruner may be nil when
// only log retention is wanted.
func New(cfg *config.Config, pruner Pruner, logger *slog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("maintenance: config is required")
	}
	schedule, err := rcron.ParseStandard(cfg.Quota.PruneSchedule)
	if err != nil {
		return nil, fmt.Errorf("maintenance: quota.prune_schedule: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("maintenance: %w", err)
	}
	svc := &Service{
		schedule:     schedule,
		expr:         cfg.Quota.PruneSchedule,
		location:     loc,
		pruner:       pruner,
		logDir:       cfg.Paths.LogDir,
		logRetention: cfg.Logging.RetentionDays,
		notifier:     notifications.NewService(cfg),
		logger:       logging.NewComponentLogger(logger, "maintenance"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Next returns the first scheduled run after now.
func (s *Service) Next(now time.Time) time.Time {
	return s.schedule.Next(now.In(s.location))
}

// RunOnce prunes the ledger, asset usage history and old logs.
func (s *Service) RunOnce(ctx context.Context) (Summary, error) {
	started := time.Now()
	var summary Summary
	var errs []error

	if s.pruner != nil {
		removed, err := s.pruner.Prune(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("prune ledger: %w", err))
		}
		summary.RecordsPruned = removed
	}
	if s.usage != nil {
		removed, err := s.usage.Prune(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("prune asset usage: %w", err))
		}
		summary.UsagePruned = removed
	}
	if s.logDir != "" {
		summary.LogsRemoved = logging.PruneLogs(s.logger, s.logDir, s.logRetention)
	}
	summary.Duration = time.Since(started)

	err := errors.Join(errs...)
	if err != nil {
		logging.WarnWithContext(s.logger, "maintenance pass incomplete", "maintenance_failed",
			logging.Error(err),
			logging.Int64("records_pruned", summary.RecordsPruned),
			logging.Int64("usage_pruned", summary.UsagePruned),
			logging.Int("logs_removed", summary.LogsRemoved),
			logging.String(logging.FieldImpact, "old ledger records remain until the next pass"),
			logging.String(logging.FieldErrorHint, "check database permissions and free space"),
		)
		if notifyErr := s.notifier.Publish(context.WithoutCancel(ctx), notifications.EventMaintenanceFailed, notifications.Payload{
			"error": err.Error(),
		}); notifyErr != nil {
			s.logger.Debug("maintenance alert not delivered", logging.Error(notifyErr))
		}
		return summary, err
	}
	s.logger.Info("maintenance pass complete",
		logging.String(logging.FieldEventType, "maintenance_complete"),
		logging.Int64("records_pruned", summary.RecordsPruned),
		logging.Int64("usage_pruned", summary.UsagePruned),
		logging.Int("logs_removed", summary.LogsRemoved),
		logging.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// Start schedules passes until ctx is done or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("maintenance already running")
	}

	c := rcron.New(rcron.WithLocation(s.location))
	c.Schedule(s.schedule, rcron.FuncJob(func() {
		_, _ = s.RunOnce(ctx)
	}))
	c.Start()
	done := make(chan struct{})
	s.cron = c
	s.done = done
	s.running = true

	s.logger.Info("maintenance scheduled",
		logging.String(logging.FieldEventType, "maintenance_started"),
		logging.String("schedule", s.expr),
		logging.Time("next_run", s.Next(time.Now())),
	)

	go func() {
		select {
		case <-ctx.Done():
			s.stop(c)
		case <-done:
		}
	}()
	return nil
}

// Stop halts scheduling and waits up to five seconds for a running pass.
func (s *Service) Stop() {
	s.stop(nil)
}

// stop halts the scheduler started with c, or the current one when c is nil.
// A scheduler from an earlier Start is never confused with a later one.
func (s *Service) stop(c *rcron.Cron) {
	s.mu.Lock()
	if s.cron == nil || (c != nil && s.cron != c) {
		s.mu.Unlock()
		return
	}
	c = s.cron
	close(s.done)
	s.cron = nil
	s.done = nil
	s.running = false
	s.mu.Unlock()

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		logging.WarnWithContext(s.logger, "stop timed out waiting for maintenance pass", "maintenance_stop_timeout",
			logging.String(logging.FieldImpact, "a pass may still be running"),
		)
	}
	s.logger.Info("maintenance stopped", logging.String(logging.FieldEventType, "maintenance_stopped"))
}
