package maintenance_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"tollgate/internal/logging"
	"tollgate/internal/maintenance"
	"tollgate/internal/notifications"
	"tollgate/internal/quota"
	"tollgate/internal/testsupport"
)

type countingPruner struct {
	calls   atomic.Int32
	removed int64
	err     error
	ran     chan struct{}
}

type recordingNotifier struct {
	events  []notifications.Event
	payload notifications.Payload
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.events = append(r.events, event)
	r.payload = payload
	return nil
}

func (p *countingPruner) Prune(context.Context) (int64, error) {
	if p.calls.Add(1) == 1 && p.ran != nil {
		close(p.ran)
	}
	return p.removed, p.err
}

func writeAged(t *testing.T, path string, age time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	when := time.Now().Add(-age)
	if err := os.Chtimes(path, when, when); err != nil {
		t.Fatal(err)
	}
}

func TestRunOncePrunesLedgerAndLogs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Logging.RetentionDays = 7
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	old := filepath.Join(cfg.Paths.LogDir, "tollgate.log.1")
	recent := filepath.Join(cfg.Paths.LogDir, "tollgate.log.2")
	active := logging.ActiveLogPath(cfg.Paths.LogDir)
	unrelated := filepath.Join(cfg.Paths.LogDir, "notes.txt")
	writeAged(t, old, 10*24*time.Hour)
	writeAged(t, recent, time.Hour)
	writeAged(t, active, 30*24*time.Hour)
	writeAged(t, unrelated, 30*24*time.Hour)

	pruner := &countingPruner{removed: 4}
	svc, err := maintenance.New(cfg, pruner, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	summary, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.RecordsPruned != 4 || summary.LogsRemoved != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("expected old log to be removed")
	}
	for _, keep := range []string{recent, active, unrelated} {
		if _, err := os.Stat(keep); err != nil {
			t.Fatalf("expected %s to remain: %v", keep, err)
		}
	}
}

func TestRunOnceReportsPruneFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	boom := errors.New("disk full")
	alerts := &recordingNotifier{}
	svc, err := maintenance.New(cfg, &countingPruner{err: boom}, logging.NewNop(), maintenance.WithNotifier(alerts))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := svc.RunOnce(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected prune error, got %v", err)
	}
	if len(alerts.events) != 1 || alerts.events[0] != notifications.EventMaintenanceFailed {
		t.Fatalf("expected a maintenance alert, got %v", alerts.events)
	}
	if msg, _ := alerts.payload["error"].(string); !strings.Contains(msg, "disk full") {
		t.Fatalf("alert should carry the error, got %q", msg)
	}
}

func TestRunOnceWithLedger(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Quota.RetentionDays = 1
	st := testsupport.MustOpenStore(t, cfg)
	clock := testsupport.NewClock(time.Date(2026, 5, 1, 19, 0, 0, 0, time.UTC))
	settings, err := quota.SettingsFromConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	ledger, err := quota.New(st, settings, logging.NewNop(), quota.WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := ledger.Consume(ctx, "upload", 1600); err != nil {
		t.Fatal(err)
	}
	clock.Advance(72 * time.Hour)
	if _, err := ledger.Consume(ctx, "upload", 1600); err != nil {
		t.Fatal(err)
	}

	svc, err := maintenance.New(cfg, ledger, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	summary, err := svc.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.RecordsPruned != 1 {
		t.Fatalf("expected the stale record pruned, got %d", summary.RecordsPruned)
	}
	status, err := ledger.Peek(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.Used != 1600 {
		t.Fatalf("active window must be untouched, used %d", status.Used)
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Quota.PruneSchedule = "whenever"
	if _, err := maintenance.New(cfg, nil, logging.NewNop()); err == nil {
		t.Fatal("expected schedule error")
	}
	if _, err := maintenance.New(nil, nil, logging.NewNop()); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestNextUsesQuotaTimezone(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithQuota(10000, "00:00", "Asia/Kolkata"))
	cfg.Quota.PruneSchedule = "30 2 * * *"
	svc, err := maintenance.New(cfg, nil, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	want := time.Date(2026, 5, 2, 2, 30, 0, 0, time.FixedZone("IST", 5*3600+1800))
	if got := svc.Next(now); !got.Equal(want) {
		t.Fatalf("next run %s, want %s", got, want)
	}
}

func TestStartRunsOnSchedule(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Quota.PruneSchedule = "@every 1s"
	pruner := &countingPruner{ran: make(chan struct{})}
	svc, err := maintenance.New(cfg, pruner, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.Start(ctx); err == nil {
		t.Fatal("expected error when already running")
	}
	select {
	case <-pruner.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled pass never ran")
	}
	svc.Stop()
	svc.Stop()
}

func TestCancelledStartDoesNotStopLaterRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Quota.PruneSchedule = "@every 1s"
	pruner := &countingPruner{ran: make(chan struct{})}
	svc, err := maintenance.New(cfg, pruner, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first, cancelFirst := context.WithCancel(context.Background())
	if err := svc.Start(first); err != nil {
		t.Fatalf("Start: %v", err)
	}
	svc.Stop()

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer svc.Stop()
	cancelFirst()
	time.Sleep(50 * time.Millisecond)

	if err := svc.Start(context.Background()); err == nil {
		t.Fatal("cancelling the first context must not stop the restarted scheduler")
	}
	select {
	case <-pruner.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("restarted scheduler never ran")
	}
}

func TestRunOncePrunesUsageHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ledger := &countingPruner{removed: 2}
	usage := &countingPruner{removed: 5}
	svc, err := maintenance.New(cfg, ledger, logging.NewNop(), maintenance.WithUsageHistory(usage))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	summary, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.RecordsPruned != 2 || summary.UsagePruned != 5 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	usage.err = errors.New("locked")
	alerts := &recordingNotifier{}
	svc, err = maintenance.New(cfg, ledger, logging.NewNop(), maintenance.WithUsageHistory(usage), maintenance.WithNotifier(alerts))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := svc.RunOnce(context.Background()); err == nil || !strings.Contains(err.Error(), "prune asset usage") {
		t.Fatalf("expected usage prune failure, got %v", err)
	}
	if ledger.calls.Load() != 2 {
		t.Fatalf("ledger prune should still run, calls=%d", ledger.calls.Load())
	}
	if len(alerts.events) != 1 {
		t.Fatalf("expected one maintenance alert, got %v", alerts.events)
	}
}
