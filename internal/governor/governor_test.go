package governor_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"tollgate/internal/breaker"
	"tollgate/internal/config"
	"tollgate/internal/governor"
	"tollgate/internal/logging"
	"tollgate/internal/notifications"
	"tollgate/internal/quota"
	"tollgate/internal/services"
	"tollgate/internal/testsupport"
)

var errFlaky = services.Wrap(services.ErrTransient, "fake", "upload", "http 503", nil)

type fakePublisher struct {
	mu       sync.Mutex
	results  []error
	fallback error
	calls    int
	requests []governor.Request
	started  chan struct{}
}

func (f *fakePublisher) Cost(kind string) int64 {
	switch kind {
	case "upload":
		return 1600
	case "comment":
		return 50
	default:
		return 1
	}
}

func (f *fakePublisher) Publish(ctx context.Context, req governor.Request) error {
	f.mu.Lock()
	f.calls++
	f.requests = append(f.requests, req)
	started := f.started
	var result error
	if len(f.results) > 0 {
		result = f.results[0]
		f.results = f.results[1:]
	} else {
		result = f.fallback
	}
	f.mu.Unlock()

	if started != nil {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	return result
}

func (f *fakePublisher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func openGovernor(t *testing.T, cfg *config.Config, clock *testsupport.Clock, pub governor.Publisher, opts ...governor.Option) *governor.Governor {
	t.Helper()
	opts = append([]governor.Option{
		governor.WithClock(clock.Now),
		governor.WithSleeper(noSleep),
		governor.WithPublisher(pub),
	}, opts...)
	g, err := governor.Open(context.Background(), cfg, logging.NewNop(), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func newClock() *testsupport.Clock {
	return testsupport.NewClock(time.Date(2026, 5, 1, 19, 0, 0, 0, time.UTC))
}

func TestPublishChargesUntilCap(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithQuota(10000, "00:00", "America/Los_Angeles"))
	pub := &fakePublisher{}
	g := openGovernor(t, cfg, newClock(), pub)
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		receipt, err := g.Publish(ctx, governor.Request{Operation: "upload"})
		if err != nil {
			t.Fatalf("upload %d: %v", i, err)
		}
		if receipt.Charged != 1600 || receipt.Attempts != 1 || receipt.RunID == "" {
			t.Fatalf("upload %d: unexpected receipt %+v", i, receipt)
		}
	}

	receipt, err := g.Publish(ctx, governor.Request{Operation: "upload"})
	if !errors.Is(err, quota.ErrExceeded) {
		t.Fatalf("expected quota exceeded on 7th upload, got %v", err)
	}
	if services.Disposition(err) != services.ActionDefer {
		t.Fatalf("expected defer disposition, got %s", services.Disposition(err))
	}
	if receipt.Charged != 0 || receipt.Attempts != 1 {
		t.Fatalf("rejected call must not charge or retry: %+v", receipt)
	}
	if pub.Calls() != 6 {
		t.Fatalf("publisher called %d times, want 6", pub.Calls())
	}

	health, err := g.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if health.Quota.Used != 9600 || health.Quota.Remaining != 400 {
		t.Fatalf("unexpected quota after rejection: %+v", health.Quota)
	}
	if health.Breaker.State != breaker.Closed || health.Breaker.Failures != 0 {
		t.Fatalf("quota rejection must not touch the breaker: %+v", health.Breaker)
	}

	if _, err := g.Publish(ctx, governor.Request{Operation: "comment"}); err != nil {
		t.Fatalf("a cheaper operation should still fit: %v", err)
	}
}

func TestPublishRetriesTransientFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	pub := &fakePublisher{results: []error{errFlaky, errFlaky, nil}}
	g := openGovernor(t, cfg, newClock(), pub)

	receipt, err := g.Publish(context.Background(), governor.Request{Operation: "upload", IdempotencyKey: "video-7"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if receipt.Attempts != 3 || pub.Calls() != 3 {
		t.Fatalf("expected 3 attempts, got receipt %+v calls %d", receipt, pub.Calls())
	}
	if receipt.Charged != 3*1600 {
		t.Fatalf("each attempt is charged, got %d", receipt.Charged)
	}
	for _, req := range pub.requests {
		if req.IdempotencyKey != "video-7" || req.Operation != "upload" {
			t.Fatalf("unexpected request forwarded: %+v", req)
		}
	}
	if snap := g.Breaker().Snapshot(); snap.State != breaker.Closed || snap.Failures != 0 {
		t.Fatalf("success should reset the failure counter: %+v", snap)
	}
}

func TestPublishDefaultsIdempotencyKeyToRunID(t *testing.T) {
	pub := &fakePublisher{}
	g := openGovernor(t, testsupport.NewConfig(t), newClock(), pub)

	receipt, err := g.Publish(context.Background(), governor.Request{Operation: " Comment "})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if receipt.Operation != "comment" || receipt.Cost != 50 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	if pub.requests[0].IdempotencyKey != receipt.RunID {
		t.Fatalf("expected run id as idempotency key, got %q", pub.requests[0].IdempotencyKey)
	}
}

func TestPublishPermanentFailureIsNotRetried(t *testing.T) {
	permanent := services.Wrap(services.ErrPermanent, "fake", "upload", "http 400", nil)
	pub := &fakePublisher{fallback: permanent}
	g := openGovernor(t, testsupport.NewConfig(t), newClock(), pub)

	receipt, err := g.Publish(context.Background(), governor.Request{Operation: "upload"})
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if services.Disposition(err) != services.ActionFail {
		t.Fatalf("expected fail disposition, got %s", services.Disposition(err))
	}
	if receipt.Attempts != 1 || pub.Calls() != 1 {
		t.Fatalf("permanent failure retried: %+v", receipt)
	}
	if snap := g.Breaker().Snapshot(); snap.Failures != 0 {
		t.Fatalf("permanent failures must not trip the breaker: %+v", snap)
	}
}

func TestPublishOpensCircuit(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBreaker(2, 60))
	clock := newClock()
	pub := &fakePublisher{fallback: errFlaky}
	g := openGovernor(t, cfg, clock, pub)
	ctx := context.Background()

	receipt, err := g.Publish(ctx, governor.Request{Operation: "upload"})
	if !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("expected circuit open after threshold, got %v", err)
	}
	if receipt.Attempts != 3 || pub.Calls() != 2 {
		t.Fatalf("expected 2 calls then a rejected attempt, got receipt %+v calls %d", receipt, pub.Calls())
	}
	if receipt.Charged != 2*1600 {
		t.Fatalf("rejected attempt must not be charged, got %d", receipt.Charged)
	}

	before, err := g.Ledger().Peek(ctx)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	_, err = g.Publish(ctx, governor.Request{Operation: "upload"})
	if services.Disposition(err) != services.ActionBackoff {
		t.Fatalf("expected backoff disposition while open, got %v", err)
	}
	after, err := g.Ledger().Peek(ctx)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if after.Used != before.Used || pub.Calls() != 2 {
		t.Fatal("an open circuit must not spend quota or call the publisher")
	}

	health, err := g.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if health.Breaker.State != breaker.Open || !health.RetryAt.Equal(clock.Now().Add(time.Minute)) {
		t.Fatalf("unexpected health: %+v", health)
	}

	clock.Advance(time.Minute)
	pub.mu.Lock()
	pub.fallback = nil
	pub.mu.Unlock()
	if _, err := g.Publish(ctx, governor.Request{Operation: "upload"}); err != nil {
		t.Fatalf("probe after cooldown: %v", err)
	}
	if snap := g.Breaker().Snapshot(); snap.State != breaker.Closed {
		t.Fatalf("successful probe should close the circuit: %+v", snap)
	}
}

func TestPublishCancelledRefundsQuota(t *testing.T) {
	pub := &fakePublisher{started: make(chan struct{})}
	g := openGovernor(t, testsupport.NewConfig(t), newClock(), pub)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-pub.started
		cancel()
	}()
	receipt, err := g.Publish(ctx, governor.Request{Operation: "upload"})
	if !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if services.Disposition(err) != services.ActionAbort {
		t.Fatalf("expected abort disposition, got %s", services.Disposition(err))
	}
	if receipt.Charged != 0 || receipt.Attempts != 1 {
		t.Fatalf("cancelled attempt should be refunded: %+v", receipt)
	}
	status, err := g.Ledger().Peek(context.Background())
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if status.Used != 0 {
		t.Fatalf("expected no net quota after cancellation, used %d", status.Used)
	}
	if snap := g.Breaker().Snapshot(); snap.Failures != 0 || snap.State != breaker.Closed {
		t.Fatalf("cancellation must not touch the breaker: %+v", snap)
	}
}

func TestPublishValidatesOperation(t *testing.T) {
	pub := &fakePublisher{}
	g := openGovernor(t, testsupport.NewConfig(t), newClock(), pub)
	if _, err := g.Publish(context.Background(), governor.Request{Operation: "  "}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if pub.Calls() != 0 {
		t.Fatal("publisher should not be called")
	}
}

func TestOpenLocksChannel(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	clock := newClock()
	first := openGovernor(t, cfg, clock, &fakePublisher{})

	_, err := governor.Open(context.Background(), cfg, logging.NewNop(), governor.WithPublisher(&fakePublisher{}))
	if !errors.Is(err, governor.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	inspect := openGovernor(t, cfg, clock, &fakePublisher{}, governor.WithoutLock())
	if inspect.Channel() != "test-channel" {
		t.Fatalf("unexpected channel %q", inspect.Channel())
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	openGovernor(t, cfg, clock, &fakePublisher{})
}

func TestStateSurvivesRestart(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBreaker(1, 300))
	clock := newClock()

	g := openGovernor(t, cfg, clock, &fakePublisher{results: []error{nil, errFlaky}})
	ctx := context.Background()
	if _, err := g.Publish(ctx, governor.Request{Operation: "upload"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := g.Publish(ctx, governor.Request{Operation: "upload"}); !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	restarted := openGovernor(t, cfg, clock, &fakePublisher{})
	health, err := restarted.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if health.Quota.Used != 3200 {
		t.Fatalf("expected 3200 units restored, got %d", health.Quota.Used)
	}
	if health.Breaker.State != breaker.Open {
		t.Fatalf("expected open circuit restored, got %s", health.Breaker.State)
	}
	if _, err := restarted.Publish(ctx, governor.Request{Operation: "upload"}); !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("restored circuit should reject, got %v", err)
	}

	if err := restarted.Breaker().Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := restarted.Publish(ctx, governor.Request{Operation: "upload"}); err != nil {
		t.Fatalf("publish after reset: %v", err)
	}
}

func TestNewRequiresParts(t *testing.T) {
	if _, err := governor.New(nil, nil, nil, nil, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if governor.ResourceName(" Main ") != "publisher:main" {
		t.Fatalf("unexpected resource name %q", governor.ResourceName(" Main "))
	}
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
	last   notifications.Payload
}

func (f *fakeNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	f.last = payload
	return nil
}

func (f *fakeNotifier) Events() []notifications.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notifications.Event(nil), f.events...)
}

func TestPublishAlertsOnBreakerTransitions(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBreaker(2, 60))
	clock := newClock()
	pub := &fakePublisher{fallback: errFlaky}
	notifier := &fakeNotifier{}
	g := openGovernor(t, cfg, clock, pub, governor.WithNotifier(notifier))
	ctx := context.Background()

	_, _ = g.Publish(ctx, governor.Request{Operation: "comment"})
	_, _ = g.Publish(ctx, governor.Request{Operation: "comment"})
	if got := notifier.Events(); len(got) != 1 || got[0] != notifications.EventBreakerOpened {
		t.Fatalf("expected a single open alert, got %v", got)
	}

	clock.Advance(time.Minute)
	pub.mu.Lock()
	pub.fallback = nil
	pub.mu.Unlock()
	if _, err := g.Publish(ctx, governor.Request{Operation: "comment"}); err != nil {
		t.Fatalf("probe after cooldown: %v", err)
	}
	got := notifier.Events()
	if len(got) != 2 || got[1] != notifications.EventBreakerClosed {
		t.Fatalf("expected close alert after probe, got %v", got)
	}
}

func TestPublishAlertsOnQuotaExhaustion(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithQuota(1600, "00:00", "UTC"))
	notifier := &fakeNotifier{}
	g := openGovernor(t, cfg, newClock(), &fakePublisher{}, governor.WithNotifier(notifier))
	ctx := context.Background()

	if _, err := g.Publish(ctx, governor.Request{Operation: "upload"}); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if len(notifier.Events()) != 0 {
		t.Fatalf("no alert expected while under the cap, got %v", notifier.Events())
	}
	if _, err := g.Publish(ctx, governor.Request{Operation: "upload"}); !errors.Is(err, quota.ErrExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
	got := notifier.Events()
	if len(got) != 1 || got[0] != notifications.EventQuotaExhausted {
		t.Fatalf("expected quota alert, got %v", got)
	}
	notifier.mu.Lock()
	remaining := notifier.last["remaining"]
	notifier.mu.Unlock()
	if remaining != int64(0) {
		t.Fatalf("unexpected remaining in alert: %v", remaining)
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestPublishLogsChannelOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	out := &lockedBuffer{}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	clock := newClock()
	g, err := governor.Open(context.Background(), cfg, logger,
		governor.WithClock(clock.Now),
		governor.WithSleeper(noSleep),
		governor.WithPublisher(&fakePublisher{results: []error{errFlaky}}),
	)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })

	if _, err := g.Publish(context.Background(), governor.Request{Operation: "upload"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	stamped := 0
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		switch n := strings.Count(line, "channel=test-channel"); {
		case n > 1:
			t.Fatalf("channel logged %d times: %s", n, line)
		case n == 1:
			stamped++
		}
	}
	if stamped == 0 {
		t.Fatalf("expected channel on governed log lines, got:\n%s", out.String())
	}
}
