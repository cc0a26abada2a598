package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"tollgate/internal/config"
)

const userAgent = "Tollgate/0.1.0"

// Event identifies an alert type.
type Event string

const (
	EventBreakerOpened      Event = "breaker_opened"
	EventBreakerClosed      Event = "breaker_closed"
	EventQuotaExhausted     Event = "quota_exhausted"
	EventAssetsInsufficient Event = "assets_insufficient"
	EventMaintenanceFailed  Event = "maintenance_failed"
	EventTest               Event = "test"
)

// Payload carries event fields. Values are rendered with %v.
type Payload map[string]any

// Service delivers alerts.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// Option customizes the ntfy service.
type Option func(*ntfyService)

// WithClock replaces the time source used for deduplication.
func WithClock(now func() time.Time) Option {
	return func(n *ntfyService) {
		if now != nil {
			n.now = now
		}
	}
}

// NewService builds an ntfy-backed service, or a no-op when no topic is set.
func NewService(cfg *config.Config, opts ...Option) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	svc := &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		cfg:      cfg.Notifications,
		dedup:    time.Duration(cfg.Notifications.DedupWindowSeconds) * time.Second,
		sent:     make(map[string]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	cfg      config.Notifications
	dedup    time.Duration
	now      func() time.Time

	mu   sync.Mutex
	sent map[string]time.Time
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || n.client == nil || !n.enabled(event) {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	key := string(event) + ":" + payload.text("channel")
	if !n.claim(event, key) {
		return nil
	}
	if err := n.send(ctx, msg); err != nil {
		n.release(key)
		return err
	}
	return nil
}

func (n *ntfyService) enabled(event Event) bool {
	switch event {
	case EventBreakerOpened, EventBreakerClosed:
		return n.cfg.Breaker
	case EventQuotaExhausted:
		return n.cfg.Quota
	case EventAssetsInsufficient:
		return n.cfg.Preflight
	case EventMaintenanceFailed:
		return n.cfg.Errors
	default:
		return true
	}
}

// claim reports whether key may be sent now and records the send. A closing
// breaker clears the matching open alert so the next outage is reported.
func (n *ntfyService) claim(event Event, key string) bool {
	if n.dedup <= 0 || event == EventTest {
		return true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	if last, ok := n.sent[key]; ok && now.Sub(last) < n.dedup {
		return false
	}
	n.sent[key] = now
	if event == EventBreakerClosed {
		delete(n.sent, string(EventBreakerOpened)+strings.TrimPrefix(key, string(EventBreakerClosed)))
	}
	if event == EventBreakerOpened {
		delete(n.sent, string(EventBreakerClosed)+strings.TrimPrefix(key, string(EventBreakerOpened)))
	}
	return true
}

func (n *ntfyService) release(key string) {
	n.mu.Lock()
	delete(n.sent, key)
	n.mu.Unlock()
}

func format(event Event, p Payload) (message, bool) {
	channel := p.text("channel")
	switch event {
	case EventBreakerOpened:
		body := fmt.Sprintf("⛔ Publishing paused for %s after %s consecutive failures", channel, p.text("failures"))
		if retryAt := p.text("retry_at"); retryAt != "" {
			body += "\nNext probe: " + retryAt
		}
		return message{
			title:    "Tollgate - Circuit Open",
			body:     body,
			tags:     []string{"tollgate", "breaker", "open"},
			priority: "high",
		}, true
	case EventBreakerClosed:
		return message{
			title: "Tollgate - Circuit Closed",
			body:  fmt.Sprintf("✅ Publishing resumed for %s", channel),
			tags:  []string{"tollgate", "breaker", "closed"},
		}, true
	case EventQuotaExhausted:
		body := fmt.Sprintf("⏳ Quota exhausted for %s: %s needs %s units, %s of %s left",
			channel, p.text("operation"), p.text("cost"), p.text("remaining"), p.text("cap"))
		if resetAt := p.text("reset_at"); resetAt != "" {
			body += "\nResets: " + resetAt
		}
		return message{
			title: "Tollgate - Quota Exhausted",
			body:  body,
			tags:  []string{"tollgate", "quota", "exhausted"},
		}, true
	case EventAssetsInsufficient:
		return message{
			title: "Tollgate - Pre-flight Failed",
			body: fmt.Sprintf("🖼️ Not enough assets: need %s, have %s (short %s)",
				p.text("required"), p.text("available"), p.text("shortfall")),
			tags: []string{"tollgate", "preflight", "assets"},
		}, true
	case EventMaintenanceFailed:
		return message{
			title:    "Tollgate - Maintenance Error",
			body:     "❌ Maintenance failed: " + p.text("error"),
			tags:     []string{"tollgate", "maintenance", "error"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Tollgate - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"tollgate", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (p Payload) text(key string) string {
	if p == nil {
		return ""
	}
	value, ok := p[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
