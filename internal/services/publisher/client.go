package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tollgate/internal/config"
	"tollgate/internal/quota"
	"tollgate/internal/services"
)

const (
	defaultHTTPTimeout = 300 * time.Second
	maxErrorBody       = 4 << 10
	component          = "publisher"
)

// Config captures the runtime settings required to talk to the platform.
type Config struct {
	BaseURL        string
	APIKey         string
	TimeoutSeconds int
	Costs          quota.CostTable
}

// ConfigFromConfig reads the [publisher] and [quota.costs] sections.
func ConfigFromConfig(cfg *config.Config) Config {
	return Config{
		BaseURL:        cfg.Publisher.BaseURL,
		APIKey:         cfg.Publisher.APIKey,
		TimeoutSeconds: cfg.Publisher.TimeoutSeconds,
		Costs:          quota.NewCostTable(cfg.Quota.Costs, cfg.Quota.DefaultCost),
	}
}

// Request is one publishing operation.
type Request struct {
	// Operation is the cost-table kind, e.g. "upload".
	Operation string
	// IdempotencyKey lets the platform collapse duplicate submissions of the
	// same logical operation across retries.
	IdempotencyKey string
	Payload        json.RawMessage
	Metadata       map[string]string
}

// HTTPDoer describes the HTTP client used by the publisher.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client wraps the publishing platform's operation endpoint.
type Client struct {
	cfg        Config
	httpClient HTTPDoer
	now        func() time.Time
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client HTTPDoer) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithClock overrides the clock used to resolve HTTP-date Retry-After values.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient constructs a publisher client.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Cost returns the quota units charged for an operation kind.
func (c *Client) Cost(kind string) int64 {
	return c.cfg.Costs.Cost(kind)
}

// Publish submits one operation and classifies the outcome.
func (c *Client) Publish(ctx context.Context, req Request) error {
	op := strings.ToLower(strings.TrimSpace(req.Operation))
	if op == "" {
		return services.Wrap(services.ErrValidation, component, "publish", "operation required", nil)
	}
	if err := c.ready(op); err != nil {
		return err
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "v1", "operations", op)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, component, op, "build url", err)
	}
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	encoded, err := json.Marshal(operationBody{
		Operation: op,
		Payload:   payload,
		Metadata:  req.Metadata,
	})
	if err != nil {
		return services.Wrap(services.ErrValidation, component, op, "encode body", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return services.Wrap(services.ErrValidation, component, op, "new request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		httpReq.Header.Set("Idempotency-Key", key)
	}
	if attempt, ok := services.AttemptFromContext(ctx); ok {
		httpReq.Header.Set("X-Attempt", strconv.Itoa(attempt))
	}
	return c.do(ctx, httpReq, op)
}

// HealthCheck verifies the platform is reachable and the API key is accepted.
// It spends no quota.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.ready("health"); err != nil {
		return err
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "v1", "health")
	if err != nil {
		return services.Wrap(services.ErrConfiguration, component, "health", "build url", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return services.Wrap(services.ErrValidation, component, "health", "new request", err)
	}
	c.authorize(httpReq)
	return c.do(ctx, httpReq, "health")
}

type operationBody struct {
	Operation string            `json:"operation"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (c *Client) ready(op string) error {
	if c.cfg.BaseURL == "" {
		return services.Wrap(services.ErrConfiguration, component, op, "base url required", nil)
	}
	if c.cfg.APIKey == "" {
		return services.Wrap(services.ErrConfiguration, component, op, "api key required", nil)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
}

func (c *Client) do(ctx context.Context, req *http.Request, op string) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return services.Wrap(services.ErrCancelled, component, op, "request aborted", ctx.Err())
		}
		// The caller's context is still live, so a deadline here is the
		// client's own timeout and must stay transient.
		return services.Wrap(services.ErrTransient, component, op, "http error", newTransportError(err))
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}
	statusErr := &StatusError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
	if wait, ok := parseRetryAfter(resp.Header.Get("Retry-After"), c.now()); ok {
		statusErr.Wait = wait
	}
	return services.Wrap(classifyStatus(resp.StatusCode), component, op, "", statusErr)
}

func classifyStatus(code int) error {
	switch {
	case code == http.StatusRequestTimeout,
		code == http.StatusTooManyRequests,
		code >= http.StatusInternalServerError:
		return services.ErrTransient
	default:
		return services.ErrPermanent
	}
}

// IsStatus reports whether err carries a platform response with the given code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}

func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := when.Sub(now)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
