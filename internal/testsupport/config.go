package testsupport

import (
	"path/filepath"
	"testing"

	"tollgate/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Retry delays are zeroed so governed calls never sleep unless a test opts in.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StagingDir = filepath.Join(base, "staging")
	cfgVal.Channel.Name = "test-channel"
	cfgVal.Retry.BaseDelayMS = 0
	cfgVal.Retry.JitterMS = 0
	cfgVal.Retry.MaxDelayMS = 1
	cfgVal.Publisher.APIKey = "test"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithChannel overrides the governed channel name.
func WithChannel(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Channel.Name = name
	}
}

// WithQuota sets the daily cap, reset time-of-day and timezone.
func WithQuota(dailyCap int64, resetTime, timezone string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Quota.DailyCap = dailyCap
		b.cfg.Quota.ResetTime = resetTime
		b.cfg.Quota.Timezone = timezone
	}
}

// WithBreaker sets the failure threshold and cooldown.
func WithBreaker(threshold, cooldownSeconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Breaker.FailureThreshold = threshold
		b.cfg.Breaker.CooldownSeconds = cooldownSeconds
	}
}

// WithPublisherURL points the publisher adapter at a test server.
func WithPublisherURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Publisher.BaseURL = url
	}
}

// WithNtfyTopic enables notifications against a test endpoint.
func WithNtfyTopic(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = url
	}
}
