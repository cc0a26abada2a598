package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateQuota(); err != nil {
		return err
	}
	if err := c.validateBreaker(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateScenes(); err != nil {
		return err
	}
	if err := c.validatePreflight(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateQuota() error {
	if c.Quota.DailyCap <= 0 {
		return errors.New("quota.daily_cap must be positive")
	}
	if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
		return fmt.Errorf("quota.timezone: unknown zone %q", c.Quota.Timezone)
	}
	if _, err := parseClock(c.Quota.ResetTime); err != nil {
		return err
	}
	if c.Quota.DefaultCost < 0 {
		return errors.New("quota.default_cost must be >= 0")
	}
	for kind, cost := range c.Quota.Costs {
		if cost < 0 {
			return fmt.Errorf("quota.costs.%s must be >= 0", kind)
		}
		if cost > c.Quota.DailyCap {
			return fmt.Errorf("quota.costs.%s exceeds quota.daily_cap", kind)
		}
	}
	if _, err := cron.ParseStandard(c.Quota.PruneSchedule); err != nil {
		return fmt.Errorf("quota.prune_schedule: %w", err)
	}
	return nil
}

func (c *Config) validateBreaker() error {
	if err := ensurePositiveMap(map[string]int{
		"breaker.failure_threshold": c.Breaker.FailureThreshold,
		"breaker.cooldown_seconds":  c.Breaker.CooldownSeconds,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxAttempts <= 0 {
		return errors.New("retry.max_attempts must be positive")
	}
	if c.Retry.BaseDelayMS < 0 {
		return errors.New("retry.base_delay_ms must be >= 0")
	}
	if c.Retry.Multiplier < 1 {
		return errors.New("retry.multiplier must be >= 1")
	}
	if c.Retry.JitterMS < 0 {
		return errors.New("retry.jitter_ms must be >= 0")
	}
	if c.Retry.MaxDelayMS <= 0 {
		return errors.New("retry.max_delay_ms must be positive")
	}
	if c.Retry.MaxDelayMS < c.Retry.BaseDelayMS {
		return errors.New("retry.max_delay_ms must be >= retry.base_delay_ms")
	}
	return nil
}

func (c *Config) validateScenes() error {
	if c.Scenes.MaxHoldSeconds <= 0 {
		return errors.New("scenes.max_hold_seconds must be positive")
	}
	if c.Scenes.KeyLeading < 0 || c.Scenes.KeyMiddle < 0 || c.Scenes.KeyTrailing < 0 {
		return errors.New("scenes.key_leading, scenes.key_middle and scenes.key_trailing must be >= 0")
	}
	if c.Scenes.MinReuseGap < 0 {
		return errors.New("scenes.min_reuse_gap must be >= 0")
	}
	if c.Scenes.SafetyBuffer < 1 {
		return errors.New("scenes.safety_buffer must be >= 1")
	}
	if c.Scenes.ReuseHorizonDays < 0 {
		return errors.New("scenes.reuse_horizon_days must be >= 0")
	}
	return nil
}

func (c *Config) validatePreflight() error {
	if c.Preflight.MinFreeGB < 0 {
		return errors.New("preflight.min_free_gb must be >= 0")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.DedupWindowSeconds < 0 {
		return errors.New("notifications.dedup_window_seconds must be >= 0")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
