package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeChannel()
	c.normalizeQuota()
	c.normalizePublisher()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeChannel() {
	c.Channel.Name = strings.TrimSpace(c.Channel.Name)
	if c.Channel.Name == "" {
		c.Channel.Name = defaultChannelName
	}
}

func (c *Config) normalizeQuota() {
	c.Quota.Timezone = strings.TrimSpace(c.Quota.Timezone)
	if c.Quota.Timezone == "" {
		c.Quota.Timezone = defaultTimezone
	}
	c.Quota.ResetTime = strings.TrimSpace(c.Quota.ResetTime)
	if c.Quota.ResetTime == "" {
		c.Quota.ResetTime = defaultResetTime
	}
	c.Quota.PruneSchedule = strings.TrimSpace(c.Quota.PruneSchedule)
	if c.Quota.PruneSchedule == "" {
		c.Quota.PruneSchedule = defaultPruneSchedule
	}
	if c.Quota.RetentionDays < 0 {
		c.Quota.RetentionDays = 0
	}
	costs := make(map[string]int64, len(c.Quota.Costs))
	for kind, cost := range c.Quota.Costs {
		normalized := strings.ToLower(strings.TrimSpace(kind))
		if normalized == "" {
			continue
		}
		costs[normalized] = cost
	}
	c.Quota.Costs = costs
}

func (c *Config) normalizePublisher() {
	c.Publisher.BaseURL = strings.TrimRight(strings.TrimSpace(c.Publisher.BaseURL), "/")
	c.Publisher.APIKey = strings.TrimSpace(c.Publisher.APIKey)
	if c.Publisher.APIKey == "" {
		if value, ok := os.LookupEnv(publisherAPIKeyEnvironment); ok {
			c.Publisher.APIKey = strings.TrimSpace(value)
		}
	}
	if c.Publisher.TimeoutSeconds <= 0 {
		c.Publisher.TimeoutSeconds = defaultPublisherTimeout
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
