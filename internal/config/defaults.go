package config

const (
	defaultDataDir             = "~/.local/share/tollgate"
	defaultLogDir              = "~/.local/share/tollgate/logs"
	defaultStagingDir          = "~/.local/share/tollgate/staging"
	defaultChannelName         = "default"
	defaultDailyCap            = 10000
	defaultResetTime           = "00:00"
	defaultTimezone            = "America/Los_Angeles"
	defaultOperationCost       = 1
	defaultQuotaRetentionDays  = 30
	defaultPruneSchedule       = "@daily"
	defaultFailureThreshold    = 5
	defaultCooldownSeconds     = 60
	defaultRetryMaxAttempts    = 5
	defaultRetryBaseDelayMS    = 2000
	defaultRetryMultiplier     = 2.0
	defaultRetryJitterMS       = 500
	defaultRetryMaxDelayMS     = 60000
	defaultMaxHoldSeconds      = 4.5
	defaultKeyWindow           = 5
	defaultMinReuseGap         = 3
	defaultSafetyBuffer        = 1.15
	defaultReuseHorizonDays    = 30
	defaultPublisherTimeout    = 300
	defaultPreflightMinFreeGB  = 5
	defaultNotifyTimeout       = 10
	defaultNotifyDedupWindow   = 600
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogRetentionDays    = 30
	publisherAPIKeyEnvironment = "TOLLGATE_PUBLISHER_API_KEY"
)

// defaultCosts mirrors the publishing platform's documented unit prices.
func defaultCosts() map[string]int64 {
	return map[string]int64{
		"upload":    1600,
		"update":    50,
		"comment":   50,
		"list":      1,
		"thumbnail": 0,
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			LogDir:     defaultLogDir,
			StagingDir: defaultStagingDir,
		},
		Channel: Channel{
			Name: defaultChannelName,
		},
		Quota: Quota{
			DailyCap:      defaultDailyCap,
			ResetTime:     defaultResetTime,
			Timezone:      defaultTimezone,
			DefaultCost:   defaultOperationCost,
			Costs:         defaultCosts(),
			RetentionDays: defaultQuotaRetentionDays,
			PruneSchedule: defaultPruneSchedule,
		},
		Breaker: Breaker{
			FailureThreshold: defaultFailureThreshold,
			CooldownSeconds:  defaultCooldownSeconds,
		},
		Retry: Retry{
			MaxAttempts: defaultRetryMaxAttempts,
			BaseDelayMS: defaultRetryBaseDelayMS,
			Multiplier:  defaultRetryMultiplier,
			JitterMS:    defaultRetryJitterMS,
			MaxDelayMS:  defaultRetryMaxDelayMS,
		},
		Scenes: Scenes{
			MaxHoldSeconds:   defaultMaxHoldSeconds,
			KeyLeading:       defaultKeyWindow,
			KeyMiddle:        defaultKeyWindow,
			KeyTrailing:      defaultKeyWindow,
			MinReuseGap:      defaultMinReuseGap,
			SafetyBuffer:     defaultSafetyBuffer,
			ReuseHorizonDays: defaultReuseHorizonDays,
		},
		Publisher: Publisher{
			TimeoutSeconds: defaultPublisherTimeout,
		},
		Preflight: Preflight{
			MinFreeGB: defaultPreflightMinFreeGB,
		},
		Notifications: Notifications{
			RequestTimeout:     defaultNotifyTimeout,
			Breaker:            true,
			Quota:              true,
			Preflight:          true,
			Errors:             true,
			DedupWindowSeconds: defaultNotifyDedupWindow,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
