package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	LogDir     string `toml:"log_dir"`
	StagingDir string `toml:"staging_dir"`
}

// Channel identifies the publishing identity the governor is scoped to.
type Channel struct {
	Name string `toml:"name"`
}

// Quota contains the daily publishing budget and its reset anchor.
type Quota struct {
	DailyCap      int64            `toml:"daily_cap"`
	ResetTime     string           `toml:"reset_time"`
	Timezone      string           `toml:"timezone"`
	DefaultCost   int64            `toml:"default_cost"`
	Costs         map[string]int64 `toml:"costs"`
	RetentionDays int              `toml:"retention_days"`
	PruneSchedule string           `toml:"prune_schedule"`
}

// Breaker contains circuit breaker thresholds for the publishing API.
type Breaker struct {
	FailureThreshold int `toml:"failure_threshold"`
	CooldownSeconds  int `toml:"cooldown_seconds"`
}

// Retry contains the backoff policy applied to publishing calls.
type Retry struct {
	MaxAttempts int     `toml:"max_attempts"`
	BaseDelayMS int     `toml:"base_delay_ms"`
	Multiplier  float64 `toml:"multiplier"`
	JitterMS    int     `toml:"jitter_ms"`
	MaxDelayMS  int     `toml:"max_delay_ms"`
}

// Scenes contains pacing and asset allocation knobs for pre-flight.
type Scenes struct {
	// MaxHoldSeconds caps how long a single visual may stay on screen.
	MaxHoldSeconds float64 `toml:"max_hold_seconds"`
	// KeyLeading, KeyMiddle and KeyTrailing size the windows of segments that
	// receive key (higher-fidelity) assets.
	KeyLeading  int `toml:"key_leading"`
	KeyMiddle   int `toml:"key_middle"`
	KeyTrailing int `toml:"key_trailing"`
	// MinReuseGap is the minimum index distance between two uses of one asset.
	MinReuseGap int `toml:"min_reuse_gap"`
	// SafetyBuffer scales the required asset count into the number content
	// services are asked to generate.
	SafetyBuffer float64 `toml:"safety_buffer"`
	// ReuseHorizonDays keeps assets used by earlier runs out of new timelines
	// for this many days. 0 disables the history filter.
	ReuseHorizonDays int `toml:"reuse_horizon_days"`
}

// Publisher contains connection settings for the publishing API adapter.
type Publisher struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Preflight contains thresholds for the pre-render gate.
type Preflight struct {
	MinFreeGB float64 `toml:"min_free_gb"`
}

// Notifications contains configuration for ntfy push alerts.
type Notifications struct {
	NtfyTopic          string `toml:"ntfy_topic"`
	RequestTimeout     int    `toml:"request_timeout"`
	Breaker            bool   `toml:"breaker"`
	Quota              bool   `toml:"quota"`
	Preflight          bool   `toml:"preflight"`
	Errors             bool   `toml:"errors"`
	DedupWindowSeconds int    `toml:"dedup_window_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for tollgate.
//
// Configuration sections by subsystem:
//   - Paths: data, log and render staging directories
//   - Channel: the publishing identity governed by this process
//   - Quota: daily cap, reset anchor, per-operation costs, pruning
//   - Breaker: failure threshold and cooldown for the publishing API
//   - Retry: backoff policy for transient publishing failures
//   - Scenes: visual hold cap, key windows, and asset reuse gap
//   - Publisher: publishing API endpoint and credentials
//   - Preflight: free-space threshold for the staging volume
//   - Notifications: ntfy alerts for breaker, quota and pre-flight events
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Channel       Channel       `toml:"channel"`
	Quota         Quota         `toml:"quota"`
	Breaker       Breaker       `toml:"breaker"`
	Retry         Retry         `toml:"retry"`
	Scenes        Scenes        `toml:"scenes"`
	Publisher     Publisher     `toml:"publisher"`
	Preflight     Preflight     `toml:"preflight"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/tollgate/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("tollgate.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for governor operation.
// The staging directory is created on a best-effort basis because it usually
// lives on the renderer's volume.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.StagingDir) != "" {
		_ = os.MkdirAll(c.Paths.StagingDir, 0o755)
	}
	return nil
}

// DatabasePath returns the SQLite file holding ledger and breaker state.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "governance.db")
}

// LockPath returns the per-channel lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "channel-"+lockSafeName(c.Channel.Name)+".lock")
}

// Location returns the timezone the quota window is anchored to.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Quota.Timezone)
	if err != nil {
		return nil, fmt.Errorf("quota.timezone: %w", err)
	}
	return loc, nil
}

// ResetOffset returns the reset time-of-day as an offset from local midnight.
func (c *Config) ResetOffset() (time.Duration, error) {
	return parseClock(c.Quota.ResetTime)
}

// CooldownDuration returns the breaker cooldown.
func (c *Config) CooldownDuration() time.Duration {
	return time.Duration(c.Breaker.CooldownSeconds) * time.Second
}

// MaxHold returns the maximum visual hold as a duration.
func (c *Config) MaxHold() time.Duration {
	return time.Duration(c.Scenes.MaxHoldSeconds * float64(time.Second))
}

// ReuseHorizon is how far back asset usage history is consulted.
func (c *Config) ReuseHorizon() time.Duration {
	return time.Duration(c.Scenes.ReuseHorizonDays) * 24 * time.Hour
}

// OperationCost returns the configured quota cost for an operation kind.
func (c *Config) OperationCost(kind string) int64 {
	if cost, ok := c.Quota.Costs[strings.ToLower(strings.TrimSpace(kind))]; ok {
		return cost
	}
	return c.Quota.DefaultCost
}

func parseClock(value string) (time.Duration, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	layouts := []string{"15:04", "15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("quota.reset_time: invalid time of day %q (want HH:MM)", value)
}

func lockSafeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
