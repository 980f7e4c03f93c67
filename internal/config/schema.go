// Package config provides configuration loading and validation for the
// tfreaper daemon. It supports TOML configuration files with environment
// variable expansion, default values, and comprehensive validation.
//
// Configuration structure:
//   - [daemon]: state directory and database location
//   - [discovery]: scan roots, traversal limits, rescan schedule
//   - [scheduler]: job ceiling, retry policy, warning thresholds
//   - [executor]: destroy command, concurrency ceiling, timeouts
//   - [docker]: container execution of the destroy command
//   - [notifications]: desktop popups and sink type filters
//   - [telegram]: telegram bot sink
//   - [metrics]: prometheus listener
//   - [retention]: event/execution history pruning
//   - [logging]: level, format, and output
//
// Environment variables can be referenced using ${VAR} or ${VAR:default}
// syntax. For example: token = "${TFREAPER_TELEGRAM_TOKEN}"
package config

import (
	"path/filepath"
	"time"

	"github.com/aatumaykin/tfreaper/internal/duration"
)

// Config represents the main daemon configuration.
type Config struct {
	Daemon        DaemonConfig        `toml:"daemon"`
	Discovery     DiscoveryConfig     `toml:"discovery"`
	Scheduler     SchedulerConfig     `toml:"scheduler"`
	Executor      ExecutorConfig      `toml:"executor"`
	Docker        DockerConfig        `toml:"docker"`
	Notifications NotificationsConfig `toml:"notifications"`
	Telegram      TelegramConfig      `toml:"telegram"`
	Metrics       MetricsConfig       `toml:"metrics"`
	Retention     RetentionConfig     `toml:"retention"`
	Logging       LoggingConfig       `toml:"logging"`
}

// DaemonConfig locates the daemon's persistent state.
type DaemonConfig struct {
	StateDir string `toml:"state_dir"`
}

// DatabasePath returns the SQLite database location inside the state dir.
func (c *DaemonConfig) DatabasePath() string {
	return filepath.Join(c.StateDir, "tfreaper.db")
}

// DiscoveryConfig controls where and how project files are found.
type DiscoveryConfig struct {
	Roots          []string `toml:"roots"`
	MaxDepth       int      `toml:"max_depth"`
	Exclusions     []string `toml:"exclusions"`
	BatchSize      int      `toml:"batch_size"`
	DefaultTimeout string   `toml:"default_timeout"`
	RescanSchedule string   `toml:"rescan_schedule"`
	// DisableWatch turns off the fsnotify fast path; periodic rescans keep
	// running regardless.
	DisableWatch bool `toml:"disable_watch"`
}

// Timeout returns the fallback destroy delay applied when a project file's
// timeout does not parse.
func (c *DiscoveryConfig) Timeout() time.Duration {
	d, err := duration.Parse(c.DefaultTimeout)
	if err != nil {
		return 2 * time.Hour
	}
	return d
}

// SchedulerConfig tunes the timer core.
type SchedulerConfig struct {
	MaxJobs      int    `toml:"max_jobs"`
	MaxRetries   int    `toml:"max_retries"`
	RetryBackoff string `toml:"retry_backoff"`
	// WarningThresholds are minutes before destruction; empty uses the
	// built-in 60/15/5/1 ladder.
	WarningThresholds []int `toml:"warning_thresholds"`
}

// Backoff returns the parsed retry backoff.
func (c *SchedulerConfig) Backoff() time.Duration {
	return goDuration(c.RetryBackoff, 5*time.Minute)
}

// Thresholds converts the configured minutes to durations. An empty result
// means the scheduler's default ladder applies.
func (c *SchedulerConfig) Thresholds() []time.Duration {
	out := make([]time.Duration, 0, len(c.WarningThresholds))
	for _, m := range c.WarningThresholds {
		if m > 0 {
			out = append(out, time.Duration(m)*time.Minute)
		}
	}
	return out
}

// ExecutorConfig controls how destroy commands run.
type ExecutorConfig struct {
	Command     string `toml:"command"`
	Concurrency int    `toml:"concurrency"`
	// Timeout is a wall-clock limit per run; empty means none.
	Timeout     string            `toml:"timeout"`
	GracePeriod string            `toml:"grace_period"`
	Environment map[string]string `toml:"environment"`
}

// RunTimeout returns the per-run wall-clock limit, zero when unset.
func (c *ExecutorConfig) RunTimeout() time.Duration {
	return goDuration(c.Timeout, 0)
}

// Grace returns the SIGTERM-to-SIGKILL gap.
func (c *ExecutorConfig) Grace() time.Duration {
	return goDuration(c.GracePeriod, 10*time.Second)
}

// DockerConfig switches destroy execution into a container.
type DockerConfig struct {
	Enabled    bool   `toml:"enabled"`
	Image      string `toml:"image"`
	PullPolicy string `toml:"pull_policy"`
}

// NotificationsConfig covers the alert sinks.
type NotificationsConfig struct {
	Desktop DesktopConfig `toml:"desktop"`
	// Types narrows which notification kinds reach the alert sinks; empty
	// uses the built-in alert set.
	Types []string `toml:"types"`
}

// DesktopConfig tunes desktop popups.
type DesktopConfig struct {
	Enabled       bool `toml:"enabled"`
	RatePerMinute int  `toml:"rate_per_minute"`
	Burst         int  `toml:"burst"`
}

// TelegramConfig configures the Telegram sink.
type TelegramConfig struct {
	Enabled bool   `toml:"enabled"`
	Token   string `toml:"token"`
	ChatID  int64  `toml:"chat_id"`
	Quiet   bool   `toml:"quiet"`
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// RetentionConfig prunes old history rows.
type RetentionConfig struct {
	Enabled          bool   `toml:"enabled"`
	Interval         string `toml:"interval"`
	EventTTLDays     int    `toml:"event_ttl_days"`
	ExecutionTTLDays int    `toml:"execution_ttl_days"`
}

// SweepInterval returns the parsed gap between retention sweeps.
func (c *RetentionConfig) SweepInterval() time.Duration {
	return goDuration(c.Interval, time.Hour)
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
}

// goDuration parses a Go duration string, returning the fallback for empty
// or invalid input. Validation has already reported bad values by the time
// accessors run.
func goDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
