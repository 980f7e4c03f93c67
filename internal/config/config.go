package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"

	"github.com/aatumaykin/tfreaper/internal/duration"
	"github.com/aatumaykin/tfreaper/internal/notify"
)

// Load reads, defaults and expands a TOML configuration file. Validation is
// a separate step so callers can report every problem at once.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	expandEnvVars(&cfg)

	return &cfg, nil
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() []error {
	var errs []error

	if len(c.Discovery.Roots) == 0 {
		errs = append(errs, fmt.Errorf("discovery.roots is required"))
	}
	for _, root := range c.Discovery.Roots {
		if err := validatePath(root, "discovery.roots"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Discovery.MaxDepth < 1 {
		errs = append(errs, fmt.Errorf("discovery.max_depth must be >= 1"))
	}
	if c.Discovery.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("discovery.batch_size must be >= 1"))
	}
	if d, err := duration.Parse(c.Discovery.DefaultTimeout); err != nil {
		errs = append(errs, fmt.Errorf("discovery.default_timeout: %w", err))
	} else if err := duration.CheckBounds(d); err != nil {
		errs = append(errs, fmt.Errorf("discovery.default_timeout: %w", err))
	}
	if _, err := cron.ParseStandard(c.Discovery.RescanSchedule); err != nil {
		errs = append(errs, fmt.Errorf("discovery.rescan_schedule: %w", err))
	}

	if c.Scheduler.MaxJobs < 1 {
		errs = append(errs, fmt.Errorf("scheduler.max_jobs must be >= 1"))
	}
	if c.Scheduler.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("scheduler.max_retries must be >= 0"))
	}
	if err := validateGoDuration(c.Scheduler.RetryBackoff, "scheduler.retry_backoff"); err != nil {
		errs = append(errs, err)
	}
	for _, m := range c.Scheduler.WarningThresholds {
		if m < 1 {
			errs = append(errs, fmt.Errorf("scheduler.warning_thresholds must be positive minutes, got %d", m))
		}
	}

	if c.Executor.Command == "" {
		errs = append(errs, fmt.Errorf("executor.command is required"))
	}
	if c.Executor.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("executor.concurrency must be >= 1"))
	}
	if err := validateGoDuration(c.Executor.Timeout, "executor.timeout"); err != nil {
		errs = append(errs, err)
	}
	if err := validateGoDuration(c.Executor.GracePeriod, "executor.grace_period"); err != nil {
		errs = append(errs, err)
	}

	if err := c.Docker.Validate(); err != nil {
		errs = append(errs, err)
	}

	if _, err := notify.ParseTypes(c.Notifications.Types); err != nil {
		errs = append(errs, fmt.Errorf("notifications.types: %w", err))
	}

	if c.Telegram.Enabled {
		if c.Telegram.Token == "" {
			errs = append(errs, fmt.Errorf("telegram.token is required when telegram is enabled"))
		} else if err := validateTelegramToken(c.Telegram.Token); err != nil {
			errs = append(errs, err)
		}
		if c.Telegram.ChatID == 0 {
			errs = append(errs, fmt.Errorf("telegram.chat_id is required when telegram is enabled"))
		}
	}

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			errs = append(errs, fmt.Errorf("metrics.listen must be host:port: %w", err))
		}
	}

	if err := validateGoDuration(c.Retention.Interval, "retention.interval"); err != nil {
		errs = append(errs, err)
	}
	if c.Retention.EventTTLDays < 0 {
		errs = append(errs, fmt.Errorf("retention.event_ttl_days must be >= 0"))
	}
	if c.Retention.ExecutionTTLDays < 0 {
		errs = append(errs, fmt.Errorf("retention.execution_ttl_days must be >= 0"))
	}

	if c.Logging.Level == "" {
		errs = append(errs, fmt.Errorf("logging.level is required"))
	} else {
		validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
		if !validLevels[strings.ToLower(c.Logging.Level)] {
			errs = append(errs, fmt.Errorf("invalid logging.level: %s (expected: debug, info, warn, error)", c.Logging.Level))
		}
	}
	if c.Logging.Format == "" {
		errs = append(errs, fmt.Errorf("logging.format is required"))
	} else {
		validFormats := map[string]bool{"json": true, "text": true}
		if !validFormats[strings.ToLower(c.Logging.Format)] {
			errs = append(errs, fmt.Errorf("invalid logging.format: %s (expected: json, text)", c.Logging.Format))
		}
	}
	if c.Logging.Output == "" {
		errs = append(errs, fmt.Errorf("logging.output is required"))
	}

	return errs
}

// Validate checks the docker section when container execution is enabled.
func (c *DockerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Image == "" {
		return fmt.Errorf("docker.image is required when docker.enabled=true")
	}

	validPolicies := map[string]bool{
		"always":         true,
		"if-not-present": true,
		"never":          true,
	}
	if !validPolicies[c.PullPolicy] {
		return fmt.Errorf("docker.pull_policy must be one of: always, if-not-present, never")
	}

	return nil
}

func validateGoDuration(s, fieldName string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%s: %w", fieldName, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must not be negative", fieldName)
	}
	return nil
}

func validateTelegramToken(token string) error {
	parts := strings.Split(token, ":")
	if len(parts) != 2 {
		return fmt.Errorf("telegram token has invalid format (expected <bot_id>:<token>, got: %s)", maskSecret(token))
	}

	botID := parts[0]
	botToken := parts[1]

	if len(botID) < 3 || len(botID) > 15 {
		return fmt.Errorf("telegram token has invalid bot ID length (expected 3-15 digits, got %d)", len(botID))
	}
	for _, r := range botID {
		if r < '0' || r > '9' {
			return fmt.Errorf("telegram token has invalid bot ID (expected digits only, got: %s)", botID)
		}
	}
	if len(botToken) < 10 || len(botToken) > 50 {
		return fmt.Errorf("telegram token has invalid token length (expected 10-50 characters, got %d)", len(botToken))
	}

	return nil
}

func validatePath(path, fieldName string) error {
	if path == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if strings.HasPrefix(path, "~") {
		return nil
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("%s contains potentially dangerous path traversal sequence", fieldName)
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%s must be an absolute path, got: %s", fieldName, path)
	}
	return nil
}

// applyDefaults fills every unset knob so the effective configuration is
// fully explicit.
func applyDefaults(c *Config) {
	if c.Daemon.StateDir == "" {
		c.Daemon.StateDir = "~/.local/share/tfreaper"
	}

	if c.Discovery.MaxDepth == 0 {
		c.Discovery.MaxDepth = 10
	}
	if c.Discovery.BatchSize == 0 {
		c.Discovery.BatchSize = 50
	}
	if c.Discovery.DefaultTimeout == "" {
		c.Discovery.DefaultTimeout = "2h"
	}
	if c.Discovery.RescanSchedule == "" {
		c.Discovery.RescanSchedule = "@every 10m"
	}

	if c.Scheduler.MaxJobs == 0 {
		c.Scheduler.MaxJobs = 1000
	}
	if c.Scheduler.MaxRetries == 0 {
		c.Scheduler.MaxRetries = 3
	}
	if c.Scheduler.RetryBackoff == "" {
		c.Scheduler.RetryBackoff = "5m"
	}

	if c.Executor.Command == "" {
		c.Executor.Command = "terraform destroy -auto-approve"
	}
	if c.Executor.Concurrency == 0 {
		c.Executor.Concurrency = 3
	}
	if c.Executor.GracePeriod == "" {
		c.Executor.GracePeriod = "10s"
	}

	if c.Docker.Image == "" {
		c.Docker.Image = "hashicorp/terraform:latest"
	}
	if c.Docker.PullPolicy == "" {
		c.Docker.PullPolicy = "if-not-present"
	}

	if c.Notifications.Desktop.RatePerMinute == 0 {
		c.Notifications.Desktop.RatePerMinute = 6
	}
	if c.Notifications.Desktop.Burst == 0 {
		c.Notifications.Desktop.Burst = 3
	}

	if c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9463"
	}

	if c.Retention.Interval == "" {
		c.Retention.Interval = "1h"
	}
	if c.Retention.EventTTLDays == 0 {
		c.Retention.EventTTLDays = 30
	}
	if c.Retention.ExecutionTTLDays == 0 {
		c.Retention.ExecutionTTLDays = 14
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// expandEnvVars expands ${VAR} references and leading ~ in path-like and
// secret-like fields.
func expandEnvVars(c *Config) {
	c.Daemon.StateDir = expandHome(expandEnv(c.Daemon.StateDir))

	for i, root := range c.Discovery.Roots {
		c.Discovery.Roots[i] = expandHome(expandEnv(root))
	}

	c.Telegram.Token = expandEnv(c.Telegram.Token)

	for k, v := range c.Executor.Environment {
		c.Executor.Environment[k] = expandEnv(v)
	}
}

// expandEnv expands a ${VAR} or ${VAR:default} reference.
func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") {
		return s
	}

	end := strings.Index(s, "}")
	if end == -1 {
		return s
	}

	content := s[2:end]
	if parts := strings.SplitN(content, ":", 2); len(parts) == 2 {
		if val := os.Getenv(parts[0]); val != "" {
			return val
		}
		return parts[1]
	}

	return os.Getenv(content)
}

// expandHome expands a leading ~ in a path.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
