package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Discovery.Roots = []string{"/srv/projects"}
	return cfg
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	tests := []struct {
		name  string
		field string
		want  string
		got   string
	}{
		{"state dir", "daemon.state_dir", "~/.local/share/tfreaper", cfg.Daemon.StateDir},
		{"default timeout", "discovery.default_timeout", "2h", cfg.Discovery.DefaultTimeout},
		{"rescan schedule", "discovery.rescan_schedule", "@every 10m", cfg.Discovery.RescanSchedule},
		{"retry backoff", "scheduler.retry_backoff", "5m", cfg.Scheduler.RetryBackoff},
		{"executor command", "executor.command", "terraform destroy -auto-approve", cfg.Executor.Command},
		{"docker image", "docker.image", "hashicorp/terraform:latest", cfg.Docker.Image},
		{"docker pull policy", "docker.pull_policy", "if-not-present", cfg.Docker.PullPolicy},
		{"metrics listen", "metrics.listen", "127.0.0.1:9463", cfg.Metrics.Listen},
		{"logging level", "logging.level", "info", cfg.Logging.Level},
		{"logging format", "logging.format", "json", cfg.Logging.Format},
		{"logging output", "logging.output", "stdout", cfg.Logging.Output},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("Expected %s = %s, got %s", tt.field, tt.want, tt.got)
			}
		})
	}

	if cfg.Discovery.MaxDepth != 10 {
		t.Errorf("Expected discovery.max_depth = 10, got %d", cfg.Discovery.MaxDepth)
	}
	if cfg.Discovery.BatchSize != 50 {
		t.Errorf("Expected discovery.batch_size = 50, got %d", cfg.Discovery.BatchSize)
	}
	if cfg.Scheduler.MaxJobs != 1000 {
		t.Errorf("Expected scheduler.max_jobs = 1000, got %d", cfg.Scheduler.MaxJobs)
	}
	if cfg.Scheduler.MaxRetries != 3 {
		t.Errorf("Expected scheduler.max_retries = 3, got %d", cfg.Scheduler.MaxRetries)
	}
	if cfg.Executor.Concurrency != 3 {
		t.Errorf("Expected executor.concurrency = 3, got %d", cfg.Executor.Concurrency)
	}
	if cfg.Retention.EventTTLDays != 30 {
		t.Errorf("Expected retention.event_ttl_days = 30, got %d", cfg.Retention.EventTTLDays)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TFREAPER_TEST_TOKEN", "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw")

	content := `
[daemon]
state_dir = "/var/lib/tfreaper"

[discovery]
roots = ["/srv/projects"]
max_depth = 5

[telegram]
enabled = true
token = "${TFREAPER_TEST_TOKEN}"
chat_id = 42

[logging]
level = "debug"
`
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Daemon.StateDir != "/var/lib/tfreaper" {
		t.Errorf("state_dir = %s", cfg.Daemon.StateDir)
	}
	if cfg.Daemon.DatabasePath() != "/var/lib/tfreaper/tfreaper.db" {
		t.Errorf("DatabasePath() = %s", cfg.Daemon.DatabasePath())
	}
	if cfg.Discovery.MaxDepth != 5 {
		t.Errorf("max_depth = %d, want 5", cfg.Discovery.MaxDepth)
	}
	if cfg.Telegram.Token != "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw" {
		t.Errorf("token was not expanded: %s", cfg.Telegram.Token)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %s", cfg.Logging.Level)
	}

	// Unset sections still get defaults.
	if cfg.Executor.Command != "terraform destroy -auto-approve" {
		t.Errorf("executor.command = %s", cfg.Executor.Command)
	}
	if cfg.Discovery.BatchSize != 50 {
		t.Errorf("batch_size = %d, want 50", cfg.Discovery.BatchSize)
	}

	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("valid config produced errors: %v", errs)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("Load() should fail on a missing file")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing roots",
			mutate:  func(c *Config) { c.Discovery.Roots = nil },
			wantErr: "discovery.roots",
		},
		{
			name:    "relative root",
			mutate:  func(c *Config) { c.Discovery.Roots = []string{"projects"} },
			wantErr: "absolute path",
		},
		{
			name:    "path traversal in root",
			mutate:  func(c *Config) { c.Discovery.Roots = []string{"/srv/../etc"} },
			wantErr: "traversal",
		},
		{
			name:    "bad default timeout",
			mutate:  func(c *Config) { c.Discovery.DefaultTimeout = "soon" },
			wantErr: "discovery.default_timeout",
		},
		{
			name:    "out of bounds default timeout",
			mutate:  func(c *Config) { c.Discovery.DefaultTimeout = "45 days" },
			wantErr: "discovery.default_timeout",
		},
		{
			name:    "bad rescan schedule",
			mutate:  func(c *Config) { c.Discovery.RescanSchedule = "every now and then" },
			wantErr: "discovery.rescan_schedule",
		},
		{
			name:    "bad retry backoff",
			mutate:  func(c *Config) { c.Scheduler.RetryBackoff = "five minutes" },
			wantErr: "scheduler.retry_backoff",
		},
		{
			name:    "negative warning threshold",
			mutate:  func(c *Config) { c.Scheduler.WarningThresholds = []int{15, -5} },
			wantErr: "warning_thresholds",
		},
		{
			name:    "zero executor concurrency",
			mutate:  func(c *Config) { c.Executor.Concurrency = -1 },
			wantErr: "executor.concurrency",
		},
		{
			name: "docker bad pull policy",
			mutate: func(c *Config) {
				c.Docker.Enabled = true
				c.Docker.PullPolicy = "sometimes"
			},
			wantErr: "docker.pull_policy",
		},
		{
			name:    "unknown notification type",
			mutate:  func(c *Config) { c.Notifications.Types = []string{"earthquake"} },
			wantErr: "notifications.types",
		},
		{
			name:    "telegram enabled without token",
			mutate:  func(c *Config) { c.Telegram.Enabled = true; c.Telegram.ChatID = 1 },
			wantErr: "telegram.token",
		},
		{
			name: "telegram bad token format",
			mutate: func(c *Config) {
				c.Telegram.Enabled = true
				c.Telegram.ChatID = 1
				c.Telegram.Token = "not-a-token"
			},
			wantErr: "invalid format",
		},
		{
			name: "telegram missing chat id",
			mutate: func(c *Config) {
				c.Telegram.Enabled = true
				c.Telegram.Token = "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw"
			},
			wantErr: "telegram.chat_id",
		},
		{
			name: "metrics bad listen address",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Listen = "9463"
			},
			wantErr: "metrics.listen",
		},
		{
			name:    "bad logging level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "bad logging format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			errs := cfg.Validate()
			if tt.wantErr == "" {
				if len(errs) != 0 {
					t.Errorf("Expected no errors, got %v", errs)
				}
				return
			}

			for _, err := range errs {
				if strings.Contains(err.Error(), tt.wantErr) {
					return
				}
			}
			t.Errorf("Expected an error containing %q, got %v", tt.wantErr, errs)
		})
	}
}

func TestConfigValidation_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Discovery.Roots = nil
	cfg.Logging.Level = "verbose"
	cfg.Executor.Command = ""

	errs := cfg.Validate()
	if len(errs) < 3 {
		t.Errorf("Expected at least 3 errors, got %d: %v", len(errs), errs)
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := validConfig()

	if got := cfg.Discovery.Timeout(); got != 2*time.Hour {
		t.Errorf("Discovery.Timeout() = %v, want 2h", got)
	}
	if got := cfg.Scheduler.Backoff(); got != 5*time.Minute {
		t.Errorf("Scheduler.Backoff() = %v, want 5m", got)
	}
	if got := cfg.Executor.RunTimeout(); got != 0 {
		t.Errorf("Executor.RunTimeout() = %v, want 0", got)
	}
	if got := cfg.Executor.Grace(); got != 10*time.Second {
		t.Errorf("Executor.Grace() = %v, want 10s", got)
	}
	if got := cfg.Retention.SweepInterval(); got != time.Hour {
		t.Errorf("Retention.SweepInterval() = %v, want 1h", got)
	}

	cfg.Discovery.DefaultTimeout = "30 minutes"
	if got := cfg.Discovery.Timeout(); got != 30*time.Minute {
		t.Errorf("Discovery.Timeout() = %v, want 30m", got)
	}

	cfg.Scheduler.WarningThresholds = []int{15, 5}
	want := []time.Duration{15 * time.Minute, 5 * time.Minute}
	got := cfg.Scheduler.Thresholds()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Thresholds() = %v, want %v", got, want)
	}
}

func TestMaskTelegramToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"empty", "", ""},
		{"well formed", "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw", "123456789:AAHd**************************Dsaw"},
		{"malformed short", "short", "***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaskTelegramToken(tt.token); got != tt.want {
				t.Errorf("MaskTelegramToken(%q) = %q, want %q", tt.token, got, tt.want)
			}
		})
	}
}
