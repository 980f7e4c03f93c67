package config

import (
	"os"
	"path/filepath"
)

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "tfreaper", "config.toml")
	}
	return "config.toml"
}

// Default returns a fully defaulted configuration. Roots must still be set
// by the operator before it validates.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Example is a commented configuration template written by `tfreaper config
// init`.
const Example = `# tfreaper daemon configuration

[daemon]
# Where the SQLite state database lives.
state_dir = "~/.local/share/tfreaper"

[discovery]
# Directories scanned for .tfreaper.yml project files. Required.
roots = ["~/infra"]
max_depth = 10
# exclusions = ["node_modules", ".git", "vendor", ".terraform", "dist", "build", "target"]
batch_size = 50
# Fallback destroy delay for projects with an unparseable timeout.
default_timeout = "2h"
# Cron expression for full rescans; the file watcher covers the gaps.
rescan_schedule = "@every 10m"
# disable_watch = false

[scheduler]
max_jobs = 1000
# Retries after the initial failed attempt.
max_retries = 3
retry_backoff = "5m"
# Minutes before destruction at which warnings fire.
warning_thresholds = [60, 15, 5, 1]

[executor]
command = "terraform destroy -auto-approve"
concurrency = 3
# Wall-clock limit per run; empty means none.
# timeout = "1h"
grace_period = "10s"
# [executor.environment]
# TF_IN_AUTOMATION = "1"

[docker]
# Run the destroy command inside a container instead of the host shell.
enabled = false
image = "hashicorp/terraform:latest"
pull_policy = "if-not-present"

[notifications]
# types = ["warning", "destroying", "completed", "failed"]

[notifications.desktop]
enabled = false
rate_per_minute = 6
burst = 3

[telegram]
enabled = false
token = "${TFREAPER_TELEGRAM_TOKEN}"
chat_id = 0
quiet = false

[metrics]
enabled = false
listen = "127.0.0.1:9463"

[retention]
enabled = true
interval = "1h"
event_ttl_days = 30
execution_ttl_days = 14

[logging]
level = "info"
format = "json"
output = "stdout"
`
