package builders

import (
	"context"
	"fmt"

	"github.com/aatumaykin/tfreaper/internal/config"
	"github.com/aatumaykin/tfreaper/internal/logger"
	"github.com/aatumaykin/tfreaper/internal/metrics"
	"github.com/aatumaykin/tfreaper/internal/notify"
)

// BuildDesktopSink constructs the desktop notification sink from the
// [notifications.desktop] section.
func BuildDesktopSink(cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*notify.DesktopSink, error) {
	return notify.NewDesktopSink(notify.DesktopConfig{
		RatePerMinute: cfg.Notifications.Desktop.RatePerMinute,
		Burst:         cfg.Notifications.Desktop.Burst,
	}, log, m)
}

// BuildTelegramSink constructs the telegram sink and verifies the token
// against the API before the daemon starts relying on it.
func BuildTelegramSink(ctx context.Context, cfg *config.Config, log *logger.Logger) (*notify.TelegramSink, error) {
	sink, err := notify.NewTelegramSink(notify.TelegramConfig{
		Token:  cfg.Telegram.Token,
		ChatID: cfg.Telegram.ChatID,
		Quiet:  cfg.Telegram.Quiet,
	}, log)
	if err != nil {
		return nil, err
	}

	if err := sink.Verify(ctx); err != nil {
		return nil, fmt.Errorf("telegram token verification failed: %w", err)
	}

	return sink, nil
}
