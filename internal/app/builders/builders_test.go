package builders

import (
	"context"
	"runtime"
	"testing"

	"github.com/aatumaykin/tfreaper/internal/config"
	"github.com/aatumaykin/tfreaper/internal/executor"
	"github.com/aatumaykin/tfreaper/internal/logger"
	"github.com/aatumaykin/tfreaper/internal/notify"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Discovery.Roots = []string{"/srv/projects"}
	return cfg
}

func TestBuildRunner_Local(t *testing.T) {
	cfg := testConfig()

	runner, err := BuildRunner(cfg)
	require.NoError(t, err)

	local, ok := runner.(*executor.LocalRunner)
	require.True(t, ok, "expected a local runner when docker is disabled")
	require.Equal(t, cfg.Executor.Grace(), local.GracePeriod)
}

func TestBuildDesktopSink(t *testing.T) {
	cfg := testConfig()
	cfg.Notifications.Desktop.Enabled = true

	sink, err := BuildDesktopSink(cfg, logger.NewDiscard(), nil)
	switch runtime.GOOS {
	case "linux", "darwin":
		require.NoError(t, err)
		require.NotNil(t, sink)
	default:
		require.ErrorIs(t, err, notify.ErrUnsupportedPlatform)
	}
}

func TestBuildTelegramSink_RejectsMissingToken(t *testing.T) {
	cfg := testConfig()
	cfg.Telegram.Enabled = true
	cfg.Telegram.ChatID = 42

	_, err := BuildTelegramSink(context.Background(), cfg, logger.NewDiscard())
	require.Error(t, err)
}
