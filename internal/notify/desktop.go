package notify

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"

	"golang.org/x/time/rate"

	"github.com/aatumaykin/tfreaper/internal/bus"
	"github.com/aatumaykin/tfreaper/internal/logger"
	"github.com/aatumaykin/tfreaper/internal/metrics"
)

// ErrUnsupportedPlatform is returned when no desktop notifier exists for the
// current operating system.
var ErrUnsupportedPlatform = errors.New("no desktop notifier for this platform")

const (
	// defaultDesktopRate is popups per minute before the limiter starts
	// dropping. Warning storms from many projects hit the same desktop.
	defaultDesktopRate  = 6
	defaultDesktopBurst = 3

	appName = "tfreaper"
)

// DesktopConfig tunes the desktop sink's rate limiter.
type DesktopConfig struct {
	RatePerMinute int
	Burst         int
}

// DesktopSink shows notifications via notify-send on Linux and osascript on
// macOS. Deliveries beyond the rate limit are dropped, not queued.
type DesktopSink struct {
	limiter *rate.Limiter
	logger  *logger.Logger
	metrics *metrics.Metrics
	goos    string

	run func(ctx context.Context, name string, args ...string) error
}

// NewDesktopSink creates the sink, or ErrUnsupportedPlatform when the host
// has no known notifier command.
func NewDesktopSink(cfg DesktopConfig, log *logger.Logger, m *metrics.Metrics) (*DesktopSink, error) {
	goos := runtime.GOOS
	if goos != "linux" && goos != "darwin" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, goos)
	}

	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = defaultDesktopRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultDesktopBurst
	}

	return &DesktopSink{
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60), cfg.Burst),
		logger:  log,
		metrics: m,
		goos:    goos,
		run:     runCommand,
	}, nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

func (s *DesktopSink) Name() string { return "desktop" }

// Send shows one popup. A rate-limited notification is dropped silently; the
// limiter exists exactly so bursts do not reach the desktop.
func (s *DesktopSink) Send(ctx context.Context, n bus.Notification) error {
	if !s.limiter.Allow() {
		s.logger.Debug("desktop notification rate limited",
			logger.Field{Key: "type", Value: n.Type},
			logger.Field{Key: "project_id", Value: n.ProjectID})
		s.metrics.RecordDroppedNotification("rate_limited")
		return nil
	}

	name, args := s.command(n)
	if err := s.run(ctx, name, args...); err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}

func (s *DesktopSink) command(n bus.Notification) (string, []string) {
	title, body := render(n)

	if s.goos == "darwin" {
		script := fmt.Sprintf("display notification %q with title %q", body, appName+": "+title)
		return "osascript", []string{"-e", script}
	}

	return "notify-send", []string{
		"--app-name=" + appName,
		"--urgency=" + urgency(n),
		title,
		body,
	}
}

// urgency maps notification kinds to notify-send urgency levels. The last
// warnings before a destroy and anything that already went wrong are
// critical; routine lifecycle chatter is not.
func urgency(n bus.Notification) string {
	switch n.Type {
	case bus.TypeFailed, bus.TypeError, bus.TypeDestroying:
		return "critical"
	case bus.TypeWarning:
		if n.MinutesLeft <= 5 {
			return "critical"
		}
		return "normal"
	default:
		return "normal"
	}
}
