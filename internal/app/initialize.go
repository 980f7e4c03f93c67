package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aatumaykin/tfreaper/internal/app/builders"
	"github.com/aatumaykin/tfreaper/internal/bus"
	"github.com/aatumaykin/tfreaper/internal/cleanup"
	"github.com/aatumaykin/tfreaper/internal/discovery"
	"github.com/aatumaykin/tfreaper/internal/executor"
	"github.com/aatumaykin/tfreaper/internal/logger"
	"github.com/aatumaykin/tfreaper/internal/metrics"
	"github.com/aatumaykin/tfreaper/internal/notify"
	"github.com/aatumaykin/tfreaper/internal/scheduler"
	"github.com/aatumaykin/tfreaper/internal/store/sqlite"
	"github.com/aatumaykin/tfreaper/internal/watcher"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
)

// Initialize constructs and starts all daemon components. Construction order
// matters: the scheduler must be running before discovery registers projects,
// and the dispatcher must subscribe before the first notification is
// published.
func (a *App) Initialize(ctx context.Context) error {
	// 1. Application context
	a.ctx, a.cancel = context.WithCancel(ctx)

	// 2. Metrics registry
	if a.config.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.metrics = metrics.New("tfreaper", a.registry)
	}

	// 3. Repository
	st, err := sqlite.Open(a.config.Daemon.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	a.store = st

	// 4. Notification bus
	a.bus = bus.New(busCapacity, a.logger, a.metrics)
	if err := a.bus.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start notification bus: %w", err)
	}

	// 5. Notification sinks
	if err := a.initSinks(); err != nil {
		return err
	}

	// 6. Executor with its runner
	runner, err := builders.BuildRunner(a.config)
	if err != nil {
		return fmt.Errorf("failed to build runner: %w", err)
	}
	a.executor = executor.New(executor.Config{
		Concurrency:    a.config.Executor.Concurrency,
		DefaultCommand: a.config.Executor.Command,
		Environment:    a.config.Executor.Environment,
		Timeout:        a.config.Executor.RunTimeout(),
	}, runner, a.store, a.bus, a.logger, a.metrics)

	// 7. Scheduler, re-arming persisted projects
	a.scheduler = scheduler.New(scheduler.Config{
		MaxJobs:           a.config.Scheduler.MaxJobs,
		MaxRetries:        a.config.Scheduler.MaxRetries,
		RetryBackoff:      a.config.Scheduler.Backoff(),
		WarningThresholds: a.config.Scheduler.Thresholds(),
	}, a.store, a.executor, a.bus, a.logger, a.metrics)
	if err := a.scheduler.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// 8. Discovery, with an initial pass in the background
	a.discoverer = discovery.New(discovery.Config{
		Roots:          a.config.Discovery.Roots,
		MaxDepth:       a.config.Discovery.MaxDepth,
		Exclusions:     a.config.Discovery.Exclusions,
		BatchSize:      a.config.Discovery.BatchSize,
		DefaultTimeout: a.config.Discovery.Timeout(),
	}, a.store, a.scheduler, a.bus, a.logger, a.metrics)
	go a.runDiscovery()

	// 9. File watcher unless disabled
	if !a.config.Discovery.DisableWatch {
		a.watcher = watcher.New(watcher.Config{
			Roots:      a.config.Discovery.Roots,
			MaxDepth:   a.config.Discovery.MaxDepth,
			Exclusions: a.config.Discovery.Exclusions,
		}, a.onProjectChange, a.onProjectRemove, a.logger)
		if err := a.watcher.Start(a.ctx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
	}

	// 10. Periodic rescans
	a.rescan = cron.New()
	if _, err := a.rescan.AddFunc(a.config.Discovery.RescanSchedule, a.runDiscovery); err != nil {
		return fmt.Errorf("failed to schedule rescans: %w", err)
	}
	a.rescan.Start()

	// 11. Metrics endpoint
	if a.config.Metrics.Enabled {
		a.startMetricsServer()
	}

	// 12. Retention sweeps
	if a.config.Retention.Enabled {
		runner := cleanup.NewRunner(cleanup.Config{
			EventTTLDays:     a.config.Retention.EventTTLDays,
			ExecutionTTLDays: a.config.Retention.ExecutionTTLDays,
		}, a.store, a.logger, a.metrics)
		a.cleanupScheduler = cleanup.NewScheduler(runner, cleanup.SchedulerConfig{
			Enabled:  true,
			Interval: a.config.Retention.SweepInterval(),
		}, a.logger)
		if err := a.cleanupScheduler.Start(a.ctx); err != nil {
			return fmt.Errorf("failed to start retention sweeps: %w", err)
		}
	}

	a.mu.Lock()
	a.started = true
	a.mu.Unlock()

	return nil
}

// initSinks builds the dispatcher and registers the configured sinks. The
// log sink always runs and sees every notification; desktop and telegram
// receive only the configured alert types.
func (a *App) initSinks() error {
	a.dispatcher = notify.NewDispatcher(a.bus, a.logger, a.metrics)
	a.dispatcher.Register(notify.NewLogSink(a.logger))

	alertTypes := notify.AlertTypes
	if len(a.config.Notifications.Types) > 0 {
		parsed, err := notify.ParseTypes(a.config.Notifications.Types)
		if err != nil {
			return fmt.Errorf("invalid notification types: %w", err)
		}
		alertTypes = parsed
	}

	if a.config.Notifications.Desktop.Enabled {
		sink, err := builders.BuildDesktopSink(a.config, a.logger, a.metrics)
		switch {
		case errors.Is(err, notify.ErrUnsupportedPlatform):
			a.logger.Warn("desktop notifications unavailable on this platform")
		case err != nil:
			return fmt.Errorf("failed to build desktop sink: %w", err)
		default:
			a.dispatcher.Register(sink, alertTypes...)
		}
	}

	if a.config.Telegram.Enabled {
		sink, err := builders.BuildTelegramSink(a.ctx, a.config, a.logger)
		if err != nil {
			return fmt.Errorf("failed to build telegram sink: %w", err)
		}
		a.dispatcher.Register(sink, alertTypes...)
	}

	if err := a.dispatcher.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start notification dispatcher: %w", err)
	}

	return nil
}

// runDiscovery performs one full discovery pass and logs its outcome. Used
// both for the startup pass and the periodic rescans.
func (a *App) runDiscovery() {
	stats, err := a.discoverer.Discover(a.ctx)
	if err != nil {
		if a.ctx.Err() == nil {
			a.logger.Error("discovery pass failed", err)
		}
		return
	}

	a.logger.Info("discovery pass complete",
		logger.Field{Key: "scanned", Value: stats.Scanned},
		logger.Field{Key: "found", Value: stats.Found},
		logger.Field{Key: "new", Value: stats.New},
		logger.Field{Key: "updated", Value: stats.Updated},
		logger.Field{Key: "deleted", Value: stats.Deleted},
		logger.Field{Key: "errors", Value: stats.Errors},
		logger.Field{Key: "duration", Value: stats.Duration.String()},
	)
}

// onProjectChange handles watcher add/change events for a single directory.
func (a *App) onProjectChange(ctx context.Context, dir string) error {
	_, err := a.discoverer.DiscoverProject(ctx, dir)
	return err
}

// onProjectRemove handles watcher unlink events for a single directory.
func (a *App) onProjectRemove(ctx context.Context, dir string) error {
	return a.discoverer.RemoveProjectByPath(ctx, dir)
}

// startMetricsServer serves the prometheus registry on the configured
// address. Listen failures are logged, not fatal; the daemon's core does not
// depend on the endpoint.
func (a *App) startMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	a.metricsServer = &http.Server{
		Addr:              a.config.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("metrics endpoint listening", logger.Field{Key: "addr", Value: a.metricsServer.Addr})
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics endpoint failed", err)
		}
	}()
}
