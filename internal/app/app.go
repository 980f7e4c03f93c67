// Package app provides the main application structure for tfreaper.
// It coordinates all daemon components: the repository, notification bus,
// sinks, executor, scheduler, discovery, file watcher, periodic rescans,
// retention sweeps and the metrics endpoint.
package app

import (
	"context"
	"net/http"
	"sync"

	"github.com/aatumaykin/tfreaper/internal/bus"
	"github.com/aatumaykin/tfreaper/internal/cleanup"
	"github.com/aatumaykin/tfreaper/internal/config"
	"github.com/aatumaykin/tfreaper/internal/discovery"
	"github.com/aatumaykin/tfreaper/internal/executor"
	"github.com/aatumaykin/tfreaper/internal/logger"
	"github.com/aatumaykin/tfreaper/internal/metrics"
	"github.com/aatumaykin/tfreaper/internal/notify"
	"github.com/aatumaykin/tfreaper/internal/scheduler"
	"github.com/aatumaykin/tfreaper/internal/store"
	"github.com/aatumaykin/tfreaper/internal/watcher"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
)

// busCapacity is the notification queue depth. Publishers drop rather than
// block once it fills.
const busCapacity = 256

// App represents the main application structure.
// It holds references to all major components and manages their lifecycle.
type App struct {
	// Configuration and core services
	config *config.Config
	logger *logger.Logger

	// Observability
	metrics  *metrics.Metrics
	registry *prometheus.Registry

	// Persistence
	store store.Store

	// Communication infrastructure
	bus        *bus.Bus
	dispatcher *notify.Dispatcher

	// Core destroy pipeline
	executor   *executor.Executor
	scheduler  *scheduler.Scheduler
	discoverer *discovery.Discoverer

	// Filesystem watch and periodic rescans
	watcher *watcher.Watcher
	rescan  *cron.Cron

	// Metrics endpoint
	metricsServer *http.Server

	// Retention sweeps
	cleanupScheduler *cleanup.Scheduler

	// Context management
	ctx    context.Context
	cancel context.CancelFunc

	// Thread-safety
	mu      sync.RWMutex
	started bool
}

// New creates a new App instance with the provided configuration and logger.
// Only initializes config and logger fields; other components are initialized
// in the Initialize() method.
func New(cfg *config.Config, log *logger.Logger) *App {
	return &App{
		config: cfg,
		logger: log,
	}
}

// Run starts the daemon and blocks until the context is cancelled, then
// performs a graceful shutdown.
func (a *App) Run(ctx context.Context) error {
	if err := a.Initialize(ctx); err != nil {
		return err
	}

	a.logger.Info("daemon is running",
		logger.Field{Key: "roots", Value: a.config.Discovery.Roots},
		logger.Field{Key: "state_dir", Value: a.config.Daemon.StateDir},
	)

	<-ctx.Done()

	return a.Shutdown()
}

// Scheduler exposes the job registry, mainly for tests and introspection.
func (a *App) Scheduler() *scheduler.Scheduler {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.scheduler
}

// Store exposes the repository backing the daemon.
func (a *App) Store() store.Store {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.store
}

// IsStarted reports whether Initialize completed successfully.
func (a *App) IsStarted() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.started
}
