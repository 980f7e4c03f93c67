package app

import (
	"context"
	"time"
)

// shutdownTimeout bounds how long the metrics endpoint may take to drain.
const shutdownTimeout = 5 * time.Second

// Shutdown performs graceful shutdown of all components, in reverse
// construction order: intake first (watcher, rescans), then the pipeline
// (scheduler, dispatcher, bus), then storage.
//
// The method is thread-safe and can be called from multiple goroutines.
func (a *App) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil
	}

	a.cancel()

	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			a.logger.Error("failed to stop watcher", err)
		}
	}

	if a.rescan != nil {
		// Stop returns a context that completes when running jobs finish.
		<-a.rescan.Stop().Done()
	}

	if a.cleanupScheduler != nil {
		a.cleanupScheduler.Stop()
	}

	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.logger.Error("failed to stop metrics endpoint", err)
		}
		cancel()
	}

	if a.scheduler != nil {
		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("failed to stop scheduler", err)
		}
	}

	if a.dispatcher != nil {
		if err := a.dispatcher.Stop(); err != nil {
			a.logger.Error("failed to stop notification dispatcher", err)
		}
	}

	var busErr error
	if a.bus != nil {
		if busErr = a.bus.Stop(); busErr != nil {
			a.logger.Error("failed to stop notification bus", busErr)
		}
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("failed to close state database", err)
		}
	}

	a.started = false
	a.logger.Info("daemon shutdown complete")

	return busErr
}
