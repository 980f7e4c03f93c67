// Package cleanup applies the retention policy to persisted history: old
// events and finished executions are purged so the state database does not
// grow without bound. Project rows are never touched here.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aatumaykin/tfreaper/internal/logger"
	"github.com/aatumaykin/tfreaper/internal/metrics"
	"github.com/aatumaykin/tfreaper/internal/store"
)

const (
	// DefaultEventTTLDays keeps the audit trail for a month.
	DefaultEventTTLDays = 30
	// DefaultExecutionTTLDays keeps finished execution records two weeks.
	DefaultExecutionTTLDays = 14
)

// Config sets the retention windows. A zero TTL disables that sweep.
type Config struct {
	EventTTLDays     int
	ExecutionTTLDays int
}

// Stats describes one retention run.
type Stats struct {
	EventsPurged     int64
	ExecutionsPurged int64
	Duration         time.Duration
}

// Runner performs retention sweeps against the store.
type Runner struct {
	config  Config
	store   store.Store
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	lastRun time.Time
	stats   Stats
}

// NewRunner creates a runner with the given retention windows.
func NewRunner(cfg Config, st store.Store, log *logger.Logger, m *metrics.Metrics) *Runner {
	return &Runner{
		config:  cfg,
		store:   st,
		logger:  log,
		metrics: m,
	}
}

// Run executes one sweep. Both tables are attempted even if one fails; the
// returned error joins whatever went wrong.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	startTime := time.Now()
	stats := Stats{}

	var errs []error

	if r.config.EventTTLDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -r.config.EventTTLDays).UTC()
		purged, err := r.store.PurgeEventsBefore(ctx, cutoff)
		if err != nil {
			r.logger.Error("failed to purge events", err)
			errs = append(errs, fmt.Errorf("purge events: %w", err))
		} else {
			stats.EventsPurged = purged
			r.metrics.RecordRetention("events", purged)
		}
	}

	if r.config.ExecutionTTLDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -r.config.ExecutionTTLDays).UTC()
		purged, err := r.store.PurgeExecutionsBefore(ctx, cutoff)
		if err != nil {
			r.logger.Error("failed to purge executions", err)
			errs = append(errs, fmt.Errorf("purge executions: %w", err))
		} else {
			stats.ExecutionsPurged = purged
			r.metrics.RecordRetention("executions", purged)
		}
	}

	stats.Duration = time.Since(startTime)

	r.mu.Lock()
	r.lastRun = time.Now()
	r.stats = stats
	r.mu.Unlock()

	return stats, errors.Join(errs...)
}

// GetStats returns the statistics from the last run.
func (r *Runner) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// GetLastRun returns the time of the last run.
func (r *Runner) GetLastRun() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun
}
