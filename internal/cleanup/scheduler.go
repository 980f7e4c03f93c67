package cleanup

import (
	"context"
	"time"

	"github.com/aatumaykin/tfreaper/internal/logger"
)

// DefaultInterval is the gap between retention sweeps.
const DefaultInterval = time.Hour

// Scheduler manages periodic retention runs.
type Scheduler struct {
	runner *Runner
	config SchedulerConfig
	logger *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc
	ticker *time.Ticker
}

// SchedulerConfig holds configuration for the retention scheduler.
type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration
}

// NewScheduler creates a new retention scheduler.
func NewScheduler(runner *Runner, config SchedulerConfig, log *logger.Logger) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	return &Scheduler{
		runner: runner,
		config: config,
		logger: log,
	}
}

// Start begins the periodic retention scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("retention scheduler disabled")
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.ticker = time.NewTicker(s.config.Interval)

	s.logger.Info("retention scheduler started",
		logger.Field{Key: "interval", Value: s.config.Interval.String()})

	// Run an initial sweep so a daemon restarted after long downtime does
	// not wait a full interval to catch up.
	go s.runSweep(s.ctx)

	go func() {
		for {
			select {
			case <-s.ticker.C:
				s.runSweep(s.ctx)
			case <-s.ctx.Done():
				s.ticker.Stop()
				s.logger.Info("retention scheduler stopped")
				return
			}
		}
	}()

	return nil
}

// Stop stops the retention scheduler.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// runSweep executes a single retention run.
func (s *Scheduler) runSweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	stats, err := s.runner.Run(ctx)
	if err != nil {
		s.logger.Error("retention sweep failed", err)
		return
	}

	if stats.EventsPurged > 0 || stats.ExecutionsPurged > 0 {
		s.logger.Info("retention sweep completed",
			logger.Field{Key: "events_purged", Value: stats.EventsPurged},
			logger.Field{Key: "executions_purged", Value: stats.ExecutionsPurged},
			logger.Field{Key: "duration_ms", Value: stats.Duration.Milliseconds()})
	} else {
		s.logger.Debug("retention sweep completed, nothing to purge")
	}
}

// Trigger runs a sweep immediately.
func (s *Scheduler) Trigger(ctx context.Context) (Stats, error) {
	s.logger.Info("manual retention sweep triggered")
	return s.runner.Run(ctx)
}
