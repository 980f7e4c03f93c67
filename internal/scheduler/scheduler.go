// Package scheduler arms one destruction timer plus a ladder of warning
// timers per project and drives the retry policy for failed destructions.
// Timers are advisory: every callback re-validates against the store before
// acting, so a project cancelled, extended or deleted after arming is a
// silent no-op at fire time.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aatumaykin/tfreaper/internal/bus"
	"github.com/aatumaykin/tfreaper/internal/executor"
	"github.com/aatumaykin/tfreaper/internal/logger"
	"github.com/aatumaykin/tfreaper/internal/metrics"
	"github.com/aatumaykin/tfreaper/internal/store"
)

const (
	// DefaultMaxJobs caps the number of armed timers.
	DefaultMaxJobs = 1000
	// DefaultMaxRetries is how many times a failed destruction is retried
	// beyond the initial attempt.
	DefaultMaxRetries = 3
	// DefaultRetryBackoff is the fixed wait between attempts.
	DefaultRetryBackoff = 5 * time.Minute

	// rearmSlack separates clock jitter from a deliberately moved deadline.
	rearmSlack = 30 * time.Second
)

// DefaultWarningThresholds are how far ahead of destruction warnings fire.
var DefaultWarningThresholds = []time.Duration{
	60 * time.Minute,
	15 * time.Minute,
	5 * time.Minute,
	time.Minute,
}

var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrNotStarted     = errors.New("scheduler not started")
	// ErrJobLimit is returned when arming a project would exceed MaxJobs.
	ErrJobLimit = errors.New("scheduler job limit reached")
	// ErrNotScheduled is returned by Cancel when nothing is armed or running
	// for the project.
	ErrNotScheduled = errors.New("project has no scheduled jobs")
	// ErrNotSchedulable is returned by Schedule for projects in a status
	// other than active or pending.
	ErrNotSchedulable = errors.New("project status is not schedulable")
)

// JobKind distinguishes the destruction timer from warning timers.
type JobKind string

const (
	JobDestroy JobKind = "destroy"
	JobWarning JobKind = "warning"
)

// Job is one armed timer. Copies returned by JobsForProject carry no timer.
type Job struct {
	ID        string
	ProjectID string
	Kind      JobKind
	FireAt    time.Time
	// MinutesLeft is the warning threshold; zero for destroy jobs.
	MinutesLeft int
	// Attempt numbers the destruction attempt this job represents.
	Attempt int

	timer *time.Timer
}

// Executor is the slice of the execution engine the scheduler drives.
type Executor interface {
	Execute(ctx context.Context, project *store.Project, attempt int) (*store.Execution, error)
	CancelProject(projectID string) error
}

// Config controls scheduler behavior.
type Config struct {
	MaxJobs           int
	MaxRetries        int
	RetryBackoff      time.Duration
	WarningThresholds []time.Duration
}

// Scheduler owns the in-memory job registry. The store remains the source
// of truth; the registry is rebuilt from it on every Start.
type Scheduler struct {
	cfg     Config
	store   store.Store
	exec    Executor
	bus     *bus.Bus
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	// jobs is projectID -> jobID -> job.
	jobs  map[string]map[string]*Job
	count int
}

// New creates a scheduler. Zero config fields fall back to defaults.
func New(cfg Config, st store.Store, exec Executor, b *bus.Bus, log *logger.Logger, m *metrics.Metrics) *Scheduler {
	if cfg.MaxJobs <= 0 {
		cfg.MaxJobs = DefaultMaxJobs
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if len(cfg.WarningThresholds) == 0 {
		cfg.WarningThresholds = DefaultWarningThresholds
	}

	return &Scheduler{
		cfg:     cfg,
		store:   st,
		exec:    exec,
		bus:     b,
		logger:  log,
		metrics: m,
		jobs:    make(map[string]map[string]*Job),
	}
}

// Start re-arms timers for every schedulable project and begins accepting
// Schedule calls. A project whose deadline already passed executes
// immediately through the normal fire path.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.mu.Unlock()

	projects, err := s.store.ListSchedulable(s.ctx)
	if err != nil {
		s.mu.Lock()
		s.stopLocked()
		s.mu.Unlock()
		return fmt.Errorf("load schedulable projects: %w", err)
	}

	for _, project := range projects {
		if err := s.Schedule(s.ctx, project); err != nil {
			s.logger.Error("failed to re-arm project", err,
				logger.Field{Key: "project_id", Value: project.ID})
		}
	}

	go func() {
		<-s.ctx.Done()
		s.mu.Lock()
		if s.started {
			s.stopLocked()
		}
		s.mu.Unlock()
	}()

	s.logger.Info("scheduler started",
		logger.Field{Key: "projects", Value: len(projects)},
		logger.Field{Key: "jobs", Value: s.JobCount()})
	return nil
}

// Stop disarms every timer. In-flight executions are not interrupted; they
// finalize through the executor on their own.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrNotStarted
	}
	s.stopLocked()
	return nil
}

// stopLocked stops every timer and resets the registry. Callers hold s.mu.
func (s *Scheduler) stopLocked() {
	for _, jobs := range s.jobs {
		for _, job := range jobs {
			job.timer.Stop()
		}
	}
	s.jobs = make(map[string]map[string]*Job)
	s.count = 0
	s.started = false
	if s.cancel != nil {
		s.cancel()
	}
	s.updateMetricsLocked()
	s.logger.Info("scheduler stopped")
}

// Schedule arms the destruction timer and the warning ladder for a project,
// replacing any jobs already armed for it. At most one destruction job
// exists per project at any time.
func (s *Scheduler) Schedule(ctx context.Context, project *store.Project) error {
	if !schedulable(project.Status) {
		return fmt.Errorf("%w: %s is %s", ErrNotSchedulable, project.ID, project.Status)
	}

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}

	planned := s.plan(project, time.Now())

	existing := len(s.jobs[project.ID])
	if s.count-existing+len(planned) > s.cfg.MaxJobs {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d armed, cannot add %d for project %s",
			ErrJobLimit, s.count, len(planned), project.ID)
	}

	s.removeJobsLocked(project.ID)
	for _, job := range planned {
		s.armLocked(job)
	}
	s.updateMetricsLocked()
	s.mu.Unlock()

	s.logEvent(ctx, project.ID, store.EventRegistered, map[string]any{
		"destroy_at": project.DestroyAt.Format(time.RFC3339),
		"jobs":       len(planned),
	})
	s.publish(bus.Notification{
		Type:        bus.TypeScheduled,
		ProjectID:   project.ID,
		ProjectName: project.Name,
		Path:        project.Path,
		DestroyAt:   project.DestroyAt,
	})
	s.logger.Info("project scheduled",
		logger.Field{Key: "project_id", Value: project.ID},
		logger.Field{Key: "name", Value: project.Name},
		logger.Field{Key: "destroy_at", Value: project.DestroyAt.Format(time.RFC3339)},
		logger.Field{Key: "jobs", Value: len(planned)})
	return nil
}

// Reschedule moves a project's destruction to newTime and re-arms its jobs,
// replacing whatever was armed before. A project with nothing armed is fine;
// that just means the timer already fired or was never set. A terminal
// project comes back as active, which is the manual re-arm path for
// destroyed and failed projects. One mid-destruction is refused.
func (s *Scheduler) Reschedule(ctx context.Context, projectID string, newTime time.Time) error {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("reschedule %s: %w", projectID, err)
	}
	if project.Status == store.StatusDestroying {
		return fmt.Errorf("%w: %s is %s", ErrNotSchedulable, project.ID, project.Status)
	}

	destroyAt := newTime.UTC()
	status := project.Status
	if terminal(status) {
		status = store.StatusActive
	}
	upd := store.ProjectUpdate{DestroyAt: &destroyAt}
	if status != project.Status {
		upd.Status = &status
	}
	if err := s.store.UpdateProject(ctx, projectID, upd); err != nil {
		return fmt.Errorf("persist new destroy time for %s: %w", projectID, err)
	}
	project.DestroyAt = destroyAt
	project.Status = status

	s.logEvent(ctx, projectID, store.EventExtended, map[string]any{
		"destroy_at": destroyAt.Format(time.RFC3339),
	})
	return s.Schedule(ctx, project)
}

// Cancel disarms everything for a project and returns it to active: the
// project stays tracked and the next rediscovery or restart re-arms it. A
// durable opt-out is deleting the config file or setting a terminal status
// through the CLI. A running execution gets a graceful cancel and finalizes
// through its own completion path.
func (s *Scheduler) Cancel(ctx context.Context, projectID string) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	_, hadJobs := s.jobs[projectID]
	s.removeJobsLocked(projectID)
	s.updateMetricsLocked()
	s.mu.Unlock()

	hadExecution := s.exec.CancelProject(projectID) == nil
	if !hadJobs && !hadExecution {
		return fmt.Errorf("%w: %s", ErrNotScheduled, projectID)
	}

	if !hadExecution {
		if err := s.setStatus(ctx, projectID, store.StatusActive); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("failed to revert project status", err,
				logger.Field{Key: "project_id", Value: projectID})
		}
	}
	s.logEvent(ctx, projectID, store.EventCancelled, map[string]any{
		"reason": "cancelled by operator",
	})
	s.publish(bus.Notification{
		Type:      bus.TypeCancelled,
		ProjectID: projectID,
	})
	s.logger.Info("project cancelled",
		logger.Field{Key: "project_id", Value: projectID})
	return nil
}

// Disarm silently removes every job for a project without touching its
// status or logging events. Used when the project row itself is going away.
func (s *Scheduler) Disarm(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeJobsLocked(projectID)
	s.updateMetricsLocked()
}

// JobsForProject returns copies of the armed jobs for a project, soonest
// first.
func (s *Scheduler) JobsForProject(projectID string) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]Job, 0, len(s.jobs[projectID]))
	for _, job := range s.jobs[projectID] {
		j := *job
		j.timer = nil
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].FireAt.Before(jobs[k].FireAt) })
	return jobs
}

// JobCount reports the number of armed timers.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// IsStarted returns true if the scheduler is running.
func (s *Scheduler) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// plan builds the job set for a project: one destroy job plus a warning for
// each threshold still in the future.
func (s *Scheduler) plan(project *store.Project, now time.Time) []*Job {
	jobs := []*Job{{
		ID:        destroyJobID(project.ID),
		ProjectID: project.ID,
		Kind:      JobDestroy,
		FireAt:    project.DestroyAt,
		Attempt:   1,
	}}

	for _, threshold := range s.cfg.WarningThresholds {
		fireAt := project.DestroyAt.Add(-threshold)
		if !fireAt.After(now) {
			continue
		}
		minutes := int(threshold / time.Minute)
		jobs = append(jobs, &Job{
			ID:          warningJobID(project.ID, minutes),
			ProjectID:   project.ID,
			Kind:        JobWarning,
			FireAt:      fireAt,
			MinutesLeft: minutes,
		})
	}
	return jobs
}

// armLocked registers the job and starts its timer, replacing a job with the
// same id. Callers hold s.mu.
func (s *Scheduler) armLocked(job *Job) {
	if s.jobs[job.ProjectID] == nil {
		s.jobs[job.ProjectID] = make(map[string]*Job)
	}
	if old, exists := s.jobs[job.ProjectID][job.ID]; exists {
		old.timer.Stop()
	} else {
		s.count++
	}
	s.jobs[job.ProjectID][job.ID] = job

	delay := time.Until(job.FireAt)
	if delay < 0 {
		delay = 0
	}
	job.timer = time.AfterFunc(delay, func() { s.fire(job) })
}

// removeJobsLocked disarms every job for a project. Callers hold s.mu.
func (s *Scheduler) removeJobsLocked(projectID string) {
	for _, job := range s.jobs[projectID] {
		job.timer.Stop()
		s.count--
	}
	delete(s.jobs, projectID)
}

func (s *Scheduler) removeProjectJobs(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeJobsLocked(projectID)
	s.updateMetricsLocked()
}

// fire is every timer's entry point. It deregisters the job, then
// re-validates before acting; a job that was replaced or disarmed between
// firing and acquiring the lock is dropped silently.
func (s *Scheduler) fire(job *Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("timer callback panic recovered", fmt.Errorf("panic: %v", r),
				logger.Field{Key: "job_id", Value: job.ID})
		}
	}()

	s.mu.Lock()
	if !s.started || s.jobs[job.ProjectID][job.ID] != job {
		s.mu.Unlock()
		return
	}
	delete(s.jobs[job.ProjectID], job.ID)
	if len(s.jobs[job.ProjectID]) == 0 {
		delete(s.jobs, job.ProjectID)
	}
	s.count--
	s.updateMetricsLocked()
	ctx := s.ctx
	s.mu.Unlock()

	switch job.Kind {
	case JobWarning:
		s.fireWarning(ctx, job)
	case JobDestroy:
		s.fireDestroy(ctx, job)
	}
}

func (s *Scheduler) fireWarning(ctx context.Context, job *Job) {
	project, err := s.store.GetProject(ctx, job.ProjectID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("failed to load project for warning", err,
				logger.Field{Key: "project_id", Value: job.ProjectID})
		}
		return
	}
	if !schedulable(project.Status) {
		return
	}
	// The deadline moved after this timer was armed; whoever moved it armed
	// a fresh ladder.
	if time.Until(project.DestroyAt) > time.Duration(job.MinutesLeft)*time.Minute+rearmSlack {
		return
	}

	s.logEvent(ctx, project.ID, store.EventWarning, map[string]any{
		"minutes_left": job.MinutesLeft,
	})
	s.publish(bus.Notification{
		Type:        bus.TypeWarning,
		ProjectID:   project.ID,
		ProjectName: project.Name,
		Path:        project.Path,
		DestroyAt:   project.DestroyAt,
		MinutesLeft: job.MinutesLeft,
	})
	s.logger.Info("destruction warning",
		logger.Field{Key: "project_id", Value: project.ID},
		logger.Field{Key: "name", Value: project.Name},
		logger.Field{Key: "minutes_left", Value: job.MinutesLeft})
}

func (s *Scheduler) fireDestroy(ctx context.Context, job *Job) {
	project, err := s.store.GetProject(ctx, job.ProjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return
		}
		s.logger.Error("failed to load project for destruction", err,
			logger.Field{Key: "project_id", Value: job.ProjectID})
		s.rearmDestroy(job.ProjectID, job.Attempt, time.Now().Add(s.cfg.RetryBackoff))
		return
	}
	if !schedulable(project.Status) {
		s.logger.Debug("skipping destruction, project no longer schedulable",
			logger.Field{Key: "project_id", Value: project.ID},
			logger.Field{Key: "status", Value: project.Status})
		return
	}
	// The persisted deadline moved past this timer (an extend from another
	// process); follow the store.
	if project.DestroyAt.After(job.FireAt.Add(rearmSlack)) {
		s.logger.Info("destruction deferred to new deadline",
			logger.Field{Key: "project_id", Value: project.ID},
			logger.Field{Key: "destroy_at", Value: project.DestroyAt.Format(time.RFC3339)})
		if err := s.Schedule(ctx, project); err != nil {
			s.logger.Error("failed to re-arm moved deadline", err,
				logger.Field{Key: "project_id", Value: project.ID})
		}
		return
	}

	if err := s.setStatus(ctx, project.ID, store.StatusDestroying); err != nil {
		s.logger.Error("failed to mark project destroying", err,
			logger.Field{Key: "project_id", Value: project.ID})
		s.rearmDestroy(project.ID, job.Attempt, time.Now().Add(s.cfg.RetryBackoff))
		return
	}
	s.logEvent(ctx, project.ID, store.EventDestroying, map[string]any{
		"attempt": job.Attempt,
	})
	s.publish(bus.Notification{
		Type:        bus.TypeDestroying,
		ProjectID:   project.ID,
		ProjectName: project.Name,
		Path:        project.Path,
		Attempt:     job.Attempt,
	})
	s.logger.Info("destroying project",
		logger.Field{Key: "project_id", Value: project.ID},
		logger.Field{Key: "name", Value: project.Name},
		logger.Field{Key: "attempt", Value: job.Attempt})

	execution, err := s.exec.Execute(ctx, project, job.Attempt)
	if err != nil {
		// Congestion and infrastructure trouble are not destruction
		// failures: back off without consuming an attempt.
		if errors.Is(err, executor.ErrAtCapacity) {
			s.logger.Warn("executor at capacity, deferring destruction",
				logger.Field{Key: "project_id", Value: project.ID})
		} else {
			s.logger.Error("failed to launch destruction", err,
				logger.Field{Key: "project_id", Value: project.ID})
		}
		if err := s.setStatus(ctx, project.ID, store.StatusActive); err != nil {
			s.logger.Error("failed to revert project status", err,
				logger.Field{Key: "project_id", Value: project.ID})
		}
		s.rearmDestroy(project.ID, job.Attempt, time.Now().Add(s.cfg.RetryBackoff))
		return
	}

	s.finishDestroy(ctx, project, job, execution)
}

func (s *Scheduler) finishDestroy(ctx context.Context, project *store.Project, job *Job, execution *store.Execution) {
	switch execution.Status {
	case store.ExecutionCompleted:
		if err := s.setStatus(ctx, project.ID, store.StatusDestroyed); err != nil {
			s.logger.Error("failed to mark project destroyed", err,
				logger.Field{Key: "project_id", Value: project.ID})
		}
		s.logEvent(ctx, project.ID, store.EventDestroyed, map[string]any{
			"attempt":      job.Attempt,
			"execution_id": execution.ID,
		})
		s.publish(bus.Notification{
			Type:        bus.TypeCompleted,
			ProjectID:   project.ID,
			ProjectName: project.Name,
			Path:        project.Path,
			ExecutionID: execution.ID,
			Attempt:     job.Attempt,
		})
		s.removeProjectJobs(project.ID)
		s.logger.Info("project destroyed",
			logger.Field{Key: "project_id", Value: project.ID},
			logger.Field{Key: "name", Value: project.Name},
			logger.Field{Key: "attempt", Value: job.Attempt})

	case store.ExecutionCancelled:
		// Mirrors Cancel: the project returns to active, stays tracked, and
		// gets no retry.
		if err := s.setStatus(ctx, project.ID, store.StatusActive); err != nil {
			s.logger.Error("failed to revert project status", err,
				logger.Field{Key: "project_id", Value: project.ID})
		}
		s.logEvent(ctx, project.ID, store.EventCancelled, map[string]any{
			"execution_id": execution.ID,
			"reason":       "execution cancelled",
		})
		s.publish(bus.Notification{
			Type:        bus.TypeCancelled,
			ProjectID:   project.ID,
			ProjectName: project.Name,
			Path:        project.Path,
			ExecutionID: execution.ID,
		})
		s.removeProjectJobs(project.ID)
		s.logger.Info("destruction cancelled mid-run",
			logger.Field{Key: "project_id", Value: project.ID})

	default:
		s.handleFailure(ctx, project, job, execution)
	}
}

// handleFailure applies the retry policy to a failed or timed-out
// destruction attempt.
func (s *Scheduler) handleFailure(ctx context.Context, project *store.Project, job *Job, execution *store.Execution) {
	detail := map[string]any{
		"attempt":      job.Attempt,
		"execution_id": execution.ID,
		"status":       string(execution.Status),
	}
	if execution.ExitCode != nil {
		detail["exit_code"] = *execution.ExitCode
	}
	reason := executionError(execution)

	// MaxRetries counts re-attempts beyond the initial one, so attempt
	// numbers run 1..MaxRetries+1 before the failure becomes permanent.
	if job.Attempt <= s.cfg.MaxRetries {
		nextAt := time.Now().Add(s.cfg.RetryBackoff)
		if err := s.setStatus(ctx, project.ID, store.StatusActive); err != nil {
			s.logger.Error("failed to revert project status", err,
				logger.Field{Key: "project_id", Value: project.ID})
		}
		s.logEvent(ctx, project.ID, store.EventFailed, detail)
		s.publish(bus.Notification{
			Type:        bus.TypeRetryScheduled,
			ProjectID:   project.ID,
			ProjectName: project.Name,
			Path:        project.Path,
			ExecutionID: execution.ID,
			Attempt:     job.Attempt,
			DestroyAt:   nextAt,
			Error:       reason,
		})
		s.rearmDestroy(project.ID, job.Attempt+1, nextAt)
		s.logger.Warn("destruction failed, retry scheduled",
			logger.Field{Key: "project_id", Value: project.ID},
			logger.Field{Key: "attempt", Value: job.Attempt},
			logger.Field{Key: "max_retries", Value: s.cfg.MaxRetries},
			logger.Field{Key: "next_at", Value: nextAt.Format(time.RFC3339)},
			logger.Field{Key: "reason", Value: reason})
		return
	}

	detail["final"] = true
	if err := s.setStatus(ctx, project.ID, store.StatusFailed); err != nil {
		s.logger.Error("failed to mark project failed", err,
			logger.Field{Key: "project_id", Value: project.ID})
	}
	s.logEvent(ctx, project.ID, store.EventFailed, detail)
	s.publish(bus.Notification{
		Type:        bus.TypeFailed,
		ProjectID:   project.ID,
		ProjectName: project.Name,
		Path:        project.Path,
		ExecutionID: execution.ID,
		Attempt:     job.Attempt,
		Error:       reason,
	})
	s.removeProjectJobs(project.ID)
	s.logger.Error("destruction failed permanently", errors.New(reason),
		logger.Field{Key: "project_id", Value: project.ID},
		logger.Field{Key: "attempts", Value: job.Attempt})
}

// rearmDestroy arms a bare destroy job (no warning ladder) at the given
// time, for retries and transient-failure backoff.
func (s *Scheduler) rearmDestroy(projectID string, attempt int, fireAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	_, replacing := s.jobs[projectID][destroyJobID(projectID)]
	if !replacing && s.count >= s.cfg.MaxJobs {
		s.logger.Error("cannot re-arm destruction", ErrJobLimit,
			logger.Field{Key: "project_id", Value: projectID})
		return
	}

	s.armLocked(&Job{
		ID:        destroyJobID(projectID),
		ProjectID: projectID,
		Kind:      JobDestroy,
		FireAt:    fireAt,
		Attempt:   attempt,
	})
	s.updateMetricsLocked()
	s.logger.Info("destruction re-armed",
		logger.Field{Key: "project_id", Value: projectID},
		logger.Field{Key: "attempt", Value: attempt},
		logger.Field{Key: "fire_at", Value: fireAt.Format(time.RFC3339)})
}

func (s *Scheduler) setStatus(ctx context.Context, projectID string, status store.ProjectStatus) error {
	return s.store.UpdateProject(ctx, projectID, store.ProjectUpdate{Status: &status})
}

func (s *Scheduler) logEvent(ctx context.Context, projectID string, eventType store.EventType, detail map[string]any) {
	event := &store.Event{
		ProjectID: projectID,
		Type:      eventType,
		Detail:    eventDetail(detail),
	}
	if err := s.store.LogEvent(ctx, event); err != nil {
		s.logger.Error("failed to log event", err,
			logger.Field{Key: "project_id", Value: projectID},
			logger.Field{Key: "event_type", Value: eventType})
	}
}

func (s *Scheduler) publish(n bus.Notification) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(n)
}

func (s *Scheduler) updateMetricsLocked() {
	counts := map[JobKind]int{JobDestroy: 0, JobWarning: 0}
	for _, jobs := range s.jobs {
		for _, job := range jobs {
			counts[job.Kind]++
		}
	}
	for kind, n := range counts {
		s.metrics.SetJobsArmed(string(kind), n)
	}
}

func schedulable(status store.ProjectStatus) bool {
	for _, candidate := range store.SchedulableStatuses {
		if status == candidate {
			return true
		}
	}
	return false
}

func terminal(status store.ProjectStatus) bool {
	return status == store.StatusDestroyed ||
		status == store.StatusFailed ||
		status == store.StatusCancelled
}

func destroyJobID(projectID string) string {
	return projectID + ":destroy"
}

func warningJobID(projectID string, minutes int) string {
	return fmt.Sprintf("%s:warn:%d", projectID, minutes)
}

// executionError condenses a failed execution into one line for
// notifications.
func executionError(execution *store.Execution) string {
	if execution.Status == store.ExecutionTimeout {
		return "execution timed out"
	}
	if stderr := strings.TrimSpace(execution.Stderr); stderr != "" {
		lines := strings.Split(stderr, "\n")
		return strings.TrimSpace(lines[len(lines)-1])
	}
	if execution.ExitCode != nil {
		return fmt.Sprintf("exit code %d", *execution.ExitCode)
	}
	return "execution failed"
}

// eventDetail renders a detail map as compact JSON. Events are advisory; a
// marshal failure degrades to an empty detail.
func eventDetail(detail map[string]any) string {
	if len(detail) == 0 {
		return ""
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return ""
	}
	return string(data)
}
