// Package executor runs the destructive command for one project, captures
// its output and classifies the outcome. It enforces a hard ceiling on
// simultaneous runs: callers get an immediate capacity error instead of a
// silent queue.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aatumaykin/tfreaper/internal/bus"
	"github.com/aatumaykin/tfreaper/internal/logger"
	"github.com/aatumaykin/tfreaper/internal/metrics"
	"github.com/aatumaykin/tfreaper/internal/projectfile"
	"github.com/aatumaykin/tfreaper/internal/store"
)

const (
	// DefaultCommand is run when a project does not override it.
	DefaultCommand = "terraform destroy -auto-approve"
	// DefaultConcurrency is the ceiling on simultaneous executions.
	DefaultConcurrency = 3
	// DefaultGracePeriod is how long a cancelled run gets to exit before the
	// process group is killed.
	DefaultGracePeriod = 10 * time.Second
)

var (
	// ErrAtCapacity is returned when the in-flight ceiling is reached.
	ErrAtCapacity = errors.New("executor is at capacity")
	// ErrExecutionNotFound is returned when cancelling an unknown execution.
	ErrExecutionNotFound = errors.New("execution not found")
)

// Config controls executor behavior.
type Config struct {
	Concurrency    int
	DefaultCommand string
	// Environment entries merged into every child; project-level overrides
	// win on conflict.
	Environment map[string]string
	// Timeout bounds each run's wall-clock time; zero disables it.
	Timeout time.Duration
}

// Executor spawns destroy commands through a Runner and records every
// attempt in the store.
type Executor struct {
	cfg     Config
	runner  Runner
	store   store.Store
	bus     *bus.Bus
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	inflight map[string]*run
}

type run struct {
	projectID string
	cancel    chan struct{}
	once      sync.Once
}

// New creates an executor. A nil runner defaults to running commands as
// local subprocesses.
func New(cfg Config, runner Runner, st store.Store, b *bus.Bus, log *logger.Logger, m *metrics.Metrics) *Executor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.DefaultCommand == "" {
		cfg.DefaultCommand = DefaultCommand
	}
	if runner == nil {
		runner = &LocalRunner{GracePeriod: DefaultGracePeriod}
	}

	return &Executor{
		cfg:      cfg,
		runner:   runner,
		store:    st,
		bus:      b,
		logger:   log,
		metrics:  m,
		inflight: make(map[string]*run),
	}
}

// Execute runs the destroy command for the project and returns the finalized
// execution record. The returned error covers capacity and persistence
// failures; a command that ran and failed comes back as a record with status
// failed, not as an error.
func (e *Executor) Execute(ctx context.Context, project *store.Project, attempt int) (*store.Execution, error) {
	r := &run{projectID: project.ID, cancel: make(chan struct{})}
	executionID := uuid.New().String()

	// The ceiling check and the slot claim happen under one lock.
	e.mu.Lock()
	if len(e.inflight) >= e.cfg.Concurrency {
		e.mu.Unlock()
		return nil, ErrAtCapacity
	}
	e.inflight[executionID] = r
	e.mu.Unlock()

	e.metrics.ExecutionStarted()
	defer func() {
		e.mu.Lock()
		delete(e.inflight, executionID)
		e.mu.Unlock()
		e.metrics.ExecutionFinished()
	}()

	command, workDir, env := e.resolve(project)

	execution := &store.Execution{
		ID:         executionID,
		ProjectID:  project.ID,
		Command:    command,
		WorkingDir: workDir,
		Status:     store.ExecutionRunning,
		Attempt:    attempt,
		StartedAt:  time.Now().UTC(),
	}
	if err := e.store.CreateExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("create execution record: %w", err)
	}

	e.publish(bus.Notification{
		Type:        bus.TypeExecutionStarted,
		ProjectID:   project.ID,
		ProjectName: project.Name,
		Path:        project.Path,
		ExecutionID: executionID,
		Attempt:     attempt,
	})
	e.logger.Info("execution started",
		logger.Field{Key: "execution_id", Value: executionID},
		logger.Field{Key: "project_id", Value: project.ID},
		logger.Field{Key: "command", Value: command},
		logger.Field{Key: "attempt", Value: attempt})

	result, runErr := e.runner.Run(ctx, RunSpec{
		Command: command,
		Dir:     workDir,
		Env:     env,
		Timeout: e.cfg.Timeout,
		Cancel:  r.cancel,
		OnOutput: func(stream, chunk string) {
			e.publish(bus.Notification{
				Type:        bus.TypeExecutionOutput,
				ProjectID:   project.ID,
				ExecutionID: executionID,
				Stream:      stream,
				Output:      chunk,
			})
		},
	})

	completedAt := time.Now().UTC()
	execution.CompletedAt = &completedAt

	if runErr != nil {
		// The command never ran; record the spawn failure.
		execution.Status = store.ExecutionFailed
		execution.Stderr = runErr.Error()
		code := -1
		execution.ExitCode = &code
	} else {
		execution.Status = classify(result)
		execution.Stdout = result.Stdout
		execution.Stderr = result.Stderr
		code := result.ExitCode
		execution.ExitCode = &code
	}

	upd := store.ExecutionUpdate{
		Status:      &execution.Status,
		ExitCode:    execution.ExitCode,
		Stdout:      &execution.Stdout,
		Stderr:      &execution.Stderr,
		CompletedAt: execution.CompletedAt,
	}
	if err := e.store.UpdateExecution(ctx, executionID, upd); err != nil {
		e.logger.Error("failed to finalize execution record", err,
			logger.Field{Key: "execution_id", Value: executionID})
	}

	duration := completedAt.Sub(execution.StartedAt)
	e.metrics.RecordExecution(string(execution.Status), duration)
	e.logger.Info("execution finished",
		logger.Field{Key: "execution_id", Value: executionID},
		logger.Field{Key: "project_id", Value: project.ID},
		logger.Field{Key: "status", Value: execution.Status},
		logger.Field{Key: "duration", Value: duration.String()})

	return execution, nil
}

// Cancel requests graceful termination of a running execution. An unknown id
// is an error, not a no-op.
func (e *Executor) Cancel(executionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.inflight[executionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	r.once.Do(func() { close(r.cancel) })
	return nil
}

// CancelProject cancels every running execution that belongs to the project.
// Returns ErrExecutionNotFound when none is running.
func (e *Executor) CancelProject(projectID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	found := false
	for _, r := range e.inflight {
		if r.projectID == projectID {
			r.once.Do(func() { close(r.cancel) })
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: no running execution for project %s", ErrExecutionNotFound, projectID)
	}
	return nil
}

// InFlight reports the number of currently running executions.
func (e *Executor) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight)
}

// resolve derives command, working directory and environment for a project
// from its stored config.
func (e *Executor) resolve(project *store.Project) (command, workDir string, env []string) {
	command = e.cfg.DefaultCommand
	workDir = project.Path

	var projectEnv map[string]string
	if project.Config != "" {
		if cfg, err := projectfile.FromJSON(project.Config); err == nil {
			if cfg.Command != "" {
				command = cfg.Command
			}
			if cfg.Execution != nil {
				if cfg.Execution.WorkingDir != "" {
					workDir = resolveWorkDir(project.Path, cfg.Execution.WorkingDir)
				}
				projectEnv = cfg.Execution.Environment
			}
		} else {
			e.logger.Warn("unreadable stored config, using defaults",
				logger.Field{Key: "project_id", Value: project.ID})
		}
	}

	env = mergeEnv(os.Environ(), e.cfg.Environment, projectEnv)
	return command, workDir, env
}

func classify(result *RunResult) store.ExecutionStatus {
	switch {
	case result.TimedOut:
		return store.ExecutionTimeout
	case result.Cancelled:
		return store.ExecutionCancelled
	case result.ExitCode == 0:
		return store.ExecutionCompleted
	default:
		return store.ExecutionFailed
	}
}

func (e *Executor) publish(n bus.Notification) {
	if e.bus == nil {
		return
	}
	// Advisory only; a full queue must not disturb the execution path.
	_ = e.bus.Publish(n)
}

// resolveWorkDir joins a relative working directory onto the project path;
// absolute paths are taken verbatim.
func resolveWorkDir(projectPath, workDir string) string {
	if filepath.IsAbs(workDir) {
		return workDir
	}
	return filepath.Join(projectPath, workDir)
}

// mergeEnv layers override maps onto a base environment; later maps win.
func mergeEnv(base []string, overrides ...map[string]string) []string {
	merged := make(map[string]string, len(base))
	order := make([]string, 0, len(base))

	set := func(key, value string) {
		if _, seen := merged[key]; !seen {
			order = append(order, key)
		}
		merged[key] = value
	}

	for _, entry := range base {
		if i := strings.IndexByte(entry, '='); i >= 0 {
			set(entry[:i], entry[i+1:])
		}
	}
	for _, m := range overrides {
		for key, value := range m {
			set(key, value)
		}
	}

	env := make([]string, 0, len(order))
	for _, key := range order {
		env = append(env, key+"="+merged[key])
	}
	return env
}
