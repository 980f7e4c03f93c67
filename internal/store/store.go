package store

import (
	"context"
	"time"
)

// ProjectStore handles persistence of tracked projects.
type ProjectStore interface {
	// CreateProject inserts a new project. The path must be unique.
	CreateProject(ctx context.Context, p *Project) error

	// UpdateProject applies the non-nil fields of upd to the project.
	// Returns ErrNotFound if the project does not exist.
	UpdateProject(ctx context.Context, id string, upd ProjectUpdate) error

	// DeleteProject removes a project. Executions and events referencing it
	// are kept for audit.
	DeleteProject(ctx context.Context, id string) error

	// GetProject returns a project by id, or ErrNotFound.
	GetProject(ctx context.Context, id string) (*Project, error)

	// GetProjectByPath returns the project for an absolute directory path,
	// or ErrNotFound.
	GetProjectByPath(ctx context.Context, path string) (*Project, error)

	// ListSchedulable returns every project in a status the scheduler
	// re-arms on startup, ordered by destroy time.
	ListSchedulable(ctx context.Context) ([]*Project, error)

	// ListProjectsByStatus returns projects in any of the given statuses.
	ListProjectsByStatus(ctx context.Context, statuses ...ProjectStatus) ([]*Project, error)

	// ListProjects returns all projects ordered by destroy time.
	ListProjects(ctx context.Context) ([]*Project, error)
}

// ExecutionStore handles the execution audit trail.
type ExecutionStore interface {
	// CreateExecution inserts a new execution row.
	CreateExecution(ctx context.Context, e *Execution) error

	// UpdateExecution applies the non-nil fields of upd to the execution.
	// Returns ErrNotFound if the execution does not exist.
	UpdateExecution(ctx context.Context, id string, upd ExecutionUpdate) error

	// ListExecutionsByProject returns a project's executions, newest first.
	ListExecutionsByProject(ctx context.Context, projectID string) ([]*Execution, error)

	// ListRunningExecutions returns executions still in a non-terminal state.
	ListRunningExecutions(ctx context.Context) ([]*Execution, error)

	// PurgeExecutionsBefore deletes terminal executions started before the
	// cutoff and reports how many rows were removed.
	PurgeExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventStore handles the append-only event log.
type EventStore interface {
	// LogEvent appends an event and fills in its assigned id.
	LogEvent(ctx context.Context, e *Event) error

	// QueryEvents returns events matching the filter, newest first.
	QueryEvents(ctx context.Context, f EventFilter) ([]*Event, error)

	// PurgeEventsBefore deletes events older than the cutoff and reports how
	// many rows were removed.
	PurgeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store is the full repository surface plus lifecycle management.
type Store interface {
	ProjectStore
	ExecutionStore
	EventStore

	Close() error
}
