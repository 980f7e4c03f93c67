// Package store defines the persistence model and repository interfaces for
// projects, executions and audit events. Implementations live in
// subpackages; the rest of the daemon depends only on the interfaces here.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup, update or delete targets a record
// that does not exist.
var ErrNotFound = errors.New("record not found")

// ProjectStatus is the lifecycle state of a tracked project.
type ProjectStatus string

const (
	// StatusActive means the project is tracked and schedulable.
	StatusActive ProjectStatus = "active"
	// StatusPending means the project is tracked and a destruction timer is
	// armed for it.
	StatusPending ProjectStatus = "pending"
	// StatusDestroying means an execution is in flight.
	StatusDestroying ProjectStatus = "destroying"
	// StatusDestroyed, StatusFailed and StatusCancelled are terminal until
	// the project is rediscovered or rescheduled.
	StatusDestroyed ProjectStatus = "destroyed"
	StatusFailed    ProjectStatus = "failed"
	StatusCancelled ProjectStatus = "cancelled"
)

// SchedulableStatuses are the statuses the scheduler re-arms on startup.
// Projects waiting out a retry backoff are reverted to active, so active
// plus pending covers every project that still owes a destruction.
var SchedulableStatuses = []ProjectStatus{StatusActive, StatusPending}

// Project is one tracked unit of work: a directory containing a destroy-after
// configuration file and everything needed to destroy it on time.
type Project struct {
	ID           string
	Name         string
	// Path is the absolute project directory, unique. Reconciliation uses it
	// as the natural key against discovered config files.
	Path         string
	// Config holds the validated configuration serialized as JSON.
	Config       string
	Status       ProjectStatus
	DiscoveredAt time.Time
	DestroyAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProjectUpdate is a partial update; nil fields are left untouched.
type ProjectUpdate struct {
	Name      *string
	Config    *string
	Status    *ProjectStatus
	DestroyAt *time.Time
}

// ExecutionStatus is the state of one execution attempt.
type ExecutionStatus string

const (
	ExecutionQueued    ExecutionStatus = "queued"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
	ExecutionTimeout   ExecutionStatus = "timeout"
)

// Execution records one attempt to run the destructive command for a project.
// Created when the run starts and finalized exactly once on completion.
type Execution struct {
	ID          string
	ProjectID   string
	Command     string
	WorkingDir  string
	Status      ExecutionStatus
	Attempt     int
	ExitCode    *int
	Stdout      string
	Stderr      string
	StartedAt   time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// ExecutionUpdate is a partial update applied when a run reaches a terminal
// state.
type ExecutionUpdate struct {
	Status      *ExecutionStatus
	ExitCode    *int
	Stdout      *string
	Stderr      *string
	CompletedAt *time.Time
}

// EventType classifies audit events.
type EventType string

const (
	EventDiscovered EventType = "discovered"
	EventRegistered EventType = "registered"
	EventWarning    EventType = "warning"
	EventDestroying EventType = "destroying"
	EventDestroyed  EventType = "destroyed"
	EventFailed     EventType = "failed"
	EventCancelled  EventType = "cancelled"
	EventExtended   EventType = "extended"
	EventError      EventType = "error"
)

// Event is one append-only audit entry. ProjectID is kept as a loose
// reference so history survives project deletion.
type Event struct {
	ID        int64
	ProjectID string
	Type      EventType
	// Detail is an optional JSON blob with event-specific context.
	Detail    string
	CreatedAt time.Time
}

// EventFilter narrows QueryEvents. Zero values mean "no constraint".
type EventFilter struct {
	ProjectID string
	Type      EventType
	Since     time.Time
	Limit     int
}
