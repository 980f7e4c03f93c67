// Package bus provides the notification fan-out between the scheduling core
// and its observers (desktop notifications, Telegram, logs). Publishing is
// fire-and-forget: a slow or broken subscriber can never stall a timer fire
// or an execution.
package bus

import (
	"encoding/json"
	"time"
)

// Type names a notification kind.
type Type string

const (
	TypeDiscovered     Type = "discovered"
	TypeUpdated        Type = "updated"
	TypeRemoved        Type = "removed"
	TypeRegistered     Type = "registered"
	TypeScheduled      Type = "scheduled"
	TypeWarning        Type = "warning"
	TypeDestroying     Type = "destroying"
	TypeCompleted      Type = "completed"
	TypeFailed         Type = "failed"
	TypeRetryScheduled Type = "retry_scheduled"
	TypeCancelled      Type = "cancelled"
	TypeExtended       Type = "extended"
	TypeError          Type = "error"

	TypeExecutionStarted Type = "execution_started"
	TypeExecutionOutput  Type = "execution_output"
)

// Notification is one observable event from the core. Fields beyond Type,
// ProjectID and Timestamp are populated per kind.
type Notification struct {
	Type        Type      `json:"type"`
	ProjectID   string    `json:"project_id,omitempty"`
	ProjectName string    `json:"project_name,omitempty"`
	Path        string    `json:"path,omitempty"`
	DestroyAt   time.Time `json:"destroy_at"`
	// MinutesLeft carries the threshold for warning notifications.
	MinutesLeft int    `json:"minutes_left,omitempty"`
	Attempt     int    `json:"attempt,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`
	// Stream and Output carry one captured chunk of subprocess output.
	Stream    string    `json:"stream,omitempty"`
	Output    string    `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ToJSON serializes the notification.
func (n *Notification) ToJSON() ([]byte, error) {
	return json.Marshal(n)
}

// FromJSON deserializes a notification.
func (n *Notification) FromJSON(data []byte) error {
	return json.Unmarshal(data, n)
}
