// Package task defines the durable record tracking a generation
// job's lifecycle, independent of any in-memory UI state.
package task

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// ResourceClass determines which concurrency pool and retry policy
// applies to a task.
type ResourceClass string

const (
	ClassImage ResourceClass = "image"
	ClassVideo ResourceClass = "video"
)

// Status is a task's position in its lifecycle. Transitions run
// queued→generating→completed|failed only; a task never re-enters
// queued after leaving it.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is one attempt-tracked unit of generation work.
type Task struct {
	ID                 string                 `json:"id"`
	ResourceClass      ResourceClass          `json:"resource_class"`
	Status             Status                 `json:"status"`
	SubmittedAt        time.Time              `json:"submitted_at"`
	ExecutionStartedAt *time.Time             `json:"execution_started_at,omitempty"`
	Request            map[string]interface{} `json:"request,omitempty"`
	ErrorDetail        string                 `json:"error_detail,omitempty"`
}

// NewID returns a fresh lexicographically-sortable task ID.
func NewID() string {
	return ulid.Make().String()
}
