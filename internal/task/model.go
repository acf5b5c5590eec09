// Package task implements the task state machine and the shared task table
// (component C6): a single in-memory map guarded by a reader-writer lock,
// with TTL- and cap-based retention for terminal tasks.
package task

import (
	"time"

	"github.com/google/uuid"
)

// ID is an opaque, globally unique task identifier.
type ID = uuid.UUID

// NewID generates a new random task identifier.
func NewID() ID {
	return uuid.New()
}

// DescriptionMaxBytes is the maximum accepted size of a task description.
const DescriptionMaxBytes = 100 * 1024 // 100 KiB

// Priority is a task's urgency label. Agent selection and dispatch do not
// order tasks by it.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

// Status is the task's position in its state machine:
// Pending -> InProgress -> {Completed, Failed, Cancelled}.
type Status int

const (
	StatusPending Status = iota
	StatusInProgress
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether status is one from which no further transition occurs.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Task is the core unit of work routed by the Orchestrator.
type Task struct {
	ID          ID
	Description string
	Role        string // stringified agent.Role, kept loosely typed to avoid an import cycle
	Priority    Priority

	Status       Status
	FailedReason string

	AssignedTo *string // AgentId of whichever agent (PTY or APS) is running this
	ParentTask *ID
	TokenBudget *uint64
	Metadata    map[string]any

	Output string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Result is the outcome reported back by an agent for a task.
type Result struct {
	TaskID     ID
	Success    bool
	Output     string
	Reason     string
	TokensUsed uint64
	DurationMs int64
}

// New constructs a Pending task with the given description/role/priority.
// Returns an error if description exceeds DescriptionMaxBytes.
func New(description, role string, priority Priority) (*Task, error) {
	if len(description) > DescriptionMaxBytes {
		return nil, errDescriptionTooLarge
	}
	return &Task{
		ID:          NewID(),
		Description: description,
		Role:        role,
		Priority:    priority,
		Status:      StatusPending,
		Metadata:    make(map[string]any),
		CreatedAt:   time.Now().UTC(),
	}, nil
}
