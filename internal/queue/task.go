// Package queue implements the dependency-aware task scheduler.
//
// Tasks carry priority, dependency, and autonomy metadata. The queue decides
// what becomes runnable, parks approval-gated tasks until a human or the
// learning engine clears them, and tracks retries and dependency-failure
// cascades.
package queue

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davrin/sprintd/internal/backlog"
)

// Autonomy controls how much independence a task has.
const (
	AutonomyAuto          = "auto"           // runs without sign-off
	AutonomyApprovalGates = "approval_gates" // gated unless a trusted pattern clears it
	AutonomySupervised    = "supervised"     // always gated
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusQueued           Status = "queued"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusRunning          Status = "running"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task represents a unit of work scheduled for execution.
type Task struct {
	ID          string           `json:"id"`
	ProjectID   string           `json:"project_id"`
	SprintID    string           `json:"sprint_id,omitempty"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Priority    backlog.Priority `json:"priority"`
	Autonomy    string           `json:"autonomy"`
	Status      Status           `json:"status"`
	DependsOn   []string         `json:"depends_on,omitempty"`
	RetryCount  int              `json:"retry_count"`
	MaxRetries  int              `json:"max_retries"`
	Result      string           `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	ApprovedAt  *time.Time       `json:"approved_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// Spec is the caller-supplied description of a task to enqueue.
type Spec struct {
	ProjectID   string           `json:"project_id"`
	SprintID    string           `json:"sprint_id,omitempty"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Priority    backlog.Priority `json:"priority"`
	Autonomy    string           `json:"autonomy"`
	DependsOn   []string         `json:"depends_on,omitempty"`
	MaxRetries  int              `json:"max_retries"`

	// ReviewUpfront parks a gated task in awaiting_approval immediately
	// instead of at the queued-to-running transition. Gate policy belongs to
	// the caller.
	ReviewUpfront bool `json:"review_upfront,omitempty"`
}

// GenerateTaskID creates a unique task identifier.
func GenerateTaskID() string {
	u := uuid.New().String()
	return "task_" + strings.ReplaceAll(u[:8], "-", "")
}
