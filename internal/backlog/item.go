// Package backlog holds prioritized backlog items that sprint planning
// selects from.
package backlog

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ItemStatus represents the lifecycle state of a backlog item.
type ItemStatus string

const (
	ItemPlanned   ItemStatus = "planned"
	ItemInSprint  ItemStatus = "in_sprint"
	ItemCompleted ItemStatus = "completed"
)

// Lane buckets items by planning horizon.
type Lane string

const (
	LaneNow   Lane = "now"
	LaneNext  Lane = "next"
	LaneLater Lane = "later"
)

// Priority represents item urgency. Shared with queue tasks.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank maps a priority to a numeric rank (higher = more urgent).
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// Item is a single backlog entry.
type Item struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    Priority   `json:"priority"`
	StoryPoints int        `json:"story_points"`
	Status      ItemStatus `json:"status"`
	Lane        Lane       `json:"lane"`
	SprintID    string     `json:"sprint_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Filter narrows ListCandidates results.
type Filter struct {
	Status ItemStatus
	Lane   Lane
}

// GenerateItemID creates a unique backlog item identifier.
func GenerateItemID() string {
	u := uuid.New().String()
	return "item_" + strings.ReplaceAll(u[:8], "-", "")
}
