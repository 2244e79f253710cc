// Package planner implements capacity-constrained sprint planning over the
// backlog, with progress tracking and follow-on planning when a sprint
// completes.
package planner

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SprintStatus represents the lifecycle state of a sprint.
type SprintStatus string

const (
	SprintPlanning  SprintStatus = "planning"
	SprintActive    SprintStatus = "active"
	SprintCompleted SprintStatus = "completed"
	SprintCancelled SprintStatus = "cancelled"
)

// Sprint is one time-boxed execution batch.
//
// CommittedPoints never exceeds CapacityPoints at creation time; capacity is
// not a hard runtime ceiling thereafter.
type Sprint struct {
	ID              string       `json:"id"`
	ProjectID       string       `json:"project_id"`
	Name            string       `json:"name"`
	Goal            string       `json:"goal,omitempty"`
	Status          SprintStatus `json:"status"`
	CapacityPoints  int          `json:"capacity_points"`
	CommittedPoints int          `json:"committed_points"`
	StartDate       time.Time    `json:"start_date"`
	EndDate         time.Time    `json:"end_date"`
	CreatedAt       time.Time    `json:"created_at"`
}

// GenerateSprintID creates a unique sprint identifier.
func GenerateSprintID() string {
	u := uuid.New().String()
	return "spr_" + strings.ReplaceAll(u[:8], "-", "")
}
