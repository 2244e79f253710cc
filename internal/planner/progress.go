package planner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/davrin/sprintd/internal/backlog"
	"github.com/davrin/sprintd/internal/events"
)

// Progress summarizes a sprint's completion and velocity.
type Progress struct {
	SprintID         string  `json:"sprint_id"`
	Name             string  `json:"name,omitempty"`
	Status           string  `json:"status,omitempty"`
	TotalStories     int     `json:"total_stories"`
	CompletedStories int     `json:"completed_stories"`
	TotalPoints      int     `json:"total_points"`
	CompletedPoints  int     `json:"completed_points"`
	PercentComplete  float64 `json:"percent_complete"`
	Velocity         float64 `json:"velocity"` // points per 7-day week
}

// GetSprintProgress computes completion and velocity for a sprint. Unknown
// sprint ids yield a zeroed structure, not an error.
func (p *Planner) GetSprintProgress(ctx context.Context, sprintID string) (Progress, error) {
	sprint, err := p.store.Get(ctx, sprintID)
	if err != nil {
		return Progress{}, err
	}
	if sprint == nil {
		return Progress{}, nil
	}

	items, err := p.backlog.ListBySprint(ctx, sprintID)
	if err != nil {
		return Progress{}, err
	}

	prog := Progress{
		SprintID: sprint.ID,
		Name:     sprint.Name,
		Status:   string(sprint.Status),
	}
	for _, item := range items {
		prog.TotalStories++
		prog.TotalPoints += item.StoryPoints
		if item.Status == backlog.ItemCompleted {
			prog.CompletedStories++
			prog.CompletedPoints += item.StoryPoints
		}
	}

	if prog.TotalPoints > 0 {
		prog.PercentComplete = float64(prog.CompletedPoints) / float64(prog.TotalPoints)
	}

	// Floor elapsed at one day to avoid dividing by zero on day one.
	elapsedDays := time.Since(sprint.StartDate).Hours() / 24
	if elapsedDays < 1 {
		elapsedDays = 1
	}
	prog.Velocity = float64(prog.CompletedPoints) / elapsedDays * 7

	return prog, nil
}

// CheckSprintCompletion marks an active sprint completed once every committed
// item reached a terminal state. Returns whether the sprint is now completed.
func (p *Planner) CheckSprintCompletion(ctx context.Context, sprintID string) (bool, error) {
	sprint, err := p.store.Get(ctx, sprintID)
	if err != nil {
		return false, err
	}
	if sprint == nil {
		return false, nil
	}
	if sprint.Status == SprintCompleted {
		return true, nil
	}
	if sprint.Status != SprintActive {
		return false, nil
	}

	items, err := p.backlog.ListBySprint(ctx, sprintID)
	if err != nil {
		return false, err
	}
	if len(items) == 0 {
		return false, nil
	}
	for _, item := range items {
		if item.Status != backlog.ItemCompleted {
			return false, nil
		}
	}

	sprint.Status = SprintCompleted
	if err := p.store.Update(ctx, sprint); err != nil {
		return false, err
	}

	p.bus.Publish(events.NewTypedEventForProject(events.SourcePlanner, events.SprintCompletedPayload{
		SprintID: sprint.ID,
		Name:     sprint.Name,
	}, sprint.ProjectID))

	slog.Info("sprint completed", "sprint_id", sprint.ID, "project_id", sprint.ProjectID)
	return true, nil
}

// MonitorAndContinue polls the project's active sprint and, when it just
// completed, plans the next cycle with req. Returns nil when there is no
// active sprint, the sprint is still running, or no candidates remain.
func (p *Planner) MonitorAndContinue(ctx context.Context, req Request) (*Plan, error) {
	active, err := p.store.ActiveByProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, nil
	}

	done, err := p.CheckSprintCompletion(ctx, active.ID)
	if err != nil {
		return nil, err
	}
	if !done {
		return nil, nil
	}

	plan, err := p.GenerateNextSprint(ctx, req)
	if errors.Is(err, ErrNoCandidates) {
		slog.Info("no candidates for next sprint", "project_id", req.ProjectID)
		return nil, nil
	}
	return plan, err
}
