package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/davrin/sprintd/internal/backlog"
	"github.com/davrin/sprintd/internal/events"
	"github.com/davrin/sprintd/internal/queue"
)

var (
	// ErrValidation is returned for malformed planning requests.
	ErrValidation = errors.New("invalid planning request")

	// ErrNoCandidates is returned when no backlog item is eligible for
	// planning.
	ErrNoCandidates = errors.New("no candidate backlog items")

	// ErrPlanningInProgress is returned when a planning run for the same
	// project is already in flight.
	ErrPlanningInProgress = errors.New("planning already in progress")
)

// Decomposer breaks a backlog item into scheduler task specs. External
// service; failures are reported as decomposition-error events and never
// abort sprint creation.
type Decomposer interface {
	Decompose(ctx context.Context, item *backlog.Item) ([]queue.Spec, error)
}

// Enqueuer feeds decomposed tasks into the scheduler. Satisfied by
// *queue.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, spec queue.Spec) (*queue.Task, error)
}

// Request parameterizes one planning run.
type Request struct {
	ProjectID       string `json:"project_id"`
	Capacity        int    `json:"capacity"`
	DurationDays    int    `json:"duration_days"`
	DefaultAutonomy string `json:"default_autonomy,omitempty"`
	AutoDecompose   bool   `json:"auto_decompose"`
	AutoEnqueue     bool   `json:"auto_enqueue"`
	Goal            string `json:"goal,omitempty"`
}

// Plan is the outcome of a planning run.
type Plan struct {
	Sprint          *Sprint         `json:"sprint"`
	SelectedItems   []*backlog.Item `json:"selected_items"`
	TotalPoints     int             `json:"total_points"`
	DecomposedTasks []*queue.Task   `json:"decomposed_tasks,omitempty"`
}

// Planner selects backlog items under a point-capacity constraint and creates
// sprints.
type Planner struct {
	store      Store
	backlog    backlog.Store
	bus        *events.Bus
	enqueuer   Enqueuer
	decomposer Decomposer

	mu         sync.Mutex
	inProgress map[string]bool // projectID → planning in flight
}

// New creates a planner. enqueuer and decomposer may be nil when decomposition
// is never requested.
func New(store Store, bl backlog.Store, bus *events.Bus, enqueuer Enqueuer, decomposer Decomposer) *Planner {
	return &Planner{
		store:      store,
		backlog:    bl,
		bus:        bus,
		enqueuer:   enqueuer,
		decomposer: decomposer,
		inProgress: make(map[string]bool),
	}
}

// GenerateNextSprint runs one planning cycle for a project. Only one planning
// run per project may be in flight; overlapping calls fail fast with
// ErrPlanningInProgress.
func (p *Planner) GenerateNextSprint(ctx context.Context, req Request) (*Plan, error) {
	if req.ProjectID == "" {
		return nil, fmt.Errorf("%w: project id is required", ErrValidation)
	}
	if req.Capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive", ErrValidation)
	}
	if req.DurationDays <= 0 {
		req.DurationDays = 14
	}

	if !p.begin(req.ProjectID) {
		return nil, fmt.Errorf("%w: project %s", ErrPlanningInProgress, req.ProjectID)
	}
	defer p.end(req.ProjectID)

	p.bus.Publish(events.NewTypedEventForProject(events.SourcePlanner, events.SprintPlanningStartedPayload{
		Capacity: req.Capacity,
	}, req.ProjectID))

	candidates, err := p.backlog.ListCandidates(ctx, req.ProjectID, backlog.Filter{
		Status: backlog.ItemPlanned,
		Lane:   backlog.LaneNow,
	})
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: project %s", ErrNoCandidates, req.ProjectID)
	}

	selected, total := selectItems(candidates, req.Capacity)

	start := time.Now()
	sprint := &Sprint{
		ProjectID:       req.ProjectID,
		Name:            "Sprint " + start.Format("2006-01-02"),
		Goal:            req.Goal,
		Status:          SprintActive,
		CapacityPoints:  req.Capacity,
		CommittedPoints: total,
		StartDate:       start,
		EndDate:         start.AddDate(0, 0, req.DurationDays),
	}
	if err := p.store.Create(ctx, sprint); err != nil {
		return nil, fmt.Errorf("create sprint: %w", err)
	}

	for _, item := range selected {
		item.Status = backlog.ItemInSprint
		item.SprintID = sprint.ID
		if err := p.backlog.Update(ctx, item); err != nil {
			return nil, fmt.Errorf("commit item %s: %w", item.ID, err)
		}
	}

	p.bus.Publish(events.NewTypedEventForProject(events.SourcePlanner, events.SprintCreatedPayload{
		SprintID:        sprint.ID,
		Name:            sprint.Name,
		SelectedItems:   len(selected),
		CommittedPoints: total,
		CapacityPoints:  req.Capacity,
	}, req.ProjectID))

	plan := &Plan{Sprint: sprint, SelectedItems: selected, TotalPoints: total}
	if req.AutoDecompose && p.decomposer != nil {
		plan.DecomposedTasks = p.decompose(ctx, sprint, selected, req)
	}

	slog.Info("sprint planned",
		"project_id", req.ProjectID, "sprint_id", sprint.ID,
		"items", len(selected), "points", total, "capacity", req.Capacity)
	return plan, nil
}

// selectItems applies the greedy packing heuristic: priority descending, then
// story points ascending, accumulating while the cumulative sum stays within
// capacity. Oversize items are skipped, not deferred. Favors packing more
// items over maximizing raw points; intentionally not a knapsack optimum.
func selectItems(candidates []*backlog.Item, capacity int) ([]*backlog.Item, int) {
	sorted := make([]*backlog.Item, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := sorted[i].Priority.Rank(), sorted[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return sorted[i].StoryPoints < sorted[j].StoryPoints
	})

	var selected []*backlog.Item
	total := 0
	for _, item := range sorted {
		if total+item.StoryPoints > capacity {
			continue
		}
		selected = append(selected, item)
		total += item.StoryPoints
	}
	return selected, total
}

// decompose calls the external decomposer per selected item, isolating
// failures: a single item's decomposition error never aborts the sprint.
func (p *Planner) decompose(ctx context.Context, sprint *Sprint, selected []*backlog.Item, req Request) []*queue.Task {
	var tasks []*queue.Task
	for _, item := range selected {
		specs, err := p.decomposer.Decompose(ctx, item)
		if err != nil {
			slog.Error("decompose item", "error", err, "item_id", item.ID, "sprint_id", sprint.ID)
			p.bus.Publish(events.NewTypedEventForProject(events.SourcePlanner, events.DecompositionErrorPayload{
				SprintID: sprint.ID,
				ItemID:   item.ID,
				Error:    err.Error(),
			}, sprint.ProjectID))
			continue
		}

		if !req.AutoEnqueue || p.enqueuer == nil {
			continue
		}
		for _, spec := range specs {
			spec.ProjectID = sprint.ProjectID
			spec.SprintID = sprint.ID
			if spec.Autonomy == "" {
				spec.Autonomy = req.DefaultAutonomy
			}
			task, err := p.enqueuer.Enqueue(ctx, spec)
			if err != nil {
				slog.Error("enqueue subtask", "error", err, "item_id", item.ID)
				continue
			}
			tasks = append(tasks, task)
		}
	}
	return tasks
}

// ActiveProjects returns the distinct projects with an active sprint.
func (p *Planner) ActiveProjects(ctx context.Context) ([]string, error) {
	return p.store.ActiveProjects(ctx)
}

// Sprints returns a project's sprint history, newest first.
func (p *Planner) Sprints(ctx context.Context, projectID string) ([]*Sprint, error) {
	return p.store.ListByProject(ctx, projectID)
}

// begin atomically marks a project's planning run in flight. Returns false
// when one is already running.
func (p *Planner) begin(projectID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inProgress[projectID] {
		return false
	}
	p.inProgress[projectID] = true
	return true
}

func (p *Planner) end(projectID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inProgress, projectID)
}
