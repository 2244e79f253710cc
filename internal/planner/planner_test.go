package planner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/davrin/sprintd/internal/backlog"
	"github.com/davrin/sprintd/internal/events"
	"github.com/davrin/sprintd/internal/queue"
	"github.com/davrin/sprintd/internal/storage"
)

type fixture struct {
	planner *Planner
	backlog backlog.Store
	queue   *queue.Queue
	bus     *events.Bus
}

// fakeDecomposer returns one task spec per item, failing for titles listed in
// failFor. enterCh (when set) receives on entry, blockCh (when set) blocks.
type fakeDecomposer struct {
	failFor map[string]bool
	enterCh chan struct{}
	blockCh chan struct{}
}

func (d *fakeDecomposer) Decompose(ctx context.Context, item *backlog.Item) ([]queue.Spec, error) {
	if d.enterCh != nil {
		d.enterCh <- struct{}{}
	}
	if d.blockCh != nil {
		select {
		case <-d.blockCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.failFor[item.Title] {
		return nil, errors.New("decomposer unavailable")
	}
	return []queue.Spec{{
		Title:       "implement " + item.Title,
		Description: item.Description,
		Priority:    item.Priority,
	}}, nil
}

func newFixture(t *testing.T, dec Decomposer) *fixture {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "sprintd.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	bus := events.NewBus(128)
	t.Cleanup(bus.Close)

	bl := backlog.NewSQLStore(db)
	q := queue.New(queue.NewSQLStore(db), bus, nil, nil)

	return &fixture{
		planner: New(NewSQLStore(db), bl, bus, q, dec),
		backlog: bl,
		queue:   q,
		bus:     bus,
	}
}

func (f *fixture) seedItem(t *testing.T, title string, priority backlog.Priority, points int) *backlog.Item {
	t.Helper()
	item := &backlog.Item{
		ProjectID:   "proj-a",
		Title:       title,
		Description: "work on " + title,
		Priority:    priority,
		StoryPoints: points,
		Status:      backlog.ItemPlanned,
		Lane:        backlog.LaneNow,
	}
	if err := f.backlog.Create(context.Background(), item); err != nil {
		t.Fatalf("seed item %q: %v", title, err)
	}
	return item
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.planner.GenerateNextSprint(ctx, Request{Capacity: 10}); !errors.Is(err, ErrValidation) {
		t.Errorf("missing project id: expected ErrValidation, got %v", err)
	}
	if _, err := f.planner.GenerateNextSprint(ctx, Request{ProjectID: "proj-a"}); !errors.Is(err, ErrValidation) {
		t.Errorf("zero capacity: expected ErrValidation, got %v", err)
	}
	if _, err := f.planner.GenerateNextSprint(ctx, Request{ProjectID: "proj-a", Capacity: -1}); !errors.Is(err, ErrValidation) {
		t.Errorf("negative capacity: expected ErrValidation, got %v", err)
	}
}

func TestSelectionNeverExceedsCapacity(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// 5/5/15 with capacity 10 selects exactly the two 5-point items.
	f.seedItem(t, "five-a", backlog.PriorityMedium, 5)
	f.seedItem(t, "five-b", backlog.PriorityMedium, 5)
	f.seedItem(t, "fifteen", backlog.PriorityMedium, 15)

	plan, err := f.planner.GenerateNextSprint(ctx, Request{ProjectID: "proj-a", Capacity: 10})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.SelectedItems) != 2 || plan.TotalPoints != 10 {
		t.Fatalf("expected two 5-point items (10 total), got %d items / %d points",
			len(plan.SelectedItems), plan.TotalPoints)
	}
	if plan.Sprint.CommittedPoints != 10 || plan.Sprint.CapacityPoints != 10 {
		t.Errorf("sprint points wrong: committed %d capacity %d",
			plan.Sprint.CommittedPoints, plan.Sprint.CapacityPoints)
	}
	for _, item := range plan.SelectedItems {
		if item.StoryPoints != 5 {
			t.Errorf("oversize item selected: %s (%d points)", item.Title, item.StoryPoints)
		}
	}
}

func TestSelectionPriorityThenPointsAscending(t *testing.T) {
	f := newFixture(t, nil)

	f.seedItem(t, "low-small", backlog.PriorityLow, 1)
	f.seedItem(t, "critical-big", backlog.PriorityCritical, 8)
	f.seedItem(t, "critical-small", backlog.PriorityCritical, 2)
	f.seedItem(t, "high", backlog.PriorityHigh, 3)

	plan, err := f.planner.GenerateNextSprint(context.Background(), Request{ProjectID: "proj-a", Capacity: 13})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	var order []string
	for _, item := range plan.SelectedItems {
		order = append(order, item.Title)
	}
	want := []string{"critical-small", "critical-big", "high"}
	if len(order) < 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
		t.Errorf("selection order %v, want prefix %v", order, want)
	}
}

func TestNoCandidates(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.planner.GenerateNextSprint(context.Background(), Request{ProjectID: "proj-a", Capacity: 10})
	if !errors.Is(err, ErrNoCandidates) {
		t.Errorf("expected ErrNoCandidates, got %v", err)
	}
}

func TestSelectedItemsCommittedToSprint(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	seeded := f.seedItem(t, "story", backlog.PriorityHigh, 3)

	plan, err := f.planner.GenerateNextSprint(ctx, Request{ProjectID: "proj-a", Capacity: 10})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	got, err := f.backlog.Get(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Status != backlog.ItemInSprint || got.SprintID != plan.Sprint.ID {
		t.Errorf("item not committed: status %s sprint %q", got.Status, got.SprintID)
	}
}

func TestConcurrentPlanningConflicts(t *testing.T) {
	dec := &fakeDecomposer{
		enterCh: make(chan struct{}),
		blockCh: make(chan struct{}),
	}
	f := newFixture(t, dec)
	ctx := context.Background()

	f.seedItem(t, "story", backlog.PriorityHigh, 3)

	errCh := make(chan error, 1)
	go func() {
		_, err := f.planner.GenerateNextSprint(ctx, Request{
			ProjectID: "proj-a", Capacity: 10, AutoDecompose: true,
		})
		errCh <- err
	}()

	// Wait until the first run is inside decomposition, so its in-progress
	// marker is guaranteed set.
	select {
	case <-dec.enterCh:
	case <-time.After(5 * time.Second):
		t.Fatal("first planning run never reached the decomposer")
	}

	_, err := f.planner.GenerateNextSprint(ctx, Request{ProjectID: "proj-a", Capacity: 10})
	if !errors.Is(err, ErrPlanningInProgress) {
		t.Errorf("expected ErrPlanningInProgress, got %v", err)
	}

	close(dec.blockCh)
	if err := <-errCh; err != nil {
		t.Fatalf("first planning run failed: %v", err)
	}

	// The marker clears once the first run finishes; a follow-up call must get
	// past the guard (and fail only for lack of candidates).
	_, err = f.planner.GenerateNextSprint(ctx, Request{ProjectID: "proj-a", Capacity: 10})
	if !errors.Is(err, ErrNoCandidates) {
		t.Errorf("expected ErrNoCandidates after first run, got %v", err)
	}
}

func TestDecompositionErrorIsIsolated(t *testing.T) {
	dec := &fakeDecomposer{failFor: map[string]bool{"broken": true}}
	f := newFixture(t, dec)
	ctx := context.Background()

	var decompErrors int
	got := make(chan struct{}, 4)
	f.bus.Subscribe(func(e events.Event) {
		decompErrors++
		got <- struct{}{}
	}, events.EventDecompositionError)

	f.seedItem(t, "broken", backlog.PriorityCritical, 2)
	f.seedItem(t, "fine", backlog.PriorityHigh, 3)

	plan, err := f.planner.GenerateNextSprint(ctx, Request{
		ProjectID: "proj-a", Capacity: 10,
		AutoDecompose: true, AutoEnqueue: true,
		DefaultAutonomy: queue.AutonomyApprovalGates,
	})
	if err != nil {
		t.Fatalf("plan must survive a single decomposition failure: %v", err)
	}
	if len(plan.SelectedItems) != 2 {
		t.Fatalf("expected both items selected, got %d", len(plan.SelectedItems))
	}
	if len(plan.DecomposedTasks) != 1 {
		t.Fatalf("expected 1 decomposed task, got %d", len(plan.DecomposedTasks))
	}

	task := plan.DecomposedTasks[0]
	if task.SprintID != plan.Sprint.ID {
		t.Errorf("task not tagged with sprint: %q", task.SprintID)
	}
	if task.Autonomy != queue.AutonomyApprovalGates {
		t.Errorf("default autonomy not applied: %q", task.Autonomy)
	}

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("expected a decomposition-error event")
	}
}

func TestGetSprintProgress(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a := f.seedItem(t, "done", backlog.PriorityHigh, 3)
	f.seedItem(t, "pending", backlog.PriorityHigh, 5)

	plan, err := f.planner.GenerateNextSprint(ctx, Request{ProjectID: "proj-a", Capacity: 10})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	a.Status = backlog.ItemCompleted
	if err := f.backlog.Update(ctx, a); err != nil {
		t.Fatalf("update item: %v", err)
	}

	prog, err := f.planner.GetSprintProgress(ctx, plan.Sprint.ID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if prog.TotalStories != 2 || prog.CompletedStories != 1 {
		t.Errorf("stories: got %d/%d", prog.CompletedStories, prog.TotalStories)
	}
	if prog.TotalPoints != 8 || prog.CompletedPoints != 3 {
		t.Errorf("points: got %d/%d", prog.CompletedPoints, prog.TotalPoints)
	}
	if want := 3.0 / 8.0; prog.PercentComplete != want {
		t.Errorf("percent complete: got %f, want %f", prog.PercentComplete, want)
	}
	// Elapsed is floored at 1 day, so velocity is completed × 7 on day one.
	if want := 3.0 * 7; prog.Velocity != want {
		t.Errorf("velocity: got %f, want %f", prog.Velocity, want)
	}
}

func TestGetSprintProgressUnknownID(t *testing.T) {
	f := newFixture(t, nil)
	prog, err := f.planner.GetSprintProgress(context.Background(), "spr_missing")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if prog != (Progress{}) {
		t.Errorf("expected zeroed progress, got %+v", prog)
	}
}

func TestMonitorAndContinueChainsSprints(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first := f.seedItem(t, "first-cycle", backlog.PriorityHigh, 3)

	plan, err := f.planner.GenerateNextSprint(ctx, Request{ProjectID: "proj-a", Capacity: 10})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	req := Request{ProjectID: "proj-a", Capacity: 10}

	// Sprint still has pending work: nothing happens.
	next, err := f.planner.MonitorAndContinue(ctx, req)
	if err != nil {
		t.Fatalf("monitor: %v", err)
	}
	if next != nil {
		t.Fatal("incomplete sprint must not chain")
	}

	// Complete the sprint's only item and seed a follow-up candidate.
	first.Status = backlog.ItemCompleted
	if err := f.backlog.Update(ctx, first); err != nil {
		t.Fatalf("update: %v", err)
	}
	f.seedItem(t, "second-cycle", backlog.PriorityMedium, 5)

	next, err = f.planner.MonitorAndContinue(ctx, req)
	if err != nil {
		t.Fatalf("monitor: %v", err)
	}
	if next == nil || next.Sprint.ID == plan.Sprint.ID {
		t.Fatal("expected a new sprint to be planned")
	}

	done, _ := f.planner.store.Get(ctx, plan.Sprint.ID)
	if done.Status != SprintCompleted {
		t.Errorf("first sprint: expected completed, got %s", done.Status)
	}
}

func TestMonitorAndContinueNoCandidatesLeft(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	item := f.seedItem(t, "only", backlog.PriorityHigh, 3)
	if _, err := f.planner.GenerateNextSprint(ctx, Request{ProjectID: "proj-a", Capacity: 10}); err != nil {
		t.Fatalf("plan: %v", err)
	}
	item.Status = backlog.ItemCompleted
	if err := f.backlog.Update(ctx, item); err != nil {
		t.Fatalf("update: %v", err)
	}

	next, err := f.planner.MonitorAndContinue(ctx, Request{ProjectID: "proj-a", Capacity: 10})
	if err != nil {
		t.Fatalf("monitor must swallow no-candidates: %v", err)
	}
	if next != nil {
		t.Errorf("expected no follow-up plan, got %+v", next)
	}
}

func TestSprintNameCarriesDate(t *testing.T) {
	f := newFixture(t, nil)
	f.seedItem(t, "story", backlog.PriorityHigh, 3)

	plan, err := f.planner.GenerateNextSprint(context.Background(), Request{ProjectID: "proj-a", Capacity: 10})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	want := fmt.Sprintf("Sprint %s", time.Now().Format("2006-01-02"))
	if plan.Sprint.Name != want {
		t.Errorf("sprint name %q, want %q", plan.Sprint.Name, want)
	}
}
