package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/davrin/sprintd/internal/events"
	"github.com/davrin/sprintd/internal/learning"
)

var (
	// ErrValidation is returned for malformed task specs. Never retried.
	ErrValidation = errors.New("invalid task spec")

	// ErrNotFound is returned when an operation names an unknown task.
	ErrNotFound = errors.New("task not found")

	// ErrInvalidTransition is returned for state transitions the lifecycle
	// does not allow.
	ErrInvalidTransition = errors.New("invalid task transition")
)

// blockedByDependency is the failure reason cascaded to dependants.
const blockedByDependency = "blocked by dependency failure"

// Approver decides whether a gated task may run without human sign-off.
// Satisfied by *learning.Engine.
type Approver interface {
	ShouldAutoApprove(ctx context.Context, projectID, itemType, text string) (learning.AutoApproveResult, error)
}

// Recorder receives learning signals from the queue: human rejections and
// terminal task outcomes. Satisfied by *learning.Engine.
type Recorder interface {
	LearnFromRejection(ctx context.Context, projectID, itemType, text string) error
	RecordTaskOutcome(ctx context.Context, projectID, itemType, text string, success bool) error
}

// Notifier lets the queue reach the execution layer: waking the scheduler on
// new work and signalling cancellation of a running task.
type Notifier interface {
	Wake()
	CancelTask(taskID string)
}

// Queue is the dependency-aware task scheduler.
type Queue struct {
	store    Store
	bus      *events.Bus
	approver Approver
	recorder Recorder
	notifier Notifier
}

// New creates a queue. approver and recorder may be nil, in which case gated
// tasks always park in awaiting_approval and no learning signals are emitted.
func New(store Store, bus *events.Bus, approver Approver, recorder Recorder) *Queue {
	return &Queue{store: store, bus: bus, approver: approver, recorder: recorder}
}

// Bind attaches the execution-layer notifier. Called once at composition time
// by the worker pool.
func (q *Queue) Bind(n Notifier) {
	q.notifier = n
}

// Store returns the underlying task store.
func (q *Queue) Store() Store {
	return q.store
}

// Enqueue validates the spec, assigns an id, and persists the task. Gated
// tasks with ReviewUpfront set park in awaiting_approval immediately.
func (q *Queue) Enqueue(ctx context.Context, spec Spec) (*Task, error) {
	if spec.ProjectID == "" {
		return nil, fmt.Errorf("%w: project id is required", ErrValidation)
	}
	if spec.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	switch spec.Autonomy {
	case "", AutonomyAuto, AutonomyApprovalGates, AutonomySupervised:
	default:
		return nil, fmt.Errorf("%w: unknown autonomy level %q", ErrValidation, spec.Autonomy)
	}

	for _, depID := range spec.DependsOn {
		dep, err := q.store.Get(ctx, depID)
		if err != nil {
			return nil, err
		}
		if dep == nil {
			return nil, fmt.Errorf("%w: unknown dependency %q", ErrValidation, depID)
		}
	}

	status := StatusQueued
	if spec.Autonomy != AutonomyAuto && spec.Autonomy != "" && spec.ReviewUpfront {
		status = StatusAwaitingApproval
	}

	t := &Task{
		ProjectID:   spec.ProjectID,
		SprintID:    spec.SprintID,
		Title:       spec.Title,
		Description: spec.Description,
		Priority:    spec.Priority,
		Autonomy:    spec.Autonomy,
		Status:      status,
		DependsOn:   spec.DependsOn,
		MaxRetries:  spec.MaxRetries,
	}
	if err := q.store.Create(ctx, t); err != nil {
		return nil, err
	}

	q.bus.Publish(events.NewTypedEventForProject(events.SourceQueue, events.TaskQueuedPayload{
		TaskID:       t.ID,
		Title:        t.Title,
		Priority:     string(t.Priority),
		Autonomy:     t.Autonomy,
		Dependencies: len(t.DependsOn),
	}, t.ProjectID))

	q.wake()
	return t, nil
}

// DequeueNext selects the highest-priority queued task whose dependencies are
// all completed. Creation order breaks ties. Returns nil when nothing is
// runnable.
func (q *Queue) DequeueNext(ctx context.Context, projectID string) (*Task, error) {
	queued, err := q.store.List(ctx, Filter{ProjectID: projectID, Status: StatusQueued})
	if err != nil {
		return nil, err
	}

	var best *Task
	for _, t := range queued {
		runnable, err := q.dependenciesCompleted(ctx, t)
		if err != nil {
			return nil, err
		}
		if !runnable {
			continue
		}
		// List is oldest-first, so strict > keeps FIFO on ties.
		if best == nil || t.Priority.Rank() > best.Priority.Rank() {
			best = t
		}
	}
	return best, nil
}

// Gate decides whether a task may transition queued to running. Auto tasks
// always pass, as do tasks already carrying an approval, human or learned.
// Remaining gated tasks consult the approver; on a negative answer the task
// parks in awaiting_approval.
func (q *Queue) Gate(ctx context.Context, t *Task) (bool, error) {
	if t.Autonomy == AutonomyAuto || t.Autonomy == "" {
		return true, nil
	}
	if t.ApprovedAt != nil {
		return true, nil
	}

	if q.approver != nil {
		res, err := q.approver.ShouldAutoApprove(ctx, t.ProjectID, "task", t.Description)
		if err != nil {
			return false, err
		}
		if res.AutoApprove {
			now := time.Now()
			t.ApprovedAt = &now
			if err := q.store.Update(ctx, t); err != nil {
				return false, err
			}
			slog.Info("task auto-approved",
				"task_id", t.ID, "pattern_id", res.PatternID, "confidence", res.Confidence)
			return true, nil
		}
	}

	t.Status = StatusAwaitingApproval
	if err := q.store.Update(ctx, t); err != nil {
		return false, err
	}
	slog.Info("task awaiting approval", "task_id", t.ID, "autonomy", t.Autonomy)
	return false, nil
}

// Approve moves an awaiting_approval task back to queued. The approval is
// persisted on the task so the gate does not re-park it.
func (q *Queue) Approve(ctx context.Context, taskID string) error {
	t, err := q.get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status != StatusAwaitingApproval {
		return fmt.Errorf("%w: approve from %s", ErrInvalidTransition, t.Status)
	}

	now := time.Now()
	t.Status = StatusQueued
	t.ApprovedAt = &now
	if err := q.store.Update(ctx, t); err != nil {
		return err
	}

	q.bus.Publish(events.NewTypedEventForProject(events.SourceQueue, events.TaskQueuedPayload{
		TaskID:   t.ID,
		Title:    t.Title,
		Priority: string(t.Priority),
		Autonomy: t.Autonomy,
	}, t.ProjectID))

	q.wake()
	return nil
}

// Reject cancels an awaiting_approval task and records the rejection as a
// negative learning signal.
func (q *Queue) Reject(ctx context.Context, taskID, reason string) error {
	t, err := q.get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status != StatusAwaitingApproval {
		return fmt.Errorf("%w: reject from %s", ErrInvalidTransition, t.Status)
	}

	now := time.Now()
	t.Status = StatusCancelled
	t.Error = reason
	t.CompletedAt = &now
	if err := q.store.Update(ctx, t); err != nil {
		return err
	}

	if q.recorder != nil {
		if err := q.recorder.LearnFromRejection(ctx, t.ProjectID, "task", t.Description); err != nil {
			slog.Error("record rejection", "error", err, "task_id", t.ID)
		}
	}

	q.bus.Publish(events.NewTypedEventForProject(events.SourceQueue, events.TaskCancelledPayload{
		TaskID: t.ID,
		Reason: reason,
	}, t.ProjectID))
	return nil
}

// MarkRunning transitions a queued task to running.
func (q *Queue) MarkRunning(ctx context.Context, taskID string) error {
	t, err := q.get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status != StatusQueued {
		return fmt.Errorf("%w: run from %s", ErrInvalidTransition, t.Status)
	}

	now := time.Now()
	t.Status = StatusRunning
	t.StartedAt = &now
	if err := q.store.Update(ctx, t); err != nil {
		return err
	}

	q.bus.Publish(events.NewTypedEventForProject(events.SourceQueue, events.TaskStartedPayload{
		TaskID: t.ID,
		Title:  t.Title,
	}, t.ProjectID))
	return nil
}

// MarkCompleted transitions a running task to completed with its result.
func (q *Queue) MarkCompleted(ctx context.Context, taskID, result string) error {
	t, err := q.get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status != StatusRunning {
		return fmt.Errorf("%w: complete from %s", ErrInvalidTransition, t.Status)
	}

	now := time.Now()
	t.Status = StatusCompleted
	t.Result = result
	t.CompletedAt = &now
	if err := q.store.Update(ctx, t); err != nil {
		return err
	}

	var duration time.Duration
	if t.StartedAt != nil {
		duration = now.Sub(*t.StartedAt)
	}
	q.bus.Publish(events.NewTypedEventForProject(events.SourceQueue, events.TaskCompletedPayload{
		TaskID:        t.ID,
		Title:         t.Title,
		ResultSummary: truncate(result, 200),
		Duration:      duration,
	}, t.ProjectID))

	q.recordOutcome(ctx, t, true)

	// A completion may unblock dependants.
	q.wake()
	return nil
}

// MarkFailed records a failure. The task re-queues while retries remain;
// otherwise it fails terminally and every task depending on it, directly or
// transitively, fails with a blocked-by-dependency reason.
func (q *Queue) MarkFailed(ctx context.Context, taskID, taskErr string) error {
	t, err := q.get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return fmt.Errorf("%w: fail from %s", ErrInvalidTransition, t.Status)
	}

	t.RetryCount++
	t.Error = taskErr
	willRetry := t.RetryCount < t.MaxRetries

	if willRetry {
		t.Status = StatusQueued
		t.StartedAt = nil
	} else {
		now := time.Now()
		t.Status = StatusFailed
		t.CompletedAt = &now
	}
	if err := q.store.Update(ctx, t); err != nil {
		return err
	}

	q.bus.Publish(events.NewTypedEventForProject(events.SourceQueue, events.TaskFailedPayload{
		TaskID:     t.ID,
		Title:      t.Title,
		Error:      taskErr,
		RetryCount: t.RetryCount,
		WillRetry:  willRetry,
	}, t.ProjectID))

	if willRetry {
		q.wake()
		return nil
	}

	q.recordOutcome(ctx, t, false)
	return q.cascadeFailure(ctx, t)
}

// recordOutcome feeds a terminal task outcome to the recorder. Retries and
// cascaded dependency failures never reach it.
func (q *Queue) recordOutcome(ctx context.Context, t *Task, success bool) {
	if q.recorder == nil {
		return
	}
	if err := q.recorder.RecordTaskOutcome(ctx, t.ProjectID, "task", t.Description, success); err != nil {
		slog.Error("record task outcome", "error", err, "task_id", t.ID)
	}
}

// Cancel transitions a task out of any non-terminal state, signalling the
// execution layer first when the task is running. No retry follows.
func (q *Queue) Cancel(ctx context.Context, taskID, reason string) error {
	t, err := q.get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return nil
	}

	if t.Status == StatusRunning && q.notifier != nil {
		q.notifier.CancelTask(t.ID)
	}

	now := time.Now()
	t.Status = StatusCancelled
	t.Error = reason
	t.CompletedAt = &now
	if err := q.store.Update(ctx, t); err != nil {
		return err
	}

	q.bus.Publish(events.NewTypedEventForProject(events.SourceQueue, events.TaskCancelledPayload{
		TaskID: t.ID,
		Reason: reason,
	}, t.ProjectID))
	return nil
}

// cascadeFailure fails every non-terminal task in the project that depends,
// directly or transitively, on the failed task.
func (q *Queue) cascadeFailure(ctx context.Context, failed *Task) error {
	all, err := q.store.List(ctx, Filter{ProjectID: failed.ProjectID})
	if err != nil {
		return err
	}

	blocked := map[string]bool{failed.ID: true}
	// Fixed-point pass: keep marking until no new dependant appears.
	for changed := true; changed; {
		changed = false
		for _, t := range all {
			if blocked[t.ID] || t.Status.Terminal() {
				continue
			}
			for _, depID := range t.DependsOn {
				if blocked[depID] {
					blocked[t.ID] = true
					changed = true
					break
				}
			}
		}
	}

	for _, t := range all {
		if !blocked[t.ID] || t.ID == failed.ID || t.Status.Terminal() {
			continue
		}
		now := time.Now()
		t.Status = StatusFailed
		t.Error = blockedByDependency
		t.CompletedAt = &now
		if err := q.store.Update(ctx, t); err != nil {
			return err
		}
		q.bus.Publish(events.NewTypedEventForProject(events.SourceQueue, events.TaskFailedPayload{
			TaskID:     t.ID,
			Title:      t.Title,
			Error:      blockedByDependency,
			RetryCount: t.RetryCount,
		}, t.ProjectID))
	}
	return nil
}

// dependenciesCompleted reports whether every dependency of t is completed.
func (q *Queue) dependenciesCompleted(ctx context.Context, t *Task) (bool, error) {
	for _, depID := range t.DependsOn {
		dep, err := q.store.Get(ctx, depID)
		if err != nil {
			return false, err
		}
		if dep == nil || dep.Status != StatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

func (q *Queue) get(ctx context.Context, taskID string) (*Task, error) {
	t, err := q.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return t, nil
}

func (q *Queue) wake() {
	if q.notifier != nil {
		q.notifier.Wake()
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
