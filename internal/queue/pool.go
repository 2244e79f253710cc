package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// defaultPollInterval bounds how long a runnable task waits when no wake
// signal arrives.
const defaultPollInterval = 5 * time.Second

// Backend executes a task's work. Cancellation is cooperative through ctx.
type Backend interface {
	Start(ctx context.Context, t *Task) (result string, err error)
}

// runningTask tracks a task currently executing on a worker.
type runningTask struct {
	taskID string
	cancel context.CancelFunc
}

// Pool schedules runnable tasks onto a bounded set of workers.
type Pool struct {
	queue   *Queue
	backend Backend
	workers int
	poll    time.Duration

	mu      sync.Mutex
	running map[string]*runningTask // taskID → running state

	scheduleCh chan struct{} // wake-up signal for the scheduler
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// PoolConfig holds configuration for building a Pool.
type PoolConfig struct {
	Queue        *Queue
	Backend      Backend
	Workers      int           // concurrent task slots (0 = 1)
	PollInterval time.Duration // scheduler poll fallback (0 = 5s)
}

// NewPool creates a worker pool bound to the queue.
func NewPool(cfg PoolConfig) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	p := &Pool{
		queue:      cfg.Queue,
		backend:    cfg.Backend,
		workers:    workers,
		poll:       poll,
		running:    make(map[string]*runningTask),
		scheduleCh: make(chan struct{}, 1),
	}
	cfg.Queue.Bind(p)
	return p
}

// Start launches the scheduler loop.
func (p *Pool) Start() {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.wg.Add(1)
	go p.scheduleLoop()
	slog.Info("worker pool started", "workers", p.workers)
}

// Stop cancels all running tasks and waits for goroutines to finish.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	slog.Info("worker pool stopped")
}

// Wake sends a non-blocking signal to the schedule loop.
func (p *Pool) Wake() {
	select {
	case p.scheduleCh <- struct{}{}:
	default:
	}
}

// CancelTask cancels the context of a running task. The queue records the
// cancellation without waiting for the worker to acknowledge.
func (p *Pool) CancelTask(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rt, ok := p.running[taskID]; ok {
		rt.cancel()
	}
}

// scheduleLoop is the main scheduler goroutine.
func (p *Pool) scheduleLoop() {
	defer p.wg.Done()

	pollTicker := time.NewTicker(p.poll)
	defer pollTicker.Stop()

	for {
		p.schedule()

		select {
		case <-p.ctx.Done():
			return
		case <-p.scheduleCh:
		case <-pollTicker.C:
		}
	}
}

// schedule assigns runnable tasks to free workers, round-robin across
// projects with queued work.
func (p *Pool) schedule() {
	projects, err := p.queue.Store().QueuedProjects(p.ctx)
	if err != nil {
		slog.Error("list queued projects", "error", err)
		return
	}

	for _, projectID := range projects {
		for p.freeSlots() > 0 {
			t, err := p.queue.DequeueNext(p.ctx, projectID)
			if err != nil {
				slog.Error("dequeue next", "error", err, "project_id", projectID)
				break
			}
			if t == nil {
				break
			}

			run, err := p.queue.Gate(p.ctx, t)
			if err != nil {
				slog.Error("gate check", "error", err, "task_id", t.ID)
				break
			}
			if !run {
				continue // parked in awaiting_approval; try the next task
			}

			if err := p.queue.MarkRunning(p.ctx, t.ID); err != nil {
				slog.Error("mark running", "error", err, "task_id", t.ID)
				break
			}
			p.startTask(t)
		}
	}
}

func (p *Pool) freeSlots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers - len(p.running)
}

// startTask launches a goroutine to execute a task.
func (p *Pool) startTask(t *Task) {
	taskCtx, taskCancel := context.WithCancel(p.ctx)

	p.mu.Lock()
	p.running[t.ID] = &runningTask{taskID: t.ID, cancel: taskCancel}
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			taskCancel()
			p.mu.Lock()
			delete(p.running, t.ID)
			p.mu.Unlock()
			p.Wake()
		}()

		p.executeTask(taskCtx, t)
	}()
}

// executeTask runs a single task on the backend and feeds the outcome back
// through the queue so retry and cascade logic stays in one place.
func (p *Pool) executeTask(ctx context.Context, t *Task) {
	slog.Info("worker executing task", "task_id", t.ID, "title", t.Title)

	result, err := p.backend.Start(ctx, t)
	if err != nil {
		if ctx.Err() != nil {
			// Cancellation was already recorded by Cancel; nothing to feed back.
			slog.Info("task cancelled", "task_id", t.ID)
			return
		}
		slog.Error("task failed", "error", err, "task_id", t.ID)
		if ferr := p.queue.MarkFailed(context.Background(), t.ID, err.Error()); ferr != nil {
			slog.Error("mark failed", "error", ferr, "task_id", t.ID)
		}
		return
	}

	if cerr := p.queue.MarkCompleted(context.Background(), t.ID, result); cerr != nil {
		slog.Error("mark completed", "error", cerr, "task_id", t.ID)
	}
}
