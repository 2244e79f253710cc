// Package maintenance runs the daemon's periodic housekeeping: expired
// memory cleanup, low-confidence pattern cleanup, and the sprint monitor.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// defaultCooldown is the minimum interval between two triggers of the same job.
const defaultCooldown = 60 * time.Second

// JobFunc is one housekeeping job.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	cron     *CronExpr
	fn       JobFunc
	lastRun  time.Time
	cooldown time.Duration
}

// Runner triggers registered jobs on their cron schedules, matching at
// minute precision.
type Runner struct {
	mu   sync.Mutex
	jobs map[string]*job

	done chan struct{}
	wg   sync.WaitGroup
}

// NewRunner creates an empty maintenance runner.
func NewRunner() *Runner {
	return &Runner{
		jobs: make(map[string]*job),
		done: make(chan struct{}),
	}
}

// Register adds a job under a cron spec. Registering the same name twice is
// an error.
func (r *Runner) Register(name, cronSpec string, fn JobFunc) error {
	expr, err := ParseCron(cronSpec)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[name]; ok {
		return fmt.Errorf("maintenance job %q already registered", name)
	}
	r.jobs[name] = &job{name: name, cron: expr, fn: fn, cooldown: defaultCooldown}
	return nil
}

// Start launches the cron loop.
func (r *Runner) Start() {
	r.wg.Add(1)
	go r.cronLoop()

	r.mu.Lock()
	n := len(r.jobs)
	r.mu.Unlock()
	slog.Info("maintenance runner started", "jobs", n)
}

// Stop halts the runner and waits for in-flight jobs.
func (r *Runner) Stop() {
	close(r.done)
	r.wg.Wait()
	slog.Info("maintenance runner stopped")
}

func (r *Runner) cronLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case now := <-ticker.C:
			r.checkCron(now)
		}
	}
}

func (r *Runner) checkCron(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, j := range r.jobs {
		if !j.cron.Matches(now) {
			continue
		}
		if now.Sub(j.lastRun) < j.cooldown {
			continue
		}
		j.lastRun = now
		r.trigger(j)
	}
}

// trigger runs a job in its own goroutine. Caller must hold r.mu.
func (r *Runner) trigger(j *job) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if err := j.fn(ctx); err != nil {
			slog.Error("maintenance job failed", "job", j.name, "error", err)
			return
		}
		slog.Debug("maintenance job done", "job", j.name)
	}()
}

// RunNow triggers a registered job immediately, outside its schedule.
func (r *Runner) RunNow(ctx context.Context, name string) error {
	r.mu.Lock()
	j, ok := r.jobs[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("maintenance job %q not registered", name)
	}
	return j.fn(ctx)
}
