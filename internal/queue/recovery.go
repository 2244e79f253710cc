package queue

import (
	"context"
	"log/slog"
)

// Recover resets all running tasks to queued after a daemon restart. Must run
// before the worker pool starts.
func Recover(ctx context.Context, store Store) (int, error) {
	running, err := store.List(ctx, Filter{Status: StatusRunning})
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, t := range running {
		t.Status = StatusQueued
		t.StartedAt = nil
		if err := store.Update(ctx, t); err != nil {
			slog.Error("recover task", "error", err, "task_id", t.ID)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		slog.Info("recovered interrupted tasks", "count", recovered)
	}
	return recovered, nil
}
