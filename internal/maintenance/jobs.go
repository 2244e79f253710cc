package maintenance

import (
	"context"
	"log/slog"

	"github.com/davrin/sprintd/internal/learning"
	"github.com/davrin/sprintd/internal/memory"
	"github.com/davrin/sprintd/internal/planner"
)

// MemoryCleanup deletes expired session memory records.
func MemoryCleanup(store *memory.Store) JobFunc {
	return func(ctx context.Context) error {
		_, err := store.CleanupExpiredMemory(ctx)
		return err
	}
}

// PatternCleanup removes low-confidence patterns for every project that has
// learned any.
func PatternCleanup(engine *learning.Engine, threshold float64) JobFunc {
	return func(ctx context.Context) error {
		projects, err := engine.Projects(ctx)
		if err != nil {
			return err
		}
		for _, projectID := range projects {
			if _, err := engine.CleanupLowConfidencePatterns(ctx, projectID, threshold); err != nil {
				slog.Error("pattern cleanup", "error", err, "project_id", projectID)
			}
		}
		return nil
	}
}

// SprintMonitor checks every active sprint for completion and chains the next
// planning cycle with req as the template (ProjectID filled per project).
func SprintMonitor(p *planner.Planner, req planner.Request) JobFunc {
	return func(ctx context.Context) error {
		projects, err := p.ActiveProjects(ctx)
		if err != nil {
			return err
		}
		for _, projectID := range projects {
			r := req
			r.ProjectID = projectID
			if _, err := p.MonitorAndContinue(ctx, r); err != nil {
				slog.Error("sprint monitor", "error", err, "project_id", projectID)
			}
		}
		return nil
	}
}
