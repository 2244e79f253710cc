package planner

import (
	"context"

	"github.com/davrin/sprintd/internal/backlog"
	"github.com/davrin/sprintd/internal/queue"
)

// StoryDecomposer maps each backlog item to a single task. It is the daemon
// default when no external decomposition service is wired in.
type StoryDecomposer struct {
	MaxRetries int
}

func (d StoryDecomposer) Decompose(ctx context.Context, item *backlog.Item) ([]queue.Spec, error) {
	return []queue.Spec{{
		Title:       item.Title,
		Description: item.Description,
		Priority:    item.Priority,
		MaxRetries:  d.MaxRetries,
	}}, nil
}
