package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/davrin/sprintd/internal/planner"
)

// NewPlanCommand returns the plan subcommand.
func NewPlanCommand() *cli.Command {
	return &cli.Command{
		Name:      "plan",
		Usage:     "Plan the next sprint for a project",
		ArgsUsage: "<project_id>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "capacity",
				Usage: "Sprint capacity in story points",
				Value: 20,
			},
			&cli.IntFlag{
				Name:  "duration",
				Usage: "Sprint duration in days",
				Value: 14,
			},
			&cli.BoolFlag{
				Name:  "decompose",
				Usage: "Decompose selected items into tasks",
			},
			&cli.BoolFlag{
				Name:  "enqueue",
				Usage: "Enqueue decomposed tasks for execution",
			},
			&cli.StringFlag{
				Name:  "goal",
				Usage: "Sprint goal",
			},
		},
		Action: runPlan,
	}
}

func runPlan(_ context.Context, cmd *cli.Command) error {
	projectID := cmd.Args().First()
	if projectID == "" {
		return fmt.Errorf("usage: sprintd plan <project_id>")
	}

	client := newClient(cmd)

	var plan planner.Plan
	err := client.post("/api/sprints/plan", planner.Request{
		ProjectID:     projectID,
		Capacity:      cmd.Int("capacity"),
		DurationDays:  cmd.Int("duration"),
		AutoDecompose: cmd.Bool("decompose"),
		AutoEnqueue:   cmd.Bool("enqueue"),
		Goal:          cmd.String("goal"),
	}, &plan)
	if err != nil {
		return fmt.Errorf("plan sprint: %w", err)
	}

	fmt.Printf("Sprint:   %s (%s)\n", plan.Sprint.Name, plan.Sprint.ID)
	fmt.Printf("Points:   %d\n", plan.TotalPoints)
	fmt.Printf("Items:    %d\n", len(plan.SelectedItems))
	for _, item := range plan.SelectedItems {
		fmt.Printf("  [%s] %s (%d pts)\n", item.Priority, item.Title, item.StoryPoints)
	}
	if len(plan.DecomposedTasks) > 0 {
		fmt.Printf("Tasks:    %d enqueued\n", len(plan.DecomposedTasks))
	}
	return nil
}
