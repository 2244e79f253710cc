package commands

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/davrin/sprintd/internal/planner"
)

// NewSprintsCommand returns the sprints subcommand.
func NewSprintsCommand() *cli.Command {
	return &cli.Command{
		Name:  "sprints",
		Usage: "Inspect sprints",
		Commands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "List sprints for a project",
				ArgsUsage: "<project_id>",
				Action:    runSprintsList,
			},
			{
				Name:      "progress",
				Usage:     "Show sprint progress and velocity",
				ArgsUsage: "<sprint_id>",
				Action:    runSprintsProgress,
			},
		},
		DefaultCommand: "list",
	}
}

func runSprintsList(_ context.Context, cmd *cli.Command) error {
	projectID := cmd.Args().First()
	if projectID == "" {
		return fmt.Errorf("usage: sprintd sprints list <project_id>")
	}

	var list []planner.Sprint
	path := "/api/sprints?project_id=" + url.QueryEscape(projectID)
	if err := newClient(cmd).get(path, &list); err != nil {
		return fmt.Errorf("list sprints: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No sprints found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tSTART\tEND")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Name, s.Status,
			s.StartDate.Format("2006-01-02"), s.EndDate.Format("2006-01-02"))
	}
	return w.Flush()
}

func runSprintsProgress(_ context.Context, cmd *cli.Command) error {
	sprintID := cmd.Args().First()
	if sprintID == "" {
		return fmt.Errorf("usage: sprintd sprints progress <sprint_id>")
	}

	var p planner.Progress
	if err := newClient(cmd).get("/api/sprints/"+sprintID+"/progress", &p); err != nil {
		return fmt.Errorf("sprint progress: %w", err)
	}

	fmt.Printf("Sprint:    %s (%s)\n", p.Name, p.SprintID)
	fmt.Printf("Status:    %s\n", p.Status)
	fmt.Printf("Stories:   %d/%d\n", p.CompletedStories, p.TotalStories)
	fmt.Printf("Points:    %d/%d (%.0f%%)\n", p.CompletedPoints, p.TotalPoints, p.PercentComplete)
	fmt.Printf("Velocity:  %.1f pts/week\n", p.Velocity)
	return nil
}
