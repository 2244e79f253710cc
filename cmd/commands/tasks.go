package commands

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/davrin/sprintd/internal/queue"
)

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Manage scheduled tasks",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List tasks",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "project",
						Usage: "Filter by project id",
					},
					&cli.StringFlag{
						Name:  "status",
						Usage: "Filter by status",
					},
				},
				Action: runTasksList,
			},
			{
				Name:      "approve",
				Usage:     "Approve a gated task",
				ArgsUsage: "<task_id>",
				Action:    runTasksApprove,
			},
			{
				Name:      "reject",
				Usage:     "Reject a gated task",
				ArgsUsage: "<task_id>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "reason",
						Usage: "Rejection reason (feeds the learning engine)",
					},
				},
				Action: runTasksReject,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a task",
				ArgsUsage: "<task_id>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "reason",
						Usage: "Cancellation reason",
					},
				},
				Action: runTasksCancel,
			},
		},
		DefaultCommand: "list",
	}
}

func runTasksList(_ context.Context, cmd *cli.Command) error {
	client := newClient(cmd)

	query := url.Values{}
	if v := cmd.String("project"); v != "" {
		query.Set("project_id", v)
	}
	if v := cmd.String("status"); v != "" {
		query.Set("status", v)
	}
	path := "/api/tasks"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var list []queue.Task
	if err := client.get(path, &list); err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROJECT\tSTATUS\tPRIORITY\tRETRIES\tTITLE")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			t.ID, t.ProjectID, t.Status, t.Priority, t.RetryCount, t.MaxRetries, t.Title)
	}
	return w.Flush()
}

func runTasksApprove(_ context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: sprintd tasks approve <task_id>")
	}

	if err := newClient(cmd).post("/api/tasks/"+taskID+"/approve", nil, nil); err != nil {
		return fmt.Errorf("approve task: %w", err)
	}
	fmt.Printf("Task %s approved.\n", taskID)
	return nil
}

func runTasksReject(_ context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: sprintd tasks reject <task_id>")
	}

	body := map[string]string{"reason": cmd.String("reason")}
	if err := newClient(cmd).post("/api/tasks/"+taskID+"/reject", body, nil); err != nil {
		return fmt.Errorf("reject task: %w", err)
	}
	fmt.Printf("Task %s rejected.\n", taskID)
	return nil
}

func runTasksCancel(_ context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: sprintd tasks cancel <task_id>")
	}

	body := map[string]string{"reason": cmd.String("reason")}
	if err := newClient(cmd).post("/api/tasks/"+taskID+"/cancel", body, nil); err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	fmt.Printf("Task %s cancelled.\n", taskID)
	return nil
}
