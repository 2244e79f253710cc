package commands

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/davrin/sprintd/internal/learning"
)

// NewPatternsCommand returns the patterns subcommand.
func NewPatternsCommand() *cli.Command {
	return &cli.Command{
		Name:  "patterns",
		Usage: "Inspect learned approval patterns",
		Commands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "List patterns for a project",
				ArgsUsage: "<project_id>",
				Action:    runPatternsList,
			},
			{
				Name:      "cleanup",
				Usage:     "Remove low-confidence patterns",
				ArgsUsage: "<project_id>",
				Flags: []cli.Flag{
					&cli.FloatFlag{
						Name:  "threshold",
						Usage: "Confidence below which patterns are removed",
						Value: 0.3,
					},
				},
				Action: runPatternsCleanup,
			},
		},
		DefaultCommand: "list",
	}
}

func runPatternsList(_ context.Context, cmd *cli.Command) error {
	projectID := cmd.Args().First()
	if projectID == "" {
		return fmt.Errorf("usage: sprintd patterns list <project_id>")
	}

	var list []learning.Pattern
	path := "/api/patterns?project_id=" + url.QueryEscape(projectID)
	if err := newClient(cmd).get(path, &list); err != nil {
		return fmt.Errorf("list patterns: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No patterns learned yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tCONFIDENCE\tUSED\tKEYWORDS")
	for _, p := range list {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%d\t%v\n",
			p.ID, p.Kind, p.Confidence, p.UsageCount, p.Keywords)
	}
	return w.Flush()
}

func runPatternsCleanup(_ context.Context, cmd *cli.Command) error {
	projectID := cmd.Args().First()
	if projectID == "" {
		return fmt.Errorf("usage: sprintd patterns cleanup <project_id>")
	}

	var result map[string]int
	err := newClient(cmd).post("/api/patterns/cleanup", map[string]any{
		"project_id": projectID,
		"threshold":  cmd.Float("threshold"),
	}, &result)
	if err != nil {
		return fmt.Errorf("cleanup patterns: %w", err)
	}

	fmt.Printf("Removed %d low-confidence patterns.\n", result["removed"])
	return nil
}
