package commands

import (
	"context"
	"fmt"
	"net/url"

	"github.com/urfave/cli/v3"

	"github.com/davrin/sprintd/internal/memory"
)

// NewMemoryCommand returns the memory subcommand.
func NewMemoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "memory",
		Usage: "Inspect and clear session memory",
		Commands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "Show a session's memory",
				ArgsUsage: "<session_id>",
				Action:    runMemoryShow,
			},
			{
				Name:      "clear",
				Usage:     "Clear a session's memory",
				ArgsUsage: "<session_id>",
				Action:    runMemoryClear,
			},
			{
				Name:      "clear-project",
				Usage:     "Clear all memory for a project",
				ArgsUsage: "<project_id>",
				Action:    runMemoryClearProject,
			},
		},
		DefaultCommand: "show",
	}
}

func runMemoryShow(_ context.Context, cmd *cli.Command) error {
	sessionID := cmd.Args().First()
	if sessionID == "" {
		return fmt.Errorf("usage: sprintd memory show <session_id>")
	}

	var sess memory.Session
	if err := newClient(cmd).get("/api/sessions/"+sessionID, &sess); err != nil {
		return fmt.Errorf("get session: %w", err)
	}

	fmt.Printf("Session:   %s\n", sess.ID)
	fmt.Printf("Project:   %s\n", sess.ProjectID)
	fmt.Printf("Agent:     %s\n", sess.AgentType)
	fmt.Printf("Created:   %s\n", sess.CreatedAt.Format("2006-01-02 15:04:05"))
	if sess.ExpiresAt != nil {
		fmt.Printf("Expires:   %s\n", sess.ExpiresAt.Format("2006-01-02 15:04:05"))
	}

	if len(sess.RecentDecisions) > 0 {
		fmt.Println("\nRecent decisions:")
		for _, d := range sess.RecentDecisions {
			fmt.Printf("  - %s\n", d)
		}
	}
	if len(sess.CreatedItems) > 0 {
		fmt.Println("\nCreated items:")
		for _, item := range sess.CreatedItems {
			fmt.Printf("  - %s\n", item)
		}
	}
	if len(sess.RejectedSuggestions) > 0 {
		fmt.Println("\nRejected suggestions:")
		for s := range sess.RejectedSuggestions {
			fmt.Printf("  - %s\n", s)
		}
	}
	if sess.RecentStoryIDs != nil && sess.RecentStoryIDs.Len() > 0 {
		fmt.Printf("\nRecent stories: %v\n", sess.RecentStoryIDs.IDs())
	}
	return nil
}

func runMemoryClear(_ context.Context, cmd *cli.Command) error {
	sessionID := cmd.Args().First()
	if sessionID == "" {
		return fmt.Errorf("usage: sprintd memory clear <session_id>")
	}

	if err := newClient(cmd).delete("/api/sessions/" + sessionID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	fmt.Printf("Session %s cleared.\n", sessionID)
	return nil
}

func runMemoryClearProject(_ context.Context, cmd *cli.Command) error {
	projectID := cmd.Args().First()
	if projectID == "" {
		return fmt.Errorf("usage: sprintd memory clear-project <project_id>")
	}

	path := "/api/memory?project_id=" + url.QueryEscape(projectID)
	if err := newClient(cmd).delete(path); err != nil {
		return fmt.Errorf("clear project memory: %w", err)
	}
	fmt.Printf("Memory for project %s cleared.\n", projectID)
	return nil
}
