// Package commands holds the sprintd CLI surface.
package commands

import (
	"github.com/urfave/cli/v3"

	"github.com/davrin/sprintd/internal/config"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "sprintd",
		Usage: "Autonomous sprint and task orchestration daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.StringFlag{
				Name:  "server",
				Usage: "Gateway base URL for client commands",
				Value: "http://127.0.0.1:8420",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewDaemonCommand(),
			NewStatusCommand(),
			NewPlanCommand(),
			NewTasksCommand(),
			NewSprintsCommand(),
			NewPatternsCommand(),
			NewMemoryCommand(),
		},
	}
}
