package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/davrin/sprintd/internal/backlog"
	"github.com/davrin/sprintd/internal/config"
	"github.com/davrin/sprintd/internal/events"
	"github.com/davrin/sprintd/internal/gateway"
	"github.com/davrin/sprintd/internal/heartbeat"
	"github.com/davrin/sprintd/internal/learning"
	"github.com/davrin/sprintd/internal/maintenance"
	"github.com/davrin/sprintd/internal/memory"
	"github.com/davrin/sprintd/internal/planner"
	"github.com/davrin/sprintd/internal/queue"
	"github.com/davrin/sprintd/internal/storage"
)

// NewDaemonCommand returns the daemon subcommand.
func NewDaemonCommand() *cli.Command {
	return &cli.Command{
		Name:  "daemon",
		Usage: "Start the sprintd orchestration daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runDaemon,
	}
}

func runDaemon(_ context.Context, cmd *cli.Command) error {
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = cmd.Int("port")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	eventLog := storage.NewEventLogger(db, bus)
	defer eventLog.Close()

	engine := learning.NewEngine(learning.NewSQLStore(db), bus, learning.Config{
		MinSharedKeywords: cfg.Learning.MinSharedKeywords,
	})

	mem := memory.NewStore(db, bus, cfg.Memory.SessionTTL.Duration())

	taskStore := queue.NewSQLStore(db)
	q := queue.New(taskStore, bus, engine, engine)

	// Reset tasks left running by a previous crash before the pool starts.
	if _, err := queue.Recover(ctx, taskStore); err != nil {
		return fmt.Errorf("recover tasks: %w", err)
	}

	var backend queue.Backend = queue.NoopBackend{}
	if cfg.Queue.BackendURL != "" {
		backend = queue.NewWebhookBackend(cfg.Queue.BackendURL)
	}

	pool := queue.NewPool(queue.PoolConfig{
		Queue:        q,
		Backend:      backend,
		Workers:      cfg.Queue.Workers,
		PollInterval: cfg.Queue.PollInterval.Duration(),
	})
	pool.Start()
	defer pool.Stop()

	backlogStore := backlog.NewSQLStore(db)
	pl := planner.New(planner.NewSQLStore(db), backlogStore, bus, q, planner.StoryDecomposer{
		MaxRetries: cfg.Queue.MaxRetries,
	})

	runner := maintenance.NewRunner()
	jobs := []struct {
		name string
		spec string
		fn   maintenance.JobFunc
	}{
		{"memory-cleanup", cfg.Maintenance.MemoryCleanupCron, maintenance.MemoryCleanup(mem)},
		{"pattern-cleanup", cfg.Maintenance.PatternCleanupCron, maintenance.PatternCleanup(engine, cfg.Learning.CleanupThreshold)},
		{"sprint-monitor", cfg.Maintenance.SprintMonitorCron, maintenance.SprintMonitor(pl, planner.Request{
			Capacity:        cfg.Planner.Capacity,
			DurationDays:    cfg.Planner.DurationDays,
			DefaultAutonomy: cfg.Planner.DefaultAutonomy,
			AutoDecompose:   cfg.Planner.AutoDecompose,
			AutoEnqueue:     cfg.Planner.AutoEnqueue,
		})},
	}
	for _, j := range jobs {
		if err := runner.Register(j.name, j.spec, j.fn); err != nil {
			return fmt.Errorf("register %s: %w", j.name, err)
		}
	}
	runner.Start()
	defer runner.Stop()

	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	hb := heartbeat.NewWriter(filepath.Join(config.SprintdPath(), "heartbeat.json"), addr, 0)
	hb.Start()
	defer hb.Stop()

	server := gateway.NewServer(gateway.Deps{
		Bus:      bus,
		EventLog: eventLog,
		Backlog:  backlogStore,
		Queue:    q,
		Planner:  pl,
		Learning: engine,
		Memory:   mem,
	}, cfg.Gateway.Host, cfg.Gateway.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
