package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/feedstock-bot/feedbot/internal/budget"
	"github.com/feedstock-bot/feedbot/pkg/scheduler"
)

// NewAutoTickCommand runs the migration scheduler across all configured
// migrators until the resource budget is exhausted.
func NewAutoTickCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "auto-tick",
		Short: "Run all migrators until budget exhausted",
		Args:  cobra.NoArgs,
		RunE: runWithApp(flags, func(cmd *cobra.Command, app *App) error {
			return runAutoTick(cmd.Context(), app)
		}),
	}
}

func runAutoTick(ctx context.Context, app *App) error {
	gateway, err := app.ensureGateway()
	if err != nil {
		return err
	}

	graphPkgs, err := loadPackages(ctx, app)
	if err != nil {
		return err
	}

	registry, err := buildRegistry(ctx, app, buildDepGraph(graphPkgs))
	if err != nil {
		return err
	}

	if registry.Len() == 0 {
		return fmt.Errorf("%w: no migrators configured", ErrSkipped)
	}

	// Scratch working trees live under one emptied-per-run directory.
	workDir := filepath.Join(app.Config.Scratch, "feedbot-work")
	if err := os.RemoveAll(workDir); err != nil {
		return fmt.Errorf("clear work dir: %w", err)
	}

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}

	defer os.RemoveAll(workDir)

	gate := budget.NewGate(
		budget.WithTimeout(app.Config.Timeout()),
		budget.WithDiskFloor(workDir, int64(app.Config.DiskFloor())),
		budget.WithMemoryFloor(int64(app.Config.MemoryFloor())),
	)

	workers := app.Config.Scheduler.Workers
	if app.Config.Debug {
		workers = 1
	}

	cfg := scheduler.Config{
		Org:         app.Config.Forge.Org,
		RateFloor:   app.Config.Scheduler.RateFloor,
		RetryWindow: app.Config.RetryWindow(),
		WorkDir:     workDir,
		Workers:     workers,
		DryRun:      app.Flags.DryRun,
		RunURL:      app.Config.RunURL,
	}

	// Sandboxed helper execution is not implemented; the flag is accepted
	// for interface compatibility and the helper always runs directly.
	if !app.Flags.NoContainers {
		app.Logger.Debug("container sandboxing unavailable, running helpers directly")
	}

	sched := scheduler.New(app.Store, gateway, registry, cfg,
		scheduler.WithGate(gate),
		scheduler.WithMetrics(app.Metrics),
		scheduler.WithRerenderer(&scheduler.ExecRerenderer{}),
		scheduler.WithLogger(app.Logger),
	)

	if err := sched.Run(ctx); err != nil {
		return err
	}

	app.Logger.Info("auto-tick finished",
		slog.Duration("budget_remaining", gate.Remaining()))

	return nil
}
