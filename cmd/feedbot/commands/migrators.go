package commands

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/feedstock-bot/feedbot/pkg/model"
)

// NewMakeMigratorsCommand validates the configured migration set and
// initializes the migrations record.
func NewMakeMigratorsCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "make-migrators",
		Short: "Initialize migrator objects from pin/configuration state",
		Args:  cobra.NoArgs,
		RunE: runWithApp(flags, func(cmd *cobra.Command, app *App) error {
			return runMakeMigrators(cmd.Context(), app)
		}),
	}
}

// runMakeMigrators constructs every configured migrator once so that a
// broken declaration fails here, before auto-tick, and normalizes the
// stored record.
func runMakeMigrators(ctx context.Context, app *App) error {
	packages, err := loadPackages(ctx, app)
	if err != nil {
		return err
	}

	graph := buildDepGraph(packages)

	registry, err := buildRegistry(ctx, app, graph)
	if err != nil {
		return err
	}

	names := make([]string, 0, registry.Len())
	for _, m := range registry.All() {
		names = append(names, m.Name())
	}

	var set model.MigrationSetRecord

	err = app.Store.Update(ctx, model.KeyMigrations, &set, func(found bool) error {
		if !found {
			set.Migrations = []model.MigrationSpec{}
		}

		return nil
	})
	if err != nil {
		return err
	}

	app.Logger.Info("migrators initialized",
		slog.Int("count", registry.Len()),
		slog.Any("names", names))

	return nil
}
