package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/feedstock-bot/feedbot/pkg/status"
)

// NewStatusReportCommand emits the status classification as JSON on
// stdout; in debug a summary table goes to stderr.
func NewStatusReportCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "make-status-report",
		Short: "Emit the migration status report",
		Args:  cobra.NoArgs,
		RunE: runWithApp(flags, func(cmd *cobra.Command, app *App) error {
			return runStatusReport(cmd.Context(), cmd, app)
		}),
	}
}

func runStatusReport(ctx context.Context, cmd *cobra.Command, app *App) error {
	packages, err := loadPackages(ctx, app)
	if err != nil {
		return err
	}

	registry, err := buildRegistry(ctx, app, buildDepGraph(packages))
	if err != nil {
		return err
	}

	report, err := status.NewReporter(app.Store, registry, app.Logger).Build(ctx)
	if err != nil {
		return err
	}

	data, err := report.JSON()
	if err != nil {
		return err
	}

	if _, err := cmd.OutOrStdout().Write(data); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if app.Config.Debug {
		report.RenderTable(cmd.ErrOrStderr())
	}

	return nil
}
