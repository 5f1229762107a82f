package commands

import (
	"github.com/spf13/cobra"

	"github.com/feedstock-bot/feedbot/pkg/tracker"
)

// NewUpdatePRsCommand reconciles stored PR state with the forge,
// optionally sharded across parallel jobs.
func NewUpdatePRsCommand(flags *GlobalFlags) *cobra.Command {
	var job, nJobs int

	cmd := &cobra.Command{
		Use:   "update-prs",
		Short: "Reconcile PR state with the forge, sharded",
		Args:  cobra.NoArgs,
		RunE: runWithApp(flags, func(cmd *cobra.Command, app *App) error {
			gateway, err := app.ensureGateway()
			if err != nil {
				return err
			}

			tr := tracker.New(app.Store, gateway, app.Config.Forge.Org, app.Logger)
			tr.Job = job
			tr.NJobs = nJobs

			return tr.Run(cmd.Context())
		}),
	}

	cmd.Flags().IntVar(&job, "job", 0, "this job's shard index")
	cmd.Flags().IntVar(&nJobs, "n-jobs", 1, "total shard count")

	return cmd
}
