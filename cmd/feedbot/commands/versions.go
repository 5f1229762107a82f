package commands

import (
	"github.com/spf13/cobra"

	"github.com/feedstock-bot/feedbot/pkg/probes"
)

// NewUpdateVersionsCommand runs the upstream version probes, optionally
// sharded across parallel jobs.
func NewUpdateVersionsCommand(flags *GlobalFlags) *cobra.Command {
	var job, nJobs int

	cmd := &cobra.Command{
		Use:   "update-upstream-versions",
		Short: "Run upstream version probes, sharded by node hash",
		Args:  cobra.NoArgs,
		RunE: runWithApp(flags, func(cmd *cobra.Command, app *App) error {
			runner := probes.NewRunner(app.Store, app.Logger)
			runner.Job = job
			runner.NJobs = nJobs

			return runner.Run(cmd.Context())
		}),
	}

	cmd.Flags().IntVar(&job, "job", 0, "this job's shard index")
	cmd.Flags().IntVar(&nJobs, "n-jobs", 1, "total shard count")

	return cmd
}
