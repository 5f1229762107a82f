package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/feedstock-bot/feedbot/internal/config"
)

// NewSyncBackendsCommand forces bidirectional reconciliation of all keys
// across the configured backends.
func NewSyncBackendsCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-lazy-json-across-backends",
		Short: "Reconcile all keys across configured backends",
		Args:  cobra.NoArgs,
		RunE: runWithApp(flags, func(cmd *cobra.Command, app *App) error {
			if len(app.Config.BackendList()) < 2 && !app.Flags.Online {
				return fmt.Errorf("%w: only %q configured, nothing to reconcile",
					ErrSkipped, config.BackendFile)
			}

			return app.Store.Sync(cmd.Context())
		}),
	}
}
