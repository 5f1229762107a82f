package commands

import (
	"github.com/spf13/cobra"

	"github.com/feedstock-bot/feedbot/pkg/events"
	"github.com/feedstock-bot/feedbot/pkg/probes"
	"github.com/feedstock-bot/feedbot/pkg/tracker"
)

// NewReactToEventCommand handles one forge trigger: a PR state change or
// a feedstock push.
func NewReactToEventCommand(flags *GlobalFlags) *cobra.Command {
	var event, uid string

	cmd := &cobra.Command{
		Use:   "react-to-event",
		Short: "React to a single forge event",
		Args:  cobra.NoArgs,
		RunE: runWithApp(flags, func(cmd *cobra.Command, app *App) error {
			gateway, err := app.ensureGateway()
			if err != nil {
				return err
			}

			tr := tracker.New(app.Store, gateway, app.Config.Forge.Org, app.Logger)
			prober := probes.NewRunner(app.Store, app.Logger)
			reactor := events.New(app.Store, tr, prober, app.Logger)

			return reactor.React(cmd.Context(), events.Kind(event), uid)
		}),
	}

	cmd.Flags().StringVar(&event, "event", "", "event kind: pr or push")
	cmd.Flags().StringVar(&uid, "uid", "", "forge PR id (pr) or feedstock name (push)")
	_ = cmd.MarkFlagRequired("event")
	_ = cmd.MarkFlagRequired("uid")

	return cmd
}
