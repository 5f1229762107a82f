package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/feedstock-bot/feedbot/pkg/forge"
)

// NewDeployCommand commits and pushes the mutated graph store checkout.
func NewDeployCommand(flags *GlobalFlags) *cobra.Command {
	var branch string

	cmd := &cobra.Command{
		Use:   "deploy-to-github",
		Short: "Commit and push the mutated graph store",
		Args:  cobra.NoArgs,
		RunE: runWithApp(flags, func(cmd *cobra.Command, app *App) error {
			if app.Flags.DryRun {
				return fmt.Errorf("%w: --dry-run suppresses the store push", ErrSkipped)
			}

			if err := app.Config.RequireToken(); err != nil {
				return err
			}

			deployer := forge.NewDeployer(forge.GitHubConfig{
				Token:    app.Config.Forge.Token,
				BotName:  app.Config.Forge.BotName,
				BotEmail: app.Config.Forge.BotEmail,
				Host:     app.Config.Forge.Host,
			}, app.Config.Graph.Dir, branch)

			message := fmt.Sprintf("graph update %s", time.Now().UTC().Format(time.RFC3339))
			if app.Config.RunURL != "" {
				message += "\n\nrun: " + app.Config.RunURL
			}

			pushed, err := deployer.Deploy(cmd.Context(), message)
			if err != nil {
				return err
			}

			if !pushed {
				app.Logger.Info("store unchanged, nothing to deploy")
			}

			return nil
		}),
	}

	cmd.Flags().StringVar(&branch, "branch", "main", "store branch to push")

	return cmd
}
