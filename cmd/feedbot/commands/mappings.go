package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/feedstock-bot/feedbot/pkg/mappings"
)

// NewImportMappingCommand rebuilds the import→package table.
func NewImportMappingCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "make-import-to-package-mapping",
		Short: "Rebuild the import-name to package table",
		Args:  cobra.NoArgs,
		RunE: runWithApp(flags, func(cmd *cobra.Command, app *App) error {
			builder := mappings.NewBuilder(app.Store, app.Logger)

			n, err := builder.BuildImportToPackage(cmd.Context())
			if err != nil {
				return err
			}

			app.Logger.Info("import mapping rebuilt", slog.Int("imports", n))

			return nil
		}),
	}
}

// NewMappingsCommand rebuilds every mapping table.
func NewMappingsCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "make-mappings",
		Short: "Rebuild all package mapping tables",
		Args:  cobra.NoArgs,
		RunE: runWithApp(flags, func(cmd *cobra.Command, app *App) error {
			return mappings.NewBuilder(app.Store, app.Logger).BuildAll(cmd.Context())
		}),
	}
}
