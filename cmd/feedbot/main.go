// Package main provides the entry point for the feedbot CLI tool.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/feedstock-bot/feedbot/cmd/feedbot/commands"
	"github.com/feedstock-bot/feedbot/pkg/version"
)

// Exit codes: 0 success, 1 fatal error, 2 configured skip.
const (
	exitFatal = 1
	exitSkip  = 2
)

func main() {
	flags := &commands.GlobalFlags{}

	rootCmd := &cobra.Command{
		Use:   "feedbot",
		Short: "Feedbot - automated feedstock maintenance",
		Long: `Feedbot keeps a package ecosystem's feedstocks current: it probes
upstreams for new versions, applies migrations, and opens pull requests.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&flags.Debug, "debug", false, "single-threaded, verbose output")
	rootCmd.PersistentFlags().BoolVar(&flags.Online, "online", false, "fetch graph from mirror backend rather than local")
	rootCmd.PersistentFlags().BoolVar(&flags.NoContainers, "no-containers", false, "disable sandboxed execution of external helpers")
	rootCmd.PersistentFlags().BoolVar(&flags.DryRun, "dry-run", false, "no forge writes")

	rootCmd.AddCommand(
		commands.NewGatherFeedstocksCommand(flags),
		commands.NewMakeGraphCommand(flags),
		commands.NewUpdateVersionsCommand(flags),
		commands.NewMakeMigratorsCommand(flags),
		commands.NewAutoTickCommand(flags),
		commands.NewUpdatePRsCommand(flags),
		commands.NewStatusReportCommand(flags),
		commands.NewReactToEventCommand(flags),
		commands.NewSyncBackendsCommand(flags),
		commands.NewDeployCommand(flags),
		commands.NewImportMappingCommand(flags),
		commands.NewMappingsCommand(flags),
		versionCmd(),
	)

	err := rootCmd.Execute()
	if err != nil {
		if errors.Is(err, commands.ErrSkipped) {
			fmt.Fprintf(os.Stderr, "skipped: %v\n", err)
			os.Exit(exitSkip)
		}

		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFatal)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "feedbot %s (commit: %s, built: %s)\n",
				version.Version, version.Commit, version.Date)
		},
	}
}
