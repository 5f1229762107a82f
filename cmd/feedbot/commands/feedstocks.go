package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/feedstock-bot/feedbot/pkg/model"
)

// feedstockSuffix is the repository naming convention for feedstocks.
const feedstockSuffix = "-feedstock"

// NewGatherFeedstocksCommand refreshes the known-feedstock list.
func NewGatherFeedstocksCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "gather-all-feedstocks",
		Short: "Refresh the known-feedstock list",
		Args:  cobra.NoArgs,
		RunE: runWithApp(flags, func(cmd *cobra.Command, app *App) error {
			return runGatherFeedstocks(cmd.Context(), app)
		}),
	}
}

func runGatherFeedstocks(ctx context.Context, app *App) error {
	gateway, err := app.ensureGateway()
	if err != nil {
		return err
	}

	feedstocks, err := gateway.ListFeedstocks(ctx, app.Config.Forge.Org)
	if err != nil {
		return fmt.Errorf("list feedstocks: %w", err)
	}

	var created, archived int

	record := model.AllFeedstocksRecord{Updated: time.Now().UTC()}

	for _, fs := range feedstocks {
		record.Names = append(record.Names, fs.Name)

		if fs.Archived {
			record.Archived = append(record.Archived, fs.Name)
		}

		pkgName := strings.TrimSuffix(fs.Name, feedstockSuffix)

		var rec model.PackageRecord

		err := app.Store.Update(ctx, model.PrefixNode+pkgName, &rec, func(found bool) error {
			if !found {
				created++
				rec.Name = pkgName
			}

			rec.FeedstockName = fs.Name

			if fs.Archived && !rec.Archived {
				archived++
				rec.Archived = true
			}

			return nil
		})
		if err != nil {
			return fmt.Errorf("record feedstock %s: %w", fs.Name, err)
		}
	}

	sort.Strings(record.Names)
	sort.Strings(record.Archived)

	var stored model.AllFeedstocksRecord

	err = app.Store.Update(ctx, model.KeyAllFeedstocks, &stored, func(bool) error {
		stored = record

		return nil
	})
	if err != nil {
		return fmt.Errorf("write feedstock list: %w", err)
	}

	app.Logger.Info("feedstock list refreshed",
		slog.Int("total", len(record.Names)),
		slog.Int("new", created),
		slog.Int("newly_archived", archived))

	return nil
}
