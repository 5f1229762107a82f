package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"

	"github.com/feedstock-bot/feedbot/pkg/model"
)

// NewMakeGraphCommand builds or refreshes the materialized dependency
// graph document.
func NewMakeGraphCommand(flags *GlobalFlags) *cobra.Command {
	var updateNodesAndEdges bool

	cmd := &cobra.Command{
		Use:   "make-graph",
		Short: "Build/refresh the dependency graph",
		Args:  cobra.NoArgs,
		RunE: runWithApp(flags, func(cmd *cobra.Command, app *App) error {
			return runMakeGraph(cmd.Context(), app, updateNodesAndEdges)
		}),
	}

	cmd.Flags().BoolVar(&updateNodesAndEdges, "update-nodes-and-edges", false,
		"rebuild the node set from the package records instead of refreshing the stored one")

	return cmd
}

// runMakeGraph materializes the graph document. Without the flag only
// edges of the already-known node set are refreshed; with it the node
// set itself is rebuilt from the package records.
func runMakeGraph(ctx context.Context, app *App, updateNodesAndEdges bool) error {
	packages, err := loadPackages(ctx, app)
	if err != nil {
		return err
	}

	var stored model.GraphRecord

	found, err := app.Store.View(ctx, model.KeyGraph, &stored)
	if err != nil {
		return fmt.Errorf("read graph record: %w", err)
	}

	names := make([]string, 0, len(packages))

	if updateNodesAndEdges || !found {
		for name := range packages {
			names = append(names, name)
		}
	} else {
		for _, name := range stored.Nodes {
			if _, ok := packages[name]; ok {
				names = append(names, name)
			}
		}
	}

	sort.Strings(names)

	kept := make(map[string]*model.Package, len(names))
	for _, name := range names {
		kept[name] = packages[name]
	}

	graph := buildDepGraph(kept)

	record := model.GraphRecord{Nodes: names}

	for _, name := range names {
		for _, succ := range graph.Successors(name) {
			record.Edges = append(record.Edges, [2]string{name, succ})
		}
	}

	sort.Slice(record.Edges, func(i, j int) bool {
		if record.Edges[i][0] != record.Edges[j][0] {
			return record.Edges[i][0] < record.Edges[j][0]
		}

		return record.Edges[i][1] < record.Edges[j][1]
	})

	var out model.GraphRecord

	err = app.Store.Update(ctx, model.KeyGraph, &out, func(bool) error {
		out = record

		return nil
	})
	if err != nil {
		return fmt.Errorf("write graph record: %w", err)
	}

	app.Logger.Info("graph materialized",
		slog.Int("nodes", len(record.Nodes)),
		slog.Int("edges", len(record.Edges)))

	return nil
}
