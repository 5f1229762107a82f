package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/feedstock-bot/feedbot/pkg/depgraph"
	"github.com/feedstock-bot/feedbot/pkg/migrators"
	"github.com/feedstock-bot/feedbot/pkg/model"
	"github.com/feedstock-bot/feedbot/pkg/scheduler"
)

// Migration kinds accepted in the migrations record.
const (
	kindPin          = "pin"
	kindRebuild      = "rebuild"
	kindArch         = "arch"
	kindCrossCompile = "cross_compile"
	kindRerender     = "rerender"
)

// ErrUnknownMigration indicates a migrations record entry with an
// unrecognized kind.
var ErrUnknownMigration = errors.New("commands: unknown migration kind")

// loadPackages reads every package aggregate, skipping corrupt keys.
func loadPackages(ctx context.Context, app *App) (map[string]*model.Package, error) {
	keys, err := app.Store.KeysPrefix(ctx, model.PrefixNode)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}

	packages := make(map[string]*model.Package, len(keys))

	for _, key := range keys {
		name := strings.TrimPrefix(key, model.PrefixNode)

		pkg, err := scheduler.LoadPackage(ctx, app.Store, name)
		if err != nil {
			app.Logger.Warn("skipping unreadable package",
				slog.String("key", key), slog.Any("error", err))

			continue
		}

		if pkg != nil {
			packages[name] = pkg
		}
	}

	return packages, nil
}

// buildDepGraph derives the dependency graph from the loaded records.
func buildDepGraph(packages map[string]*model.Package) *depgraph.Graph {
	reqs := make(map[string]model.Requirements, len(packages))
	for name, pkg := range packages {
		reqs[name] = pkg.Record.Requirements
	}

	return depgraph.Build(reqs)
}

// buildRegistry assembles the migrator set: the version migrator always,
// plus every entry of the migrations record.
func buildRegistry(ctx context.Context, app *App, graph *depgraph.Graph) (*migrators.Registry, error) {
	registry := migrators.NewRegistry()

	if err := registry.Register(migrators.NewVersion(migrators.HTTPHasher(http.DefaultClient))); err != nil {
		return nil, err
	}

	var set model.MigrationSetRecord

	found, err := app.Store.View(ctx, model.KeyMigrations, &set)
	if err != nil {
		return nil, fmt.Errorf("read migrations record: %w", err)
	}

	if !found {
		return registry, nil
	}

	for _, spec := range set.Migrations {
		m, err := migratorFromSpec(spec, graph)
		if err != nil {
			return nil, err
		}

		if err := registry.Register(m); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// migratorFromSpec constructs one migrator variant from its declaration.
func migratorFromSpec(spec model.MigrationSpec, graph *depgraph.Graph) (migrators.Migrator, error) {
	switch spec.Kind {
	case kindPin:
		return migrators.NewPin(spec.OldName, spec.NewName), nil
	case kindRebuild:
		return migrators.NewRebuild(spec.Anchor, spec.Reason, graph), nil
	case kindArch:
		return migrators.NewArch(spec.Platforms, spec.Provider), nil
	case kindCrossCompile:
		return migrators.NewCrossCompile(spec.Mappings), nil
	case kindRerender:
		return migrators.NewRerender(spec.Tooling, spec.Pinning), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMigration, spec.Kind)
	}
}
