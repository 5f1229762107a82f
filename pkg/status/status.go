// Package status classifies every (migrator, package) pair into the
// bot's migration state machine and renders the result as deterministic
// JSON for machines and a summary table for humans.
package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/feedstock-bot/feedbot/pkg/depgraph"
	"github.com/feedstock-bot/feedbot/pkg/lazyjson"
	"github.com/feedstock-bot/feedbot/pkg/migrators"
	"github.com/feedstock-bot/feedbot/pkg/model"
	"github.com/feedstock-bot/feedbot/pkg/scheduler"
)

// Node states. Terminal is done; bot-error is recoverable by clearing
// the record's bad field.
const (
	StatusDone            = "done"
	StatusInPR            = "in-pr"
	StatusAwaitingPR      = "awaiting-pr"
	StatusAwaitingParents = "awaiting-parents"
	StatusBotError        = "bot-error"
)

// statusColumns fixes the table column order.
var statusColumns = []string{
	StatusDone, StatusInPR, StatusAwaitingPR, StatusAwaitingParents, StatusBotError,
}

// NodeInfo is the migrator-independent graph context of one package.
type NodeInfo struct {
	NumDescendants    int      `json:"num_descendants"`
	ImmediateChildren []string `json:"immediate_children"`
}

// NodeStatus is one (migrator, package) classification.
type NodeStatus struct {
	Status string `json:"status"`
	PRURL  string `json:"pr_url,omitempty"`
}

// Report is the full status document. All maps serialize with sorted
// keys, so the JSON is deterministic for a given store state.
type Report struct {
	Migrators   map[string]map[string]NodeStatus `json:"migrators"`
	Nodes       map[string]NodeInfo              `json:"nodes"`
	Totals      map[string]map[string]int        `json:"totals"`
	CorruptKeys []string                         `json:"corrupt_keys,omitempty"`
}

// Reporter builds status reports from the store.
type Reporter struct {
	store    *lazyjson.Store
	registry *migrators.Registry
	logger   *slog.Logger
}

// NewReporter builds a reporter over the store and migrator set.
func NewReporter(store *lazyjson.Store, registry *migrators.Registry, logger *slog.Logger) *Reporter {
	return &Reporter{store: store, registry: registry, logger: logger}
}

// Build walks every package and classifies it under every migrator.
func (r *Reporter) Build(ctx context.Context) (*Report, error) {
	packages, corrupt, err := r.loadPackages(ctx)
	if err != nil {
		return nil, err
	}

	graph := graphOf(packages)

	report := &Report{
		Migrators:   map[string]map[string]NodeStatus{},
		Nodes:       map[string]NodeInfo{},
		Totals:      map[string]map[string]int{},
		CorruptKeys: corrupt,
	}

	for name := range packages {
		children := graph.Successors(name)
		if children == nil {
			children = []string{}
		}

		report.Nodes[name] = NodeInfo{
			NumDescendants:    len(graph.Descendants(name)),
			ImmediateChildren: children,
		}
	}

	for _, m := range r.registry.All() {
		states := map[string]NodeStatus{}
		totals := map[string]int{}

		blocked := awaitingParents(m, graph, packages)

		for name, pkg := range packages {
			if pkg.Record.Archived {
				continue
			}

			ns := classify(m, pkg, blocked[name])
			states[name] = ns
			totals[ns.Status]++
		}

		report.Migrators[m.Name()] = states
		report.Totals[m.Name()] = totals
	}

	return report, nil
}

// loadPackages reads every package, collecting corrupt keys instead of
// failing on them.
func (r *Reporter) loadPackages(ctx context.Context) (map[string]*model.Package, []string, error) {
	keys, err := r.store.KeysPrefix(ctx, model.PrefixNode)
	if err != nil {
		return nil, nil, fmt.Errorf("list packages: %w", err)
	}

	packages := map[string]*model.Package{}

	var corrupt []string

	for _, key := range keys {
		name := strings.TrimPrefix(key, model.PrefixNode)

		pkg, err := scheduler.LoadPackage(ctx, r.store, name)
		if err != nil {
			if errors.Is(err, lazyjson.ErrCorruptRecord) {
				r.logger.Warn("corrupt record", slog.String("key", key))
				corrupt = append(corrupt, key)

				continue
			}

			return nil, nil, err
		}

		if pkg != nil {
			packages[name] = pkg
		}
	}

	sort.Strings(corrupt)

	return packages, corrupt, nil
}

// graphOf derives the dependency graph from the loaded records.
func graphOf(packages map[string]*model.Package) *depgraph.Graph {
	reqs := make(map[string]model.Requirements, len(packages))
	for name, pkg := range packages {
		reqs[name] = pkg.Record.Requirements
	}

	return depgraph.Build(reqs)
}

// awaitingParents marks nodes blocked behind unlanded predecessors,
// mirroring the scheduler's subgraph pruning. Predecessors inside the
// same strongly-connected component never block each other.
func awaitingParents(m migrators.Migrator, graph *depgraph.Graph,
	packages map[string]*model.Package,
) map[string]bool {
	eligible := graph.Prune(func(name string) bool {
		pkg, ok := packages[name]
		if !ok || pkg.Record.Archived {
			return false
		}

		return !m.Filter(pkg)
	})

	component := map[string]int{}
	for i, scc := range eligible.SCC() {
		for _, name := range scc {
			component[name] = i
		}
	}

	blocked := map[string]bool{}

	for _, name := range eligible.Nodes() {
		for _, pred := range eligible.Predecessors(name) {
			if component[pred] == component[name] {
				continue
			}

			pkg := packages[pred]
			entry := pkg.PRInfo.Find(m.Fingerprint(pkg))

			if entry == nil || !entry.Merged {
				blocked[name] = true

				break
			}
		}
	}

	return blocked
}

// classify maps one (migrator, package) pair onto the state machine.
func classify(m migrators.Migrator, pkg *model.Package, blocked bool) NodeStatus {
	if pkg.Record.Bad != nil {
		return NodeStatus{Status: StatusBotError}
	}

	if entry := pkg.PRInfo.Find(m.Fingerprint(pkg)); entry != nil {
		switch {
		case entry.Merged:
			return NodeStatus{Status: StatusDone, PRURL: entry.PRURL}
		case entry.PRState == model.PRStateOpen:
			return NodeStatus{Status: StatusInPR, PRURL: entry.PRURL}
		}
	}

	if m.Filter(pkg) {
		return NodeStatus{Status: StatusDone}
	}

	if blocked {
		return NodeStatus{Status: StatusAwaitingParents}
	}

	return NodeStatus{Status: StatusAwaitingPR}
}

// JSON serializes the report canonically: sorted keys, one-space indent,
// trailing newline.
func (r *Report) JSON() ([]byte, error) {
	return lazyjson.CanonicalJSON(r)
}

// RenderTable writes the per-migrator totals as a human-readable table.
func (r *Report) RenderTable(w io.Writer) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)

	header := table.Row{"migrator"}
	for _, column := range statusColumns {
		header = append(header, column)
	}

	tw.AppendHeader(header)

	names := make([]string, 0, len(r.Totals))
	for name := range r.Totals {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		row := table.Row{name}
		for _, column := range statusColumns {
			row = append(row, renderTotal(column, r.Totals[name][column]))
		}

		tw.AppendRow(row)
	}

	if len(r.CorruptKeys) > 0 {
		tw.AppendFooter(table.Row{"corrupt keys", len(r.CorruptKeys)})
	}

	tw.Render()
}

// renderTotal colors the counts that want attention: nonzero bot-error
// totals red, nonzero done totals green. Color degrades to plain text
// on non-terminal writers.
func renderTotal(column string, n int) string {
	switch {
	case column == StatusBotError && n > 0:
		return color.RedString("%d", n)
	case column == StatusDone && n > 0:
		return color.GreenString("%d", n)
	default:
		return fmt.Sprintf("%d", n)
	}
}
