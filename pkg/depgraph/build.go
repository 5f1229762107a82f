package depgraph

import (
	"github.com/feedstock-bot/feedbot/pkg/model"
)

// Build constructs the dependency graph from per-package requirement
// sections. For each package N, every requirement R that is itself a known
// package contributes the edge R→N ("N depends on R"). The host section
// falls back to build when empty, and test requirements are always unioned
// in. Requirements naming unknown packages are dropped.
func Build(packages map[string]model.Requirements) *Graph {
	g := New()

	for name := range packages {
		g.AddNode(name)
	}

	for name, reqs := range packages {
		for _, req := range requirementNames(reqs) {
			if req == name || !g.HasNode(req) {
				continue
			}

			g.AddEdge(req, name)
		}
	}

	return g
}

// requirementNames flattens the sections consulted for graph edges.
func requirementNames(reqs model.Requirements) []string {
	seen := make(map[string]bool)

	var out []string

	add := func(names []string) {
		for _, n := range names {
			if n != "" && !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}

	add(reqs.Build)
	add(reqs.EffectiveHostRequirements())
	add(reqs.Run)
	add(reqs.Test)

	return out
}
