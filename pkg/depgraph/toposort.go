package depgraph

import (
	"sort"
)

// CyclicToposort produces a total order over the given node set such that,
// for every edge u→v where u and v do not share a cycle, u precedes v.
// Strongly connected components are emitted contiguously with their members
// in lexicographic order; ties between otherwise-incomparable components
// break on the lexicographically smallest member.
//
// Unknown names in nodes are ignored. Passing nil orders the whole graph.
func (g *Graph) CyclicToposort(nodes []string) []string {
	sub := g
	if nodes != nil {
		sub = g.Subgraph(nodes)
	}

	components := sub.SCC()

	// Contract each component to one condensation node.
	compOf := make(map[string]int, sub.Len())
	for i, members := range components {
		for _, m := range members {
			compOf[m] = i
		}
	}

	// Condensation DAG: edges between distinct components, de-duplicated.
	succs := make([]map[int]bool, len(components))
	inDegree := make([]int, len(components))

	for i := range succs {
		succs[i] = make(map[int]bool)
	}

	for _, members := range components {
		for _, m := range members {
			for _, t := range sub.Successors(m) {
				from, to := compOf[m], compOf[t]
				if from != to && !succs[from][to] {
					succs[from][to] = true
					inDegree[to]++
				}
			}
		}
	}

	// Kahn over the condensation, keeping the ready set sorted by each
	// component's smallest member for deterministic output.
	ready := make([]int, 0, len(components))
	for i, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, i)
		}
	}

	byRepresentative := func(a, b int) bool {
		return components[a][0] < components[b][0]
	}
	sort.Slice(ready, func(i, j int) bool { return byRepresentative(ready[i], ready[j]) })

	out := make([]string, 0, sub.Len())

	for len(ready) > 0 {
		comp := ready[0]
		ready = ready[1:]

		out = append(out, components[comp]...)

		released := make([]int, 0, len(succs[comp]))

		for next := range succs[comp] {
			inDegree[next]--
			if inDegree[next] == 0 {
				released = append(released, next)
			}
		}

		sort.Slice(released, func(i, j int) bool { return byRepresentative(released[i], released[j]) })

		for _, next := range released {
			idx := sort.Search(len(ready), func(i int) bool {
				return !byRepresentative(ready[i], next)
			})

			ready = append(ready, 0)
			copy(ready[idx+1:], ready[idx:])
			ready[idx] = next
		}
	}

	return out
}
