package depgraph

import "sort"

// SCC returns the strongly connected components of the graph using
// Tarjan's algorithm (iterative, to survive deep recipe chains). Each
// component's members are sorted lexicographically, and components are
// ordered by their smallest member.
func (g *Graph) SCC() [][]string {
	n := g.symbols.len()

	const unvisited = -1

	index := make([]int, n)
	lowlink := make([]int, n)
	onStack := make([]bool, n)

	for i := range index {
		index[i] = unvisited
	}

	var (
		components [][]string
		stack      []int
		counter    int
	)

	// frame mimics the recursive Tarjan call state.
	type frame struct {
		node  int
		child int
	}

	for root := range n {
		if index[root] != unvisited {
			continue
		}

		callStack := []frame{{node: root}}

		for len(callStack) > 0 {
			top := &callStack[len(callStack)-1]
			u := top.node

			if top.child == 0 {
				index[u] = counter
				lowlink[u] = counter
				counter++

				stack = append(stack, u)
				onStack[u] = true
			}

			advanced := false

			for top.child < len(g.fwd[u]) {
				v := g.fwd[u][top.child]
				top.child++

				if index[v] == unvisited {
					callStack = append(callStack, frame{node: v})
					advanced = true

					break
				}

				if onStack[v] && index[v] < lowlink[u] {
					lowlink[u] = index[v]
				}
			}

			if advanced {
				continue
			}

			// All children explored; close the component if u is a root.
			if lowlink[u] == index[u] {
				var members []string

				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					members = append(members, g.symbols.resolve(w))

					if w == u {
						break
					}
				}

				sort.Strings(members)
				components = append(components, members)
			}

			callStack = callStack[:len(callStack)-1]

			if len(callStack) > 0 {
				parent := callStack[len(callStack)-1].node
				if lowlink[u] < lowlink[parent] {
					lowlink[parent] = lowlink[u]
				}
			}
		}
	}

	sort.Slice(components, func(i, j int) bool {
		return components[i][0] < components[j][0]
	})

	return components
}
