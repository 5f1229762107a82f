// Package depgraph holds the directed dependency graph over package names.
//
// Nodes are interned to integer indices into flat adjacency vectors (one
// forward, one backward), so the graph carries no owning pointers between
// nodes and cycles are representable without special cases. An edge A→B
// means "B depends on A".
package depgraph

import (
	"sort"
)

// Graph is a directed graph of package names. Self-loops are removed on
// ingest; cycles are tolerated everywhere.
type Graph struct {
	symbols *symbolTable
	fwd     [][]int
	rev     [][]int
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{symbols: newSymbolTable()}
}

// AddNode inserts a node. Returns false if the node already existed.
func (g *Graph) AddNode(name string) bool {
	if _, ok := g.symbols.lookup(name); ok {
		return false
	}

	id := g.symbols.intern(name)
	g.ensure(id)

	return true
}

// AddEdge inserts the edge from→to. Self-loops are dropped. Edges to or
// from unknown nodes are silently dropped; call AddNode first.
func (g *Graph) AddEdge(from, to string) bool {
	if from == to {
		return false
	}

	u, ok := g.symbols.lookup(from)
	if !ok {
		return false
	}

	v, ok := g.symbols.lookup(to)
	if !ok {
		return false
	}

	for _, existing := range g.fwd[u] {
		if existing == v {
			return false
		}
	}

	g.fwd[u] = append(g.fwd[u], v)
	g.rev[v] = append(g.rev[v], u)

	return true
}

// ensure grows the adjacency vectors to hold node id.
func (g *Graph) ensure(id int) {
	for len(g.fwd) <= id {
		g.fwd = append(g.fwd, nil)
		g.rev = append(g.rev, nil)
	}
}

// Len returns the node count.
func (g *Graph) Len() int { return g.symbols.len() }

// HasNode reports whether name is a node.
func (g *Graph) HasNode(name string) bool {
	_, ok := g.symbols.lookup(name)

	return ok
}

// Nodes returns all node names in lexicographic order.
func (g *Graph) Nodes() []string {
	names := make([]string, g.symbols.len())
	copy(names, g.symbols.idToStr)
	sort.Strings(names)

	return names
}

// Successors returns the targets of outgoing edges of n, sorted.
func (g *Graph) Successors(n string) []string {
	return g.resolveSorted(n, g.fwd)
}

// Predecessors returns the sources of incoming edges of n, sorted.
func (g *Graph) Predecessors(n string) []string {
	return g.resolveSorted(n, g.rev)
}

func (g *Graph) resolveSorted(n string, adj [][]int) []string {
	id, ok := g.symbols.lookup(n)
	if !ok || id >= len(adj) {
		return nil
	}

	out := make([]string, 0, len(adj[id]))
	for _, v := range adj[id] {
		out = append(out, g.symbols.resolve(v))
	}

	sort.Strings(out)

	return out
}

// Descendants returns every node reachable from n along forward edges,
// excluding n itself, sorted.
func (g *Graph) Descendants(n string) []string {
	start, ok := g.symbols.lookup(n)
	if !ok {
		return nil
	}

	seen := make(map[int]bool)
	queue := []int{start}

	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]

		for _, v := range g.fwd[u] {
			if !seen[v] {
				seen[v] = true
				queue = append(queue, v)
			}
		}
	}

	delete(seen, start)

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, g.symbols.resolve(id))
	}

	sort.Strings(out)

	return out
}

// Prune returns the subgraph induced by the nodes satisfying keep.
func (g *Graph) Prune(keep func(name string) bool) *Graph {
	sub := New()

	for _, name := range g.Nodes() {
		if keep(name) {
			sub.AddNode(name)
		}
	}

	for _, name := range sub.Nodes() {
		for _, succ := range g.Successors(name) {
			if sub.HasNode(succ) {
				sub.AddEdge(name, succ)
			}
		}
	}

	return sub
}

// Subgraph returns the subgraph induced by the given node names; unknown
// names are ignored.
func (g *Graph) Subgraph(nodes []string) *Graph {
	want := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		want[n] = true
	}

	return g.Prune(func(name string) bool { return want[name] })
}
