package atomicity

import (
	"go/token"
	"sort"
	"strings"
)

// OrderEdge records that To was acquired while From was held.
type OrderEdge struct {
	From string
	To   string
	Pos  token.Pos // where To was acquired
}

// Cycle is a sequence of edges forming a cycle in the lock-order graph.
type Cycle []OrderEdge

func (c Cycle) String() string {
	names := make([]string, 0, len(c)+1)
	for _, e := range c {
		names = append(names, e.From)
	}
	if len(c) > 0 {
		names = append(names, c[0].From)
	}
	return strings.Join(names, " -> ")
}

// lockOrderGraph is a directed graph of lock acquisition order.
// An edge From→To means "To was acquired while From was held."
type lockOrderGraph struct {
	edges map[string][]OrderEdge
}

func newLockOrderGraph() *lockOrderGraph {
	return &lockOrderGraph{edges: make(map[string][]OrderEdge)}
}

// addChain adds an edge between every ordered pair of locks of c.
func (g *lockOrderGraph) addChain(c []Lock) {
	for i := range c {
		for _, to := range c[i+1:] {
			g.addEdge(OrderEdge{From: c[i].Name, To: to.Name, Pos: to.Pos})
		}
	}
}

// addEdge adds an edge to the graph, deduplicating by (From, To).
func (g *lockOrderGraph) addEdge(edge OrderEdge) {
	for _, existing := range g.edges[edge.From] {
		if existing.To == edge.To {
			return
		}
	}
	g.edges[edge.From] = append(g.edges[edge.From], edge)
}

// detectCycles finds the cycles of the graph using DFS with white/gray/black
// coloring.
func (g *lockOrderGraph) detectCycles() []Cycle {
	const (
		white = iota // unvisited
		gray         // in current DFS path
		black        // fully processed
	)

	color := make(map[string]int)
	parent := make(map[string]OrderEdge) // edge that led to this node
	var cycles []Cycle

	var dfs func(node string)
	dfs = func(node string) {
		color[node] = gray
		edges := g.edges[node]
		sort.Slice(edges, func(i, j int) bool { return edges[i].To < edges[j].To })
		for _, edge := range edges {
			switch color[edge.To] {
			case white:
				parent[edge.To] = edge
				dfs(edge.To)
			case gray:
				if cycle := extractCycle(parent, edge); cycle != nil {
					cycles = append(cycles, cycle)
				}
			}
		}
		color[node] = black
	}

	nodes := make(map[string]bool)
	for from, edges := range g.edges {
		nodes[from] = true
		for _, e := range edges {
			nodes[e.To] = true
		}
	}
	sorted := make([]string, 0, len(nodes))
	for n := range nodes {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	for _, n := range sorted {
		if color[n] == white {
			dfs(n)
		}
	}
	return deduplicateCycles(cycles)
}

// extractCycle walks the parent edges from the back-edge source to its
// target and returns the cycle in acquisition order.
func extractCycle(parent map[string]OrderEdge, backEdge OrderEdge) Cycle {
	cycle := Cycle{backEdge}
	current := backEdge.From
	visited := make(map[string]bool)
	for current != backEdge.To {
		if visited[current] {
			return nil
		}
		visited[current] = true
		edge, ok := parent[current]
		if !ok {
			return nil
		}
		cycle = append(cycle, edge)
		current = edge.From
	}
	for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
		cycle[i], cycle[j] = cycle[j], cycle[i]
	}
	return cycle
}

// deduplicateCycles removes cycles found again from another starting node.
func deduplicateCycles(cycles []Cycle) []Cycle {
	seen := make(map[string]bool)
	var result []Cycle
	for _, cycle := range cycles {
		// Rotate to the smallest edge to get a canonical key.
		minIdx := 0
		for i := 1; i < len(cycle); i++ {
			if edgeName(cycle[i]) < edgeName(cycle[minIdx]) {
				minIdx = i
			}
		}
		var key strings.Builder
		for i := range cycle {
			key.WriteString(edgeName(cycle[(minIdx+i)%len(cycle)]))
			key.WriteByte(';')
		}
		if !seen[key.String()] {
			seen[key.String()] = true
			result = append(result, cycle)
		}
	}
	return result
}

func edgeName(e OrderEdge) string { return e.From + "->" + e.To }
