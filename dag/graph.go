package dag

import (
	"fmt"
	"sort"
	"strings"
)

// Graph declares nodes and edges (dependency relationships).
type Graph struct {
	Nodes map[string]Node
	// Order is the declaration order of the nodes. It makes level contents
	// deterministic; nodes missing from Order sort after it by name.
	Order []string
	Edges []Edge
}

// Edge represents a dependency: To depends on From.
type Edge struct {
	From string
	To   string
}

// CycleError reports the nodes that could not be ordered.
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dag: cycle detected among nodes [%s]", strings.Join(e.Nodes, ", "))
}

// Dependencies returns the direct dependencies of name, in edge order.
func (g *Graph) Dependencies(name string) []string {
	var deps []string
	for _, e := range g.Edges {
		if e.To == name {
			deps = append(deps, e.From)
		}
	}
	return deps
}

// names returns every node name, declaration order first.
func (g *Graph) names() []string {
	seen := make(map[string]bool, len(g.Nodes))
	out := make([]string, 0, len(g.Nodes))
	for _, name := range g.Order {
		if _, ok := g.Nodes[name]; ok && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	var rest []string
	for name := range g.Nodes {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// BuildLevels uses Kahn's algorithm to group nodes by dependency level.
// Every node in a level depends only on nodes in earlier levels, and nodes
// within a level keep declaration order. Returns a *CycleError if a cycle
// is detected.
func BuildLevels(g *Graph) ([][]string, error) {
	names := g.names()
	rank := make(map[string]int, len(names))
	for i, name := range names {
		rank[name] = i
	}

	inDegree := make(map[string]int, len(names))
	dependents := make(map[string][]string) // from -> [to...]
	for _, e := range g.Edges {
		if _, ok := g.Nodes[e.From]; !ok {
			return nil, fmt.Errorf("dag: edge references unknown node %q", e.From)
		}
		if _, ok := g.Nodes[e.To]; !ok {
			return nil, fmt.Errorf("dag: edge references unknown node %q", e.To)
		}
		inDegree[e.To]++
		dependents[e.From] = append(dependents[e.From], e.To)
	}

	var queue []string
	for _, name := range names {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	var levels [][]string
	visited := 0
	for len(queue) > 0 {
		levels = append(levels, queue)
		visited += len(queue)

		var next []string
		for _, name := range queue {
			for _, dep := range dependents[name] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		sort.SliceStable(next, func(i, j int) bool { return rank[next[i]] < rank[next[j]] })
		queue = next
	}

	if visited != len(names) {
		var stuck []string
		for _, name := range names {
			if inDegree[name] > 0 {
				stuck = append(stuck, name)
			}
		}
		return nil, &CycleError{Nodes: stuck}
	}
	return levels, nil
}

// TopologicalOrder flattens BuildLevels into a single execution order.
func TopologicalOrder(g *Graph) ([]string, error) {
	levels, err := BuildLevels(g)
	if err != nil {
		return nil, err
	}
	var order []string
	for _, level := range levels {
		order = append(order, level...)
	}
	return order, nil
}
