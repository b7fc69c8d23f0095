package event

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// CycleError reports groups whose events can trigger themselves.
type CycleError struct {
	Path []string // e.g. ["a", "b", "a"]
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("subscription cycle: %s", strings.Join(e.Path, " -> "))
}

// checkAcyclic runs Tarjan's algorithm over the group dependency graph and
// returns a CycleError for the first strongly connected component with more
// than one member or a self loop.
func checkAcyclic(deps map[string][]string) error {
	for _, scc := range tarjanSCC(deps) {
		if len(scc) > 1 || slices.Contains(deps[scc[0]], scc[0]) {
			return &CycleError{Path: cyclePath(scc, deps)}
		}
	}
	return nil
}

func tarjanSCC(deps map[string][]string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range deps[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	// Sorted for a stable error path.
	nodes := make([]string, 0, len(deps))
	for node := range deps {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// cyclePath walks edges inside the component from its smallest member until
// it returns to the start.
func cyclePath(scc []string, deps map[string][]string) []string {
	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}
	start := slices.Min(scc)

	path := []string{start}
	visited := map[string]bool{start: true}
	current := start
	for {
		var next string
		for _, w := range deps[current] {
			if w == start || (members[w] && !visited[w]) {
				next = w
				break
			}
		}
		if next == "" {
			return path
		}
		path = append(path, next)
		if next == start {
			return path
		}
		visited[next] = true
		current = next
	}
}
