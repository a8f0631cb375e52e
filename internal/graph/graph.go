// Package graph assembles resolved actions into a validated DAG: one node per
// enabled action, edges from explicit dependency declarations, from runtime
// output references found in configuration, and from the fixed kind ordering
// (build before deploy/run before test for a shared name).
package graph

import (
	"sort"

	"github.com/vk/actiongraph/internal/action"
)

// Edge is a directed dependency edge: Dependent waits for Dependency.
type Edge struct {
	Dependency action.Ref
	Dependent  action.Ref
}

// Graph is the validated DAG of enabled actions. Nodes hold their own
// adjacency sets; the graph indexes them by ref string and remembers disabled
// specs so dependency declarations on them can be treated as satisfied.
type Graph struct {
	nodes    map[string]*action.Node
	disabled map[string]*action.Spec
}

// Node returns the node for a ref, if the action is enabled.
func (g *Graph) Node(ref action.Ref) (*action.Node, bool) {
	n, ok := g.nodes[ref.String()]
	return n, ok
}

// Disabled returns the spec for a disabled action, if one exists.
func (g *Graph) Disabled(ref action.Ref) (*action.Spec, bool) {
	s, ok := g.disabled[ref.String()]
	return s, ok
}

// Len returns the number of enabled nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Nodes returns all enabled nodes sorted by (kind, name).
func (g *Graph) Nodes() []*action.Node {
	out := make([]*action.Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref().Less(out[j].Ref()) })
	return out
}

// Edges returns every edge sorted by (dependency, dependent). Exposed for
// tooling that renders the graph.
func (g *Graph) Edges() []Edge {
	var out []Edge
	for _, n := range g.Nodes() {
		for _, dep := range sortedNodes(n.Deps) {
			out = append(out, Edge{Dependency: dep.Ref(), Dependent: n.Ref()})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Dependency != out[j].Dependency {
			return out[i].Dependency.Less(out[j].Dependency)
		}
		return out[i].Dependent.Less(out[j].Dependent)
	})
	return out
}

// Leaves returns the nodes with no dependencies, sorted by (kind, name).
func (g *Graph) Leaves() []*action.Node {
	var out []*action.Node
	for _, n := range g.Nodes() {
		if len(n.Deps) == 0 {
			out = append(out, n)
		}
	}
	return out
}

// TopoSort returns the nodes in reverse-topological order: every node appears
// after all of its dependencies. This is the traversal order of the version
// pass, which folds dependency versions into each node's own.
func (g *Graph) TopoSort() []*action.Node {
	visited := make(map[string]bool, len(g.nodes))
	out := make([]*action.Node, 0, len(g.nodes))

	var visit func(n *action.Node)
	visit = func(n *action.Node) {
		if visited[n.ID()] {
			return
		}
		visited[n.ID()] = true
		for _, dep := range sortedNodes(n.Deps) {
			visit(dep)
		}
		out = append(out, n)
	}

	for _, n := range g.Nodes() {
		visit(n)
	}
	return out
}

// addEdge records that dependent waits for dependency. Self edges and
// duplicates are ignored.
func (g *Graph) addEdge(dependency, dependent *action.Node) {
	if dependency == dependent {
		return
	}
	dependent.Deps[dependency.ID()] = dependency
	dependency.Dependents[dependent.ID()] = dependent
}

// detectCycles checks for circular dependencies using DFS, reporting the full
// ordered cycle. Node and dependency iteration is sorted so the reported
// cycle is deterministic.
func (g *Graph) detectCycles() error {
	visiting := make(map[string]bool)
	visited := make(map[string]bool)
	var stack []action.Ref

	var visit func(n *action.Node) error
	visit = func(n *action.Node) error {
		visiting[n.ID()] = true
		stack = append(stack, n.Ref())
		for _, dep := range sortedNodes(n.Deps) {
			if visiting[dep.ID()] {
				return &CyclicDependencyError{Cycle: cycleFrom(stack, dep.Ref())}
			}
			if !visited[dep.ID()] {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		delete(visiting, n.ID())
		visited[n.ID()] = true
		return nil
	}

	for _, n := range g.Nodes() {
		if !visited[n.ID()] {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// cycleFrom trims the DFS stack to the portion that forms the cycle starting
// at ref.
func cycleFrom(stack []action.Ref, ref action.Ref) []action.Ref {
	for i, entry := range stack {
		if entry == ref {
			out := make([]action.Ref, len(stack)-i)
			copy(out, stack[i:])
			return out
		}
	}
	out := make([]action.Ref, len(stack))
	copy(out, stack)
	return out
}

// sortedNodes returns a map's nodes sorted by (kind, name) for deterministic
// traversal.
func sortedNodes(m map[string]*action.Node) []*action.Node {
	out := make([]*action.Node, 0, len(m))
	for _, n := range m {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref().Less(out[j].Ref()) })
	return out
}
