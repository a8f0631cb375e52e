package graph

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/actiongraph/internal/action"
	"github.com/vk/actiongraph/internal/ctxlog"
	"github.com/vk/actiongraph/internal/tmpl"
)

// Build constructs a validated DAG from statically resolved nodes. The
// disabled slice carries actions excluded from scheduling: explicit
// dependencies on them are treated as satisfied, but any reference to their
// runtime outputs is a hard error.
func Build(ctx context.Context, nodes []*action.Node, disabled []*action.Spec, resolver *tmpl.Resolver) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Build: starting graph construction.", "enabled", len(nodes), "disabled", len(disabled))

	g := &Graph{
		nodes:    make(map[string]*action.Node, len(nodes)),
		disabled: make(map[string]*action.Spec, len(disabled)),
	}
	for _, spec := range disabled {
		g.disabled[spec.Ref().String()] = spec
	}
	for _, n := range nodes {
		id := n.ID()
		if _, exists := g.nodes[id]; exists {
			return nil, fmt.Errorf("duplicate action %s: names must be unique per kind", id)
		}
		g.nodes[id] = n
	}

	for _, n := range g.Nodes() {
		if err := g.linkExplicitDeps(ctx, n); err != nil {
			return nil, err
		}
		if err := g.linkImplicitDeps(ctx, n, resolver); err != nil {
			return nil, err
		}
	}
	g.linkKindOrder(ctx)
	logger.Debug("Build: node linking complete.")

	if err := g.detectCycles(); err != nil {
		return nil, err
	}
	logger.Debug("Build: graph construction successful.", "node_count", len(g.nodes))
	return g, nil
}

// linkExplicitDeps resolves an action's declared dependencies.
func (g *Graph) linkExplicitDeps(ctx context.Context, n *action.Node) error {
	logger := ctxlog.FromContext(ctx)
	for _, depRef := range n.Spec.Dependencies {
		depNode, ok := g.nodes[depRef.String()]
		if ok {
			logger.Debug("Linking explicit dependency.", "from", n.ID(), "to", depNode.ID())
			g.addEdge(depNode, n)
			continue
		}
		if _, isDisabled := g.disabled[depRef.String()]; isDisabled {
			// Disabled actions satisfy plain dependency declarations as a
			// no-op; only output references on them are errors.
			logger.Debug("Dependency on disabled action treated as satisfied.", "from", n.ID(), "to", depRef.String())
			continue
		}
		return &UnresolvedDependencyError{From: n.Ref(), Target: depRef}
	}
	return nil
}

// linkImplicitDeps scans an action's raw configuration (plus its disabled
// predicate and declared outputs) for runtime output references and adds an
// edge for each, so the graph reflects data flow even when the user omitted
// an explicit dependency entry.
func (g *Graph) linkImplicitDeps(ctx context.Context, n *action.Node, resolver *tmpl.Resolver) error {
	logger := ctxlog.FromContext(ctx)
	refs, err := resolver.References(specReferenceSources(n.Spec))
	if err != nil {
		return fmt.Errorf("scanning %s for implicit dependencies: %w", n.ID(), err)
	}

	for _, traversal := range refs {
		depRef, ok := parseRuntimeTraversal(traversal)
		if !ok {
			continue
		}
		depNode, found := g.nodes[depRef.String()]
		if !found {
			_, isDisabled := g.disabled[depRef.String()]
			return &UnresolvedDependencyError{
				From:          n.Ref(),
				Target:        depRef,
				Disabled:      isDisabled,
				RuntimeOutput: true,
			}
		}
		if _, exists := n.Deps[depNode.ID()]; !exists {
			logger.Debug("Linking implicit dependency.", "from", n.ID(), "to", depNode.ID())
		}
		g.addEdge(depNode, n)
	}
	return nil
}

// linkKindOrder layers the canonical kind ordering onto the graph: for a
// shared action name, build precedes deploy, run and test, and deploy/run
// precede test, even without explicit declarations.
func (g *Graph) linkKindOrder(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	byName := make(map[string][]*action.Node)
	for _, n := range g.Nodes() {
		byName[n.Spec.Name] = append(byName[n.Spec.Name], n)
	}
	for _, group := range byName {
		for _, earlier := range group {
			for _, later := range group {
				if earlier.Ref().Kind.Priority() < later.Ref().Kind.Priority() {
					if _, exists := later.Deps[earlier.ID()]; !exists {
						logger.Debug("Linking kind-order dependency.", "from", later.ID(), "to", earlier.ID())
					}
					g.addEdge(earlier, later)
				}
			}
		}
	}
}

// specReferenceSources gathers every templated part of a spec that can carry
// runtime output references.
func specReferenceSources(spec *action.Spec) map[string]any {
	sources := map[string]any{
		"config": spec.Config,
	}
	if spec.Disabled != "" {
		sources["disabled"] = spec.Disabled
	}
	if len(spec.Outputs) > 0 {
		sources["outputs"] = spec.Outputs
	}
	return sources
}

// parseRuntimeTraversal extracts an action ref from a
// runtime.<section>.<name> traversal. Returns false for traversals that do
// not target the runtime layer or are too short to name an action.
func parseRuntimeTraversal(traversal hcl.Traversal) (action.Ref, bool) {
	if traversal.RootName() != "runtime" || len(traversal) < 3 {
		return action.Ref{}, false
	}
	sectionAttr, ok := traversal[1].(hcl.TraverseAttr)
	if !ok {
		return action.Ref{}, false
	}
	nameAttr, ok := traversal[2].(hcl.TraverseAttr)
	if !ok {
		return action.Ref{}, false
	}
	kind, ok := action.KindForRuntimeSection(sectionAttr.Name)
	if !ok {
		return action.Ref{}, false
	}
	return action.Ref{Kind: kind, Name: nameAttr.Name}, true
}
