package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/actiongraph/internal/action"
	"github.com/vk/actiongraph/internal/ctxlog"
	"github.com/vk/actiongraph/internal/graph"
	"github.com/vk/actiongraph/internal/tmpl"
	"github.com/zclconf/go-cty/cty"
)

// Resolve runs the configuration-time pipeline: identifier resolution,
// variable and static-output resolution, disabled evaluation, graph
// construction, handler validation and version annotation. Any error here is
// fatal for the whole run and is reported before a single node executes.
func (e *Engine) Resolve(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Resolve: starting configuration pass.", "specs", len(e.opts.Specs))

	if err := e.resolveNames(); err != nil {
		return err
	}
	if err := e.resolveVariableLayer(); err != nil {
		return err
	}
	if err := e.resolveStaticOutputs(); err != nil {
		return err
	}

	enabled, disabled, err := e.partitionDisabled()
	if err != nil {
		return err
	}
	e.disabled = disabled
	logger.Debug("Resolve: disabled predicates evaluated.", "enabled", len(enabled), "disabled", len(disabled))

	nodes := make([]*action.Node, 0, len(enabled))
	for _, spec := range enabled {
		n := action.NewNode(spec)
		resolvedAny, err := e.resolver.ResolveValue(spec.Config, tmpl.ModeStatic)
		if err != nil {
			return fmt.Errorf("resolving configuration of %s: %w", spec.Ref(), err)
		}
		if resolvedAny != nil {
			n.ResolvedConfig, _ = resolvedAny.(map[string]any)
		}
		n.ResolvedOutputs, err = e.resolver.ResolveStringMap(spec.Outputs, tmpl.ModeStatic)
		if err != nil {
			return fmt.Errorf("resolving outputs of %s: %w", spec.Ref(), err)
		}
		nodes = append(nodes, n)
	}

	g, err := graph.Build(ctx, nodes, disabled, e.resolver)
	if err != nil {
		return err
	}
	if e.opts.Registry != nil {
		if err := e.opts.Registry.Validate(g); err != nil {
			return err
		}
	}
	if err := e.calc.Annotate(ctx, g); err != nil {
		return err
	}

	e.graph = g
	logger.Debug("Resolve: configuration pass complete.", "nodes", g.Len())
	return nil
}

// resolveNames resolves templated action names. Names generate identifiers,
// so their expressions are restricted to statically resolvable layers;
// referencing runtime outputs here fails graph construction outright.
func (e *Engine) resolveNames() error {
	seen := make(map[action.Ref]bool, len(e.opts.Specs))
	for _, spec := range e.opts.Specs {
		if spec.Name == "" {
			return fmt.Errorf("action of kind %s has no name", spec.Kind)
		}
		if spec.Type == "" {
			return fmt.Errorf("action %s.%s has no type", spec.Kind, spec.Name)
		}
		if tmpl.HasTemplate(spec.Name) {
			if err := e.resolver.CheckIdentifierScope(spec.Name); err != nil {
				return fmt.Errorf("resolving name of %s action %q: %w", spec.Kind, spec.Name, err)
			}
			resolved, err := e.resolver.ResolveString(spec.Name)
			if err != nil {
				return fmt.Errorf("resolving name of %s action %q: %w", spec.Kind, spec.Name, err)
			}
			if resolved.Type() != cty.String {
				return fmt.Errorf("name of %s action %q must resolve to a string", spec.Kind, spec.Name)
			}
			spec.Name = resolved.AsString()
		}
		ref := spec.Ref()
		if seen[ref] {
			return fmt.Errorf("duplicate action %s: names must be unique per kind", ref)
		}
		seen[ref] = true
	}
	return nil
}

// resolveVariableLayer merges project and environment variables (environment
// wins) and resolves them, allowing cross-variable references.
func (e *Engine) resolveVariableLayer() error {
	merged := make(map[string]any, len(e.opts.Variables)+len(e.opts.EnvironmentVariables))
	for k, v := range e.opts.Variables {
		merged[k] = v
	}
	for k, v := range e.opts.EnvironmentVariables {
		merged[k] = v
	}
	return tmpl.ResolveVariables(e.resolver, merged)
}

// resolveStaticOutputs resolves every action's declared outputs and builds
// the actions context layer (actions.<kind>.<name>.outputs.*), available to
// templates without running anything. Outputs may reference other actions'
// outputs; resolution follows those references depth-first, and a cycle
// (A needs B needs A) is a CircularRefError.
func (e *Engine) resolveStaticOutputs() error {
	specsByRef := make(map[action.Ref]*action.Spec, len(e.opts.Specs))
	for _, spec := range e.opts.Specs {
		specsByRef[spec.Ref()] = spec
	}

	resolved := make(map[action.Ref]map[string]string, len(e.opts.Specs))
	visiting := make(map[action.Ref]bool)
	var stack []string

	var resolveOne func(ref action.Ref) error
	resolveOne = func(ref action.Ref) error {
		if _, done := resolved[ref]; done {
			return nil
		}
		spec, ok := specsByRef[ref]
		if !ok {
			// Missing targets surface as resolution errors on the
			// referencing expression.
			return nil
		}
		if visiting[ref] {
			return &tmpl.CircularRefError{Cycle: append(cycleFrom(stack, ref.String()), ref.String())}
		}

		visiting[ref] = true
		stack = append(stack, ref.String())
		defer func() {
			delete(visiting, ref)
			stack = stack[:len(stack)-1]
		}()

		refs, err := e.resolver.References(spec.Outputs)
		if err != nil {
			return err
		}
		for _, traversal := range refs {
			target, ok := parseActionsTraversal(traversal)
			if !ok {
				continue
			}
			if err := resolveOne(target); err != nil {
				return err
			}
		}

		e.setActionsLayer(resolved)
		outputs, err := e.resolver.ResolveStringMap(spec.Outputs, tmpl.ModeStatic)
		if err != nil {
			return fmt.Errorf("resolving outputs of %s: %w", ref, err)
		}
		if outputs == nil {
			outputs = map[string]string{}
		}
		resolved[ref] = outputs
		return nil
	}

	refs := make([]action.Ref, 0, len(specsByRef))
	for ref := range specsByRef {
		refs = append(refs, ref)
	}
	action.SortRefs(refs)
	for _, ref := range refs {
		if err := resolveOne(ref); err != nil {
			return err
		}
	}

	e.setActionsLayer(resolved)
	return nil
}

// setActionsLayer materializes resolved static outputs into the actions
// layer: actions.<kind>.<name> = { name, outputs }.
func (e *Engine) setActionsLayer(resolved map[action.Ref]map[string]string) {
	byKind := make(map[string]map[string]cty.Value)
	for ref, outputs := range resolved {
		entry := map[string]cty.Value{
			"name": cty.StringVal(ref.Name),
		}
		if len(outputs) > 0 {
			outVals := make(map[string]cty.Value, len(outputs))
			for k, v := range outputs {
				outVals[k] = cty.StringVal(v)
			}
			entry["outputs"] = cty.ObjectVal(outVals)
		} else {
			entry["outputs"] = cty.EmptyObjectVal
		}
		kindName := ref.Kind.String()
		if byKind[kindName] == nil {
			byKind[kindName] = make(map[string]cty.Value)
		}
		byKind[kindName][ref.Name] = cty.ObjectVal(entry)
	}

	layer := make(map[string]cty.Value, len(byKind))
	for kindName, entries := range byKind {
		layer[kindName] = cty.ObjectVal(entries)
	}
	e.resolver.Context().SetLayer("actions", layer)
}

// partitionDisabled evaluates each spec's disabled predicate, which must
// resolve to a boolean before the action can participate in versioning or
// scheduling. Runtime references in a disabled expression are unresolvable
// here and therefore configuration errors.
func (e *Engine) partitionDisabled() (enabled, disabled []*action.Spec, err error) {
	for _, spec := range e.opts.Specs {
		isDisabled, err := e.resolver.ResolveBool(spec.Disabled)
		if err != nil {
			return nil, nil, fmt.Errorf("resolving disabled flag of %s: %w", spec.Ref(), err)
		}
		if isDisabled {
			disabled = append(disabled, spec)
		} else {
			enabled = append(enabled, spec)
		}
	}
	sort.Slice(enabled, func(i, j int) bool { return enabled[i].Ref().Less(enabled[j].Ref()) })
	sort.Slice(disabled, func(i, j int) bool { return disabled[i].Ref().Less(disabled[j].Ref()) })
	return enabled, disabled, nil
}

// parseActionsTraversal extracts an action ref from an
// actions.<kind>.<name> (or modules.<kind>.<name>) traversal.
func parseActionsTraversal(traversal hcl.Traversal) (action.Ref, bool) {
	canon, ok := tmpl.CanonicalLayer(traversal.RootName())
	if !ok || canon != "actions" || len(traversal) < 3 {
		return action.Ref{}, false
	}
	kindAttr, ok := traversal[1].(hcl.TraverseAttr)
	if !ok {
		return action.Ref{}, false
	}
	nameAttr, ok := traversal[2].(hcl.TraverseAttr)
	if !ok {
		return action.Ref{}, false
	}
	kind, err := action.ParseKind(kindAttr.Name)
	if err != nil {
		return action.Ref{}, false
	}
	return action.Ref{Kind: kind, Name: nameAttr.Name}, true
}

// cycleFrom trims a resolution stack to the part that forms the cycle.
func cycleFrom(stack []string, name string) []string {
	for i, entry := range stack {
		if entry == name {
			out := make([]string, len(stack)-i)
			copy(out, stack[i:])
			return out
		}
	}
	out := make([]string, len(stack))
	copy(out, stack)
	return out
}
