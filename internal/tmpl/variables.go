package tmpl

import (
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// ResolveVariables resolves the variables layer, allowing variables to
// reference each other (`var.a` may contain "${var.b}"). Resolution is lazy
// and dependency-ordered; a reference cycle among variables is reported as a
// CircularRefError naming the chain. On success the resolver's context has
// its variables layer replaced with the fully resolved values.
func ResolveVariables(r *Resolver, raw map[string]any) error {
	resolved := make(map[string]cty.Value, len(raw))
	visiting := make(map[string]bool)
	var stack []string

	var resolveOne func(name string) error
	resolveOne = func(name string) error {
		if _, done := resolved[name]; done {
			return nil
		}
		if visiting[name] {
			cycle := append(cycleFrom(stack, name), name)
			return &CircularRefError{Cycle: cycle}
		}
		rawVal, ok := raw[name]
		if !ok {
			// Referenced but undeclared; the traversal validation of the
			// referencing expression reports this with full context.
			return nil
		}

		visiting[name] = true
		stack = append(stack, name)
		defer func() {
			delete(visiting, name)
			stack = stack[:len(stack)-1]
		}()

		refs, err := r.References(rawVal)
		if err != nil {
			return err
		}
		for _, traversal := range refs {
			if canon, ok := CanonicalLayer(traversal.RootName()); !ok || canon != "variables" {
				continue
			}
			if len(traversal) < 2 {
				continue
			}
			attr, ok := traversal[1].(hcl.TraverseAttr)
			if !ok {
				continue
			}
			if err := resolveOne(attr.Name); err != nil {
				return err
			}
		}

		// Make everything resolved so far visible to this variable's own
		// expressions before evaluating it.
		r.ctx.SetLayer("variables", resolved)
		goVal, err := r.ResolveValue(rawVal, ModeFull)
		if err != nil {
			return err
		}
		ctyVal, err := ToCty(goVal)
		if err != nil {
			return err
		}
		resolved[name] = ctyVal
		return nil
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := resolveOne(name); err != nil {
			return err
		}
	}

	r.ctx.SetLayer("variables", resolved)
	return nil
}

// cycleFrom returns the portion of the resolution stack starting at the first
// occurrence of name.
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
