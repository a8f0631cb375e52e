// Package tmpl implements the template resolver: parsing of ${...}
// expressions into HCL expression ASTs, evaluation against a layered named
// context, and extraction of the references an expression makes (used for
// implicit dependency discovery and identifier scoping checks).
//
// Template sources are parsed once and cached; evaluation walks the parsed
// AST against the current context snapshot.
package tmpl

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// Mode selects how the resolver treats references to execution-time layers.
type Mode int

const (
	// ModeFull resolves every expression; references to the runtime layer
	// must be satisfiable. Used immediately before a node executes.
	ModeFull Mode = iota
	// ModeStatic leaves any string that references a deferred layer
	// unresolved (returned verbatim) so it can be resolved again at
	// execution time. Used for the pre-graph static pass.
	ModeStatic
)

// Resolver evaluates template strings against a Context. Safe for concurrent
// use; the parse cache is shared across goroutines.
type Resolver struct {
	ctx   *Context
	funcs map[string]function.Function

	mu     sync.Mutex
	parsed map[string]hclsyntax.Expression
}

// NewResolver creates a resolver bound to the given context, with the full
// helper function table installed.
func NewResolver(ctx *Context) *Resolver {
	return &Resolver{
		ctx:    ctx,
		funcs:  Functions(),
		parsed: make(map[string]hclsyntax.Expression),
	}
}

// Context returns the layered context the resolver evaluates against.
func (r *Resolver) Context() *Context {
	return r.ctx
}

// HasTemplate reports whether a string contains at least one ${...}
// expression.
func HasTemplate(s string) bool {
	return strings.Contains(s, "${")
}

// parse returns the cached expression AST for a template source, parsing it
// on first use.
func (r *Resolver) parse(src string) (hclsyntax.Expression, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if expr, ok := r.parsed[src]; ok {
		return expr, nil
	}
	expr, diags := hclsyntax.ParseTemplate([]byte(src), "<template>", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, &ResolutionError{
			Expression: src,
			Segment:    src,
			Reason:     "invalid template syntax: " + diags.Error(),
		}
	}
	r.parsed[src] = expr
	return expr, nil
}

// ResolveString fully resolves a template string to a cty value. A string
// that is a single ${...} expression keeps the expression's native type;
// mixed text interpolates to a string.
func (r *Resolver) ResolveString(src string) (cty.Value, error) {
	if !HasTemplate(src) {
		return cty.StringVal(src), nil
	}
	expr, err := r.parse(src)
	if err != nil {
		return cty.NilVal, err
	}
	for _, traversal := range expr.Variables() {
		if err := r.validateTraversal(src, traversal); err != nil {
			return cty.NilVal, err
		}
	}
	val, diags := expr.Value(&hcl.EvalContext{
		Variables: r.ctx.Variables(),
		Functions: r.funcs,
	})
	if diags.HasErrors() {
		return cty.NilVal, classifyEvalError(src, diags)
	}
	return val, nil
}

// ResolveBool resolves a template expression that must produce a boolean.
// Used for the disabled attribute; an empty source resolves to false.
func (r *Resolver) ResolveBool(src string) (bool, error) {
	if src == "" {
		return false, nil
	}
	switch strings.TrimSpace(src) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	val, err := r.ResolveString(src)
	if err != nil {
		return false, err
	}
	if val.Type() != cty.Bool {
		return false, &ResolutionError{
			Expression: src,
			Segment:    src,
			Reason:     fmt.Sprintf("expected a boolean, got %s", val.Type().FriendlyName()),
		}
	}
	return val.True(), nil
}

// ResolveValue resolves every template string inside a configuration tree
// (strings, and strings nested in maps and slices). In ModeStatic, strings
// referencing deferred layers are returned unchanged.
func (r *Resolver) ResolveValue(v any, mode Mode) (any, error) {
	switch val := v.(type) {
	case string:
		if !HasTemplate(val) {
			return val, nil
		}
		if mode == ModeStatic {
			deferred, err := r.referencesDeferredLayer(val)
			if err != nil {
				return nil, err
			}
			if deferred {
				return val, nil
			}
		}
		resolved, err := r.ResolveString(val)
		if err != nil {
			return nil, err
		}
		return FromCty(resolved)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := r.ResolveValue(item, mode)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := r.ResolveValue(item, mode)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// ResolveStringMap resolves every value of a string map, requiring each to
// produce a string.
func (r *Resolver) ResolveStringMap(m map[string]string, mode Mode) (map[string]string, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, src := range m {
		resolved, err := r.ResolveValue(src, mode)
		if err != nil {
			return nil, err
		}
		s, ok := resolved.(string)
		if !ok {
			return nil, &ResolutionError{
				Expression: src,
				Segment:    src,
				Reason:     fmt.Sprintf("output %q must resolve to a string, got %T", k, resolved),
			}
		}
		out[k] = s
	}
	return out, nil
}

// referencesDeferredLayer reports whether any reference in the template
// targets an execution-time layer.
func (r *Resolver) referencesDeferredLayer(src string) (bool, error) {
	expr, err := r.parse(src)
	if err != nil {
		return false, err
	}
	for _, traversal := range expr.Variables() {
		if IsDeferredLayer(traversal.RootName()) {
			return true, nil
		}
	}
	return false, nil
}

// validateTraversal walks a dotted-path reference against the context so
// resolution failures name the exact segment that could not be found, rather
// than surfacing a generic HCL diagnostic.
func (r *Resolver) validateTraversal(exprSrc string, traversal hcl.Traversal) error {
	root := traversal.RootName()
	cur, ok := r.ctx.Layer(root)
	if !ok {
		return &ResolutionError{
			Expression: exprSrc,
			Segment:    root,
			Reason:     "unknown context layer",
		}
	}

	path := root
	for _, step := range traversal[1:] {
		switch s := step.(type) {
		case hcl.TraverseAttr:
			next, err := attrOrIndex(cur, s.Name)
			if err != nil {
				return &ResolutionError{Expression: exprSrc, Segment: path + "." + s.Name}
			}
			path += "." + s.Name
			cur = next
		case hcl.TraverseIndex:
			keyStr := traverseIndexString(s.Key)
			next, err := indexValue(cur, s.Key)
			if err != nil {
				return &ResolutionError{Expression: exprSrc, Segment: path + "[" + keyStr + "]"}
			}
			path += "[" + keyStr + "]"
			cur = next
		}
	}
	return nil
}

// attrOrIndex looks up a name on an object or map value.
func attrOrIndex(val cty.Value, name string) (cty.Value, error) {
	if val.IsNull() {
		return cty.NilVal, fmt.Errorf("value is null")
	}
	ty := val.Type()
	switch {
	case ty.IsObjectType():
		if !ty.HasAttribute(name) {
			return cty.NilVal, fmt.Errorf("no attribute %q", name)
		}
		return val.GetAttr(name), nil
	case ty.IsMapType():
		key := cty.StringVal(name)
		if val.HasIndex(key).False() {
			return cty.NilVal, fmt.Errorf("no element %q", name)
		}
		return val.Index(key), nil
	default:
		return cty.NilVal, fmt.Errorf("cannot traverse into %s", ty.FriendlyName())
	}
}

// indexValue applies an index step. Objects indexed with a string key behave
// like attribute access, matching HCL's own indexing rules.
func indexValue(val cty.Value, key cty.Value) (cty.Value, error) {
	if val.IsNull() {
		return cty.NilVal, fmt.Errorf("value is null")
	}
	if val.Type().IsObjectType() && key.Type() == cty.String {
		return attrOrIndex(val, key.AsString())
	}
	if !val.CanIterateElements() || val.HasIndex(key).False() {
		return cty.NilVal, fmt.Errorf("no element for index")
	}
	return val.Index(key), nil
}

func traverseIndexString(key cty.Value) string {
	if key.Type() == cty.String {
		return key.AsString()
	}
	if key.Type() == cty.Number {
		return key.AsBigFloat().Text('f', -1)
	}
	return key.GoString()
}

// classifyEvalError maps HCL evaluation diagnostics onto the resolver's
// error taxonomy: function-related diagnostics become FunctionError,
// everything else a ResolutionError.
func classifyEvalError(exprSrc string, diags hcl.Diagnostics) error {
	for _, d := range diags {
		if strings.Contains(d.Summary, "function") || strings.Contains(d.Summary, "Function") {
			return &FunctionError{
				Expression: exprSrc,
				Detail:     d.Summary + ": " + d.Detail,
			}
		}
	}
	return &ResolutionError{
		Expression: exprSrc,
		Segment:    exprSrc,
		Reason:     diags.Error(),
	}
}

// TraversalKey generates a stable, canonical string representation for an
// hcl.Traversal, suitable for use as a map key.
func TraversalKey(t hcl.Traversal) string {
	return string(hclwrite.TokensForTraversal(t).Bytes())
}

// References walks a configuration tree and collects every distinct ${...}
// reference found in its strings, in deterministic order. The resolver's
// parse cache is reused, so repeated calls are cheap.
func (r *Resolver) References(v any) ([]hcl.Traversal, error) {
	found := make(map[string]hcl.Traversal)
	if err := r.collectReferences(v, found); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(found))
	for k := range found {
		keys = append(keys, k)
	}
	// Sort keys for deterministic output.
	sort.Strings(keys)

	out := make([]hcl.Traversal, 0, len(found))
	for _, k := range keys {
		out = append(out, found[k])
	}
	return out, nil
}

func (r *Resolver) collectReferences(v any, found map[string]hcl.Traversal) error {
	switch val := v.(type) {
	case string:
		if !HasTemplate(val) {
			return nil
		}
		expr, err := r.parse(val)
		if err != nil {
			return err
		}
		for _, traversal := range expr.Variables() {
			found[TraversalKey(traversal)] = traversal
		}
	case map[string]any:
		for _, item := range val {
			if err := r.collectReferences(item, found); err != nil {
				return err
			}
		}
	case map[string]string:
		for _, item := range val {
			if err := r.collectReferences(item, found); err != nil {
				return err
			}
		}
	case []any:
		for _, item := range val {
			if err := r.collectReferences(item, found); err != nil {
				return err
			}
		}
	}
	return nil
}

// CheckIdentifierScope rejects template expressions that reference layers
// unavailable before the graph is built. Applied to identifier-position
// strings such as action names: those may only draw on project, environment,
// local, command, variables, git and secrets.
func (r *Resolver) CheckIdentifierScope(src string) error {
	if !HasTemplate(src) {
		return nil
	}
	expr, err := r.parse(src)
	if err != nil {
		return err
	}
	for _, traversal := range expr.Variables() {
		root := traversal.RootName()
		if !IsStaticIdentifierLayer(root) {
			return &ResolutionError{
				Expression: src,
				Segment:    root,
				Reason:     "identifiers may only reference statically resolvable context layers",
			}
		}
	}
	return nil
}
