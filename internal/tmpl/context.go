package tmpl

import (
	"sync"

	"github.com/vk/actiongraph/internal/action"
	"github.com/zclconf/go-cty/cty"
)

// layerNames lists every top-level name a template expression may start with.
// Each is an independent lookup scope; collaborators populate the ones they
// own (e.g. provider plugins fill "providers", the CLI fills "command").
var layerNames = []string{
	"local",
	"command",
	"project",
	"variables",
	"environment",
	"providers",
	"actions",
	"runtime",
	"inputs",
	"parent",
	"template",
	"this",
	"secrets",
	"git",
	"steps",
}

// layerAliases maps alternative spellings to their canonical layer.
var layerAliases = map[string]string{
	"var":     "variables",
	"modules": "actions",
}

// staticIdentifierLayers are the only layers an expression may reference when
// it appears in identifier position (an action name). Everything here is
// resolvable without running any action.
var staticIdentifierLayers = map[string]bool{
	"local":       true,
	"command":     true,
	"project":     true,
	"variables":   true,
	"environment": true,
	"git":         true,
	"secrets":     true,
}

// deferredLayers are only populated while the graph executes. References to
// them are left unresolved by the static pass and resolved again immediately
// before the owning action runs.
var deferredLayers = map[string]bool{
	"runtime": true,
}

// CanonicalLayer resolves aliases ("var", "modules") to the canonical layer
// name, returning false for names that are not layers at all.
func CanonicalLayer(name string) (string, bool) {
	if canon, ok := layerAliases[name]; ok {
		return canon, true
	}
	for _, n := range layerNames {
		if n == name {
			return n, true
		}
	}
	return "", false
}

// IsDeferredLayer reports whether the (possibly aliased) layer name is only
// available at execution time.
func IsDeferredLayer(name string) bool {
	canon, ok := CanonicalLayer(name)
	return ok && deferredLayers[canon]
}

// IsStaticIdentifierLayer reports whether the (possibly aliased) layer name
// may be referenced from identifier-position expressions.
func IsStaticIdentifierLayer(name string) bool {
	canon, ok := CanonicalLayer(name)
	return ok && staticIdentifierLayers[canon]
}

// Context is the layered lookup environment for template resolution. All
// layers except runtime are immutable once set; the runtime layer receives
// exactly one write per completed action and is the only structure shared
// across concurrently executing nodes.
type Context struct {
	mu     sync.RWMutex
	layers map[string]cty.Value

	// runtime holds per-section (builds/services/tasks/tests), per-action
	// output objects, materialized into the runtime layer on read.
	runtime map[string]map[string]cty.Value
}

// NewContext returns a context with every layer present but empty.
func NewContext() *Context {
	c := &Context{
		layers:  make(map[string]cty.Value, len(layerNames)),
		runtime: make(map[string]map[string]cty.Value),
	}
	for _, name := range layerNames {
		c.layers[name] = cty.EmptyObjectVal
	}
	return c
}

// SetLayer replaces the named layer's contents. The name may be an alias.
func (c *Context) SetLayer(name string, vals map[string]cty.Value) {
	canon, ok := CanonicalLayer(name)
	if !ok {
		panic("tmpl: unknown context layer " + name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(vals) == 0 {
		c.layers[canon] = cty.EmptyObjectVal
		return
	}
	c.layers[canon] = cty.ObjectVal(vals)
}

// Layer returns the named layer's current value.
func (c *Context) Layer(name string) (cty.Value, bool) {
	canon, ok := CanonicalLayer(name)
	if !ok {
		return cty.NilVal, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if canon == "runtime" {
		return c.runtimeValue(), true
	}
	v, ok := c.layers[canon]
	return v, ok
}

// SetRuntimeOutputs records a completed action's outputs in the runtime
// layer, making runtime.<section>.<name>.outputs.* and .version resolvable
// for dependents. Called exactly once per node completion.
func (c *Context) SetRuntimeOutputs(ref action.Ref, version string, outputs map[string]string) {
	outVals := make(map[string]cty.Value, len(outputs))
	for k, v := range outputs {
		outVals[k] = cty.StringVal(v)
	}
	entry := map[string]cty.Value{
		"version": cty.StringVal(version),
	}
	if len(outVals) > 0 {
		entry["outputs"] = cty.ObjectVal(outVals)
	} else {
		entry["outputs"] = cty.EmptyObjectVal
	}

	section := ref.Kind.RuntimeSection()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runtime[section] == nil {
		c.runtime[section] = make(map[string]cty.Value)
	}
	c.runtime[section][ref.Name] = cty.ObjectVal(entry)
}

// runtimeValue materializes the runtime layer. Caller must hold at least a
// read lock.
func (c *Context) runtimeValue() cty.Value {
	if len(c.runtime) == 0 {
		return cty.EmptyObjectVal
	}
	sections := make(map[string]cty.Value, len(c.runtime))
	for section, entries := range c.runtime {
		if len(entries) == 0 {
			continue
		}
		vals := make(map[string]cty.Value, len(entries))
		for name, v := range entries {
			vals[name] = v
		}
		sections[section] = cty.ObjectVal(vals)
	}
	if len(sections) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(sections)
}

// Variables returns a snapshot of every layer, aliases included, suitable for
// an hcl.EvalContext.
func (c *Context) Variables() map[string]cty.Value {
	c.mu.RLock()
	defer c.mu.RUnlock()

	vars := make(map[string]cty.Value, len(c.layers)+len(layerAliases))
	for name, v := range c.layers {
		vars[name] = v
	}
	vars["runtime"] = c.runtimeValue()
	for alias, canon := range layerAliases {
		vars[alias] = vars[canon]
	}
	return vars
}
