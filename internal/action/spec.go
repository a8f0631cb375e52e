// Package action defines the core data model of the engine: action
// descriptors, graph nodes with their execution state machine, and execution
// results.
package action

import "time"

// Spec is a parsed action descriptor, the engine's unit of input. The config
// loader (or any external collaborator) produces Specs; the engine resolves
// their templates, assembles them into a graph and executes them.
type Spec struct {
	// Kind is the action's phase classification.
	Kind Kind
	// Type selects the handler implementation (e.g. "exec", "container").
	// Opaque to the engine beyond registry lookup.
	Type string
	// Name identifies the action within its kind. May contain template
	// expressions, restricted to statically resolvable context layers.
	Name string
	// Description is free-form documentation, not interpreted.
	Description string
	// Dependencies are explicitly declared upstream actions.
	Dependencies []Ref
	// Config is the raw, unresolved configuration tree. String leaves may
	// contain ${...} template expressions.
	Config map[string]any
	// Include and Exclude are glob patterns selecting the source files that
	// feed the action's version. An empty Include means all files under
	// BasePath. Project ignore patterns take precedence over both.
	Include []string
	Exclude []string
	// Disabled is a template expression that must resolve to a boolean. An
	// empty string means enabled.
	Disabled string
	// BasePath is the directory the action's source globs are relative to.
	BasePath string
	// Outputs declares the action's static outputs, available to other
	// actions' templates under actions.<kind>.<name>.outputs without running
	// anything. Values may be templated.
	Outputs map[string]string
}

// Ref returns the spec's identity. Valid only after the name has been
// resolved to a plain string.
func (s *Spec) Ref() Ref {
	return Ref{Kind: s.Kind, Name: s.Name}
}

// Result records the outcome of executing an action at a specific version.
// Results are immutable once written to the cache.
type Result struct {
	Success     bool
	Outputs     map[string]string
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
	// Cached is true when the result was served from the cache rather than
	// produced by a fresh handler invocation.
	Cached bool
}
