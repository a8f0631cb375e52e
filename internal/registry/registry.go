// Package registry holds the execution handlers the engine dispatches to.
// External collaborators register one handler per (kind, type) pair before a
// run begins; an action whose type has no handler is a configuration error
// surfaced before scheduling starts.
package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vk/actiongraph/internal/action"
	"github.com/vk/actiongraph/internal/graph"
)

// Invocation carries everything a handler receives for one node execution.
type Invocation struct {
	Ref action.Ref
	// Type is the plugin-specific behavior selector from the spec.
	Type string
	// Version is the node's content version for this graph snapshot.
	Version string
	// Config is the fully resolved configuration, runtime references
	// included.
	Config map[string]any
}

// Handler performs the actual work of an action. The engine does not
// interpret the returned outputs beyond storing and re-exposing them through
// the runtime context layer and the result cache.
type Handler interface {
	Execute(ctx context.Context, inv *Invocation) (map[string]string, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, inv *Invocation) (map[string]string, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, inv *Invocation) (map[string]string, error) {
	return f(ctx, inv)
}

// UnknownHandlerError reports an action whose (kind, type) pair has no
// registered handler.
type UnknownHandlerError struct {
	Ref  action.Ref
	Type string
}

func (e *UnknownHandlerError) Error() string {
	return fmt.Sprintf("no handler registered for %s actions of type %q (needed by %s)", e.Ref.Kind, e.Type, e.Ref)
}

type handlerKey struct {
	kind action.Kind
	typ  string
}

// Registry maps (kind, type) pairs to handlers for a single engine instance.
type Registry struct {
	handlers map[handlerKey]Handler
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{handlers: make(map[handlerKey]Handler)}
}

// Register installs a handler for a (kind, type) pair. Registering the same
// pair twice is a programming error.
func (r *Registry) Register(kind action.Kind, typ string, h Handler) {
	key := handlerKey{kind: kind, typ: typ}
	if _, exists := r.handlers[key]; exists {
		panic(fmt.Sprintf("handler for (%s, %s) already registered", kind, typ))
	}
	slog.Debug("Registering action handler.", "kind", kind.String(), "type", typ)
	r.handlers[key] = h
}

// RegisterForAllKinds installs the same handler for every kind of the given
// type, for handlers whose behavior does not vary by phase.
func (r *Registry) RegisterForAllKinds(typ string, h Handler) {
	for _, kind := range action.Kinds {
		r.Register(kind, typ, h)
	}
}

// Handler returns the handler for a (kind, type) pair.
func (r *Registry) Handler(kind action.Kind, typ string) (Handler, bool) {
	h, ok := r.handlers[handlerKey{kind: kind, typ: typ}]
	return h, ok
}

// Validate checks that every enabled node in the graph has a handler,
// returning the first UnknownHandlerError found.
func (r *Registry) Validate(g *graph.Graph) error {
	for _, n := range g.Nodes() {
		if _, ok := r.Handler(n.Spec.Kind, n.Spec.Type); !ok {
			return &UnknownHandlerError{Ref: n.Ref(), Type: n.Spec.Type}
		}
	}
	return nil
}
