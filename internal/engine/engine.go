// Package engine ties the pipeline together: static template resolution,
// graph construction, version annotation, and cached concurrent execution.
// It is the single entry point external collaborators (CLI, watchers,
// dashboards) interact with.
package engine

import (
	"context"
	"fmt"

	"github.com/vk/actiongraph/internal/action"
	"github.com/vk/actiongraph/internal/cache"
	"github.com/vk/actiongraph/internal/ctxlog"
	"github.com/vk/actiongraph/internal/executor"
	"github.com/vk/actiongraph/internal/graph"
	"github.com/vk/actiongraph/internal/registry"
	"github.com/vk/actiongraph/internal/tmpl"
	"github.com/vk/actiongraph/internal/version"
	"github.com/zclconf/go-cty/cty"
)

// Options configure an engine instance for one project/environment.
type Options struct {
	// Specs are the parsed action descriptors. Names may still contain
	// template expressions.
	Specs []*action.Spec

	// ProjectName populates project.name in the template context.
	ProjectName string
	// EnvironmentName populates environment.name.
	EnvironmentName string
	// Variables are project-level variables; EnvironmentVariables override
	// them key by key.
	Variables            map[string]any
	EnvironmentVariables map[string]any

	// ContextLayers carries collaborator-supplied layers (local, command,
	// providers, secrets, git, ...), keyed by layer name.
	ContextLayers map[string]map[string]cty.Value

	// Ignore patterns apply to every action's source scan, with precedence
	// over the actions' own include patterns.
	Ignore []string

	// Registry supplies the execution handlers. Validated before any run.
	Registry *registry.Registry
	// Cache holds execution results. A fresh one is created when nil.
	Cache *cache.Cache
	// Workers caps run concurrency.
	Workers int
}

// RunOptions tune one Run call.
type RunOptions struct {
	Force           bool
	ContinueOnError bool
	// Workers overrides the engine-level worker count when positive.
	Workers int
}

// NodeStatus is a point-in-time view of one node, exposed for tooling.
type NodeStatus struct {
	Ref     action.Ref
	State   action.State
	Version string
	Result  *action.Result
	Error   string
}

// RunResult is the outcome of one Run: per-node detail plus the overall
// verdict. OK is true only if every enabled node reached Completed.
type RunResult struct {
	OK    bool
	Nodes []NodeStatus
}

// Engine owns a resolved graph snapshot and its execution state.
type Engine struct {
	opts     Options
	resolver *tmpl.Resolver
	calc     *version.Calculator
	cache    *cache.Cache

	graph    *graph.Graph
	disabled []*action.Spec
}

// New creates an engine. Resolve must be called before Run.
func New(opts Options) *Engine {
	if opts.Cache == nil {
		opts.Cache = cache.New()
	}
	tctx := tmpl.NewContext()
	for name, vals := range opts.ContextLayers {
		tctx.SetLayer(name, vals)
	}
	projectLayer := map[string]cty.Value{"name": cty.StringVal(opts.ProjectName)}
	tctx.SetLayer("project", projectLayer)
	if opts.EnvironmentName != "" {
		tctx.SetLayer("environment", map[string]cty.Value{"name": cty.StringVal(opts.EnvironmentName)})
	}

	return &Engine{
		opts:     opts,
		resolver: tmpl.NewResolver(tctx),
		calc:     &version.Calculator{Ignore: opts.Ignore},
		cache:    opts.Cache,
	}
}

// Graph returns the validated graph. Nil before Resolve succeeds.
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// TemplateContext exposes the layered context, including accumulated runtime
// outputs, for tooling.
func (e *Engine) TemplateContext() *tmpl.Context {
	return e.resolver.Context()
}

// DisabledActions returns the specs excluded from scheduling.
func (e *Engine) DisabledActions() []*action.Spec {
	return e.disabled
}

// Status returns a snapshot of every node's state, version and result,
// sorted by (kind, name).
func (e *Engine) Status() []NodeStatus {
	if e.graph == nil {
		return nil
	}
	out := make([]NodeStatus, 0, e.graph.Len())
	for _, n := range e.graph.Nodes() {
		st := NodeStatus{
			Ref:     n.Ref(),
			State:   n.State(),
			Version: n.Version,
			Result:  n.Result,
		}
		if n.Error != nil {
			st.Error = n.Error.Error()
		}
		out = append(out, st)
	}
	return out
}

// Run executes the graph and reports per-node outcomes. The returned error
// reflects configuration problems or the first root-cause execution failure;
// RunResult always carries full per-node detail for diagnosis.
func (e *Engine) Run(ctx context.Context, ropts RunOptions) (*RunResult, error) {
	if e.graph == nil {
		return nil, fmt.Errorf("engine: Resolve must succeed before Run")
	}
	logger := ctxlog.FromContext(ctx)
	logger.Info("🚀 Starting graph execution.", "nodes", e.graph.Len(), "force", ropts.Force)

	workers := e.opts.Workers
	if ropts.Workers > 0 {
		workers = ropts.Workers
	}
	if ropts.Force {
		// A force run re-executes the whole graph, including nodes completed
		// by an earlier run in this session.
		for _, n := range e.graph.Nodes() {
			n.Reset()
		}
	}
	exec := executor.New(e.graph, e.opts.Registry, e.cache, e.resolver, executor.Options{
		Workers:         workers,
		Force:           ropts.Force,
		ContinueOnError: ropts.ContinueOnError,
	})
	runErr := exec.Run(ctx)

	result := &RunResult{OK: true}
	for _, st := range e.Status() {
		if st.State != action.Completed {
			result.OK = false
		}
		result.Nodes = append(result.Nodes, st)
	}
	logger.Info("🏁 Execution finished.", "ok", result.OK)
	return result, runErr
}

// Invalidate reacts to changed source files: versions of owning nodes and
// their transitive dependents are recomputed, and any node whose version
// changed is reset to Pending so the next Run re-executes it. Unaffected
// nodes keep their Completed state and cached results. Returns the refs that
// were reset.
func (e *Engine) Invalidate(ctx context.Context, changedPaths []string) ([]action.Ref, error) {
	if e.graph == nil {
		return nil, fmt.Errorf("engine: Resolve must succeed before Invalidate")
	}
	logger := ctxlog.FromContext(ctx)

	dirty := make(map[string]bool)
	for _, n := range e.graph.Nodes() {
		for _, p := range changedPaths {
			if version.OwnsPath(n.Spec, e.opts.Ignore, p) {
				dirty[n.ID()] = true
				break
			}
		}
	}
	if len(dirty) == 0 {
		return nil, nil
	}

	var reset []action.Ref
	changedVersion := make(map[string]bool)
	for _, n := range e.graph.TopoSort() {
		needsRecompute := dirty[n.ID()]
		for depID := range n.Deps {
			if changedVersion[depID] {
				needsRecompute = true
				break
			}
		}
		if !needsRecompute {
			continue
		}
		newVersion, err := e.calc.NodeVersion(n)
		if err != nil {
			return nil, err
		}
		if newVersion == n.Version {
			continue
		}
		logger.Debug("Version changed, resetting node.", "action", n.ID(), "old", n.Version, "new", newVersion)
		n.Version = newVersion
		n.Reset()
		changedVersion[n.ID()] = true
		reset = append(reset, n.Ref())
	}
	action.SortRefs(reset)
	return reset, nil
}
