// Package executor walks the validated action graph, dispatching ready nodes
// to a worker pool. A node becomes ready once every dependency has completed;
// independent ready nodes run concurrently up to the worker count. Completed
// nodes publish their outputs into the runtime context layer, unblocking
// template lookups in not-yet-run dependents, and record their results in the
// cache so an unchanged version is never executed twice.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/vk/actiongraph/internal/action"
	"github.com/vk/actiongraph/internal/cache"
	"github.com/vk/actiongraph/internal/ctxlog"
	"github.com/vk/actiongraph/internal/graph"
	"github.com/vk/actiongraph/internal/registry"
	"github.com/vk/actiongraph/internal/tmpl"
)

// DefaultWorkers is the worker-pool size used when Options leaves it zero.
const DefaultWorkers = 4

// Options tune a single run.
type Options struct {
	// Workers caps how many nodes execute concurrently.
	Workers int
	// Force bypasses cache hits; fresh results replace the entry for the
	// (unchanged) version key.
	Force bool
	// ContinueOnError attempts dependents of failed nodes instead of
	// fail-fast skipping them. Nodes whose configuration needs the failed
	// dependency's runtime outputs will themselves fail at resolution.
	ContinueOnError bool
}

// Executor runs the graph. One Executor may perform several runs against the
// same graph snapshot (e.g. after watch-mode invalidation resets nodes).
type Executor struct {
	graph    *graph.Graph
	registry *registry.Registry
	cache    *cache.Cache
	resolver *tmpl.Resolver
	opts     Options

	wg sync.WaitGroup
}

// New creates an executor over a validated, versioned graph.
func New(g *graph.Graph, reg *registry.Registry, c *cache.Cache, resolver *tmpl.Resolver, opts Options) *Executor {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Executor{
		graph:    g,
		registry: reg,
		cache:    c,
		resolver: resolver,
		opts:     opts,
	}
}

// Run executes every node that is not already Completed, honoring dependency
// order, and returns an error if any node failed. Nodes completed by an
// earlier run keep their state and results; their outputs are already in the
// runtime layer.
func (e *Executor) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	pending := e.pendingNodes()
	if len(pending) == 0 {
		logger.Debug("No pending nodes, nothing to execute.")
		return nil
	}

	readyChan := make(chan *action.Node, e.graph.Len())

	logger.Debug("Initializing run, counting unmet dependencies.", "pending", len(pending))
	for _, n := range pending {
		n.SetDepCount(countUnmet(n))
	}
	rootCount := 0
	for _, n := range pending {
		if n.DepCount() == 0 {
			n.SetState(action.Ready)
			readyChan <- n
			rootCount++
		}
	}
	logger.Debug("Found all root nodes.", "count", rootCount)

	e.wg.Add(len(pending))

	logger.Debug("Starting worker pool.", "workers", e.opts.Workers)
	for i := 0; i < e.opts.Workers; i++ {
		go e.worker(ctx, readyChan, i)
	}

	logger.Info("Waiting for all nodes to complete...")
	e.wg.Wait()
	close(readyChan)
	logger.Info("All nodes settled.")

	return e.collectFailures(ctx)
}

// pendingNodes resets and returns every node that still needs to run: fresh
// Pending nodes, and Failed ones being retried.
func (e *Executor) pendingNodes() []*action.Node {
	var out []*action.Node
	for _, n := range e.graph.Nodes() {
		if n.State() == action.Completed {
			continue
		}
		n.Reset()
		out = append(out, n)
	}
	return out
}

// countUnmet recounts a node's unmet dependencies.
func countUnmet(n *action.Node) int32 {
	unmet := int32(0)
	for _, dep := range n.Deps {
		if dep.State() != action.Completed {
			unmet++
		}
	}
	return unmet
}

// skipDependents recursively marks all downstream nodes as failed without
// running them. Uses each node's skip-once guard so racing upstream failures
// settle every node exactly once.
func (e *Executor) skipDependents(ctx context.Context, n *action.Node) {
	logger := ctxlog.FromContext(ctx)
	for _, dependent := range n.Dependents {
		dep := dependent
		skipErr := &SkippedError{Ref: dep.Ref(), Failed: n.Ref()}
		if dep.Skip(skipErr, &e.wg) {
			logger.Warn("Skipping dependent node due to upstream failure.", "nodeID", dep.ID(), "dependency", n.ID())
			e.skipDependents(ctx, dep)
		}
	}
}

// unlockDependents decrements dependents' unmet counters after a node
// settles, enqueueing any that become ready.
func (e *Executor) unlockDependents(ctx context.Context, n *action.Node, readyChan chan *action.Node) {
	logger := ctxlog.FromContext(ctx)
	for _, dependent := range n.Dependents {
		if dependent.State() != action.Pending {
			continue
		}
		if dependent.DecrementDepCount() == 0 {
			logger.Debug("Unlocking dependent node.", "dependentID", dependent.ID())
			dependent.SetState(action.Ready)
			readyChan <- dependent
		}
	}
}

// collectFailures inspects final node states and produces the run error. The
// run is a success only if every node reached Completed; skipped nodes are
// symptoms, so the first real failure is reported as the root cause.
func (e *Executor) collectFailures(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	var failedIDs []string
	var rootCause error

	nodes := e.graph.Nodes()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Ref().Less(nodes[j].Ref()) })
	for _, n := range nodes {
		if n.State() != action.Failed {
			continue
		}
		logger.Error("Node failed execution.", "nodeID", n.ID(), "error", n.Error)
		var skipped *SkippedError
		if n.Error != nil && !errors.As(n.Error, &skipped) && !errors.Is(n.Error, context.Canceled) {
			failedIDs = append(failedIDs, n.ID())
			if rootCause == nil {
				rootCause = n.Error
			}
		}
	}

	if rootCause != nil {
		return fmt.Errorf("execution failed for %s: %w", strings.Join(failedIDs, ", "), rootCause)
	}
	// Cancellation or pure skips: surface the first recorded error.
	for _, n := range nodes {
		if n.State() == action.Failed && n.Error != nil {
			return fmt.Errorf("execution incomplete: %w", n.Error)
		}
	}
	return nil
}
