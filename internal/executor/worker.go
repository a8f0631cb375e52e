package executor

import (
	"context"
	"time"

	"github.com/vk/actiongraph/internal/action"
	"github.com/vk/actiongraph/internal/cache"
	"github.com/vk/actiongraph/internal/ctxlog"
	"github.com/vk/actiongraph/internal/registry"
	"github.com/vk/actiongraph/internal/tmpl"
)

// worker is the core processing loop for a single concurrent worker.
func (e *Executor) worker(ctx context.Context, readyChan chan *action.Node, workerID int) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "workerID", workerID)

	for n := range readyChan {
		workerLogger := logger.With("workerID", workerID, "nodeID", n.ID())

		if ctx.Err() != nil {
			// Cancellation: halt dispatch. The node stays incomplete and
			// writes no cache entry. Dependents still have to settle their
			// WaitGroup slots, so they are skipped too.
			if n.Skip(ctx.Err(), &e.wg) {
				workerLogger.Warn("Context canceled, node not executed.")
				e.skipDependents(ctx, n)
			}
			continue
		}
		if !n.TryStart() {
			// Skipped by an upstream failure after being enqueued; the skip
			// already settled its WaitGroup slot.
			continue
		}

		workerLogger.Debug("Worker picked up node for execution.")
		result, err := e.executeNode(ctx, n)
		if err != nil {
			workerLogger.Error("Node execution failed.", "error", err)
			n.SetState(action.Failed)
			n.Error = err
			if e.opts.ContinueOnError {
				e.unlockDependents(ctx, n, readyChan)
			} else {
				e.skipDependents(ctx, n)
			}
			e.wg.Done()
			continue
		}

		n.Result = result
		n.SetState(action.Completed)
		if result.Cached {
			workerLogger.Info("✅ Action up to date, using cached result.", "version", n.Version)
		} else {
			workerLogger.Info("✅ Action completed.", "version", n.Version)
		}

		// Publish runtime outputs before unlocking dependents so their
		// template lookups always observe them.
		e.resolver.Context().SetRuntimeOutputs(n.Ref(), n.Version, result.Outputs)
		e.unlockDependents(ctx, n, readyChan)
		e.wg.Done()
	}
	logger.Debug("Worker finished.", "workerID", workerID)
}

// executeNode performs one node execution: cache short-circuit, final
// template resolution with the runtime layer available, and handler dispatch.
func (e *Executor) executeNode(ctx context.Context, n *action.Node) (*action.Result, error) {
	logger := ctxlog.FromContext(ctx).With("action", n.ID())
	ref := n.Ref()

	if !e.opts.Force {
		if cached, ok := e.cache.Get(ref, n.Version); ok {
			logger.Debug("Cache hit, skipping execution.", "version", n.Version)
			hit := *cached
			hit.Cached = true
			return &hit, nil
		}
	}

	logger.Info("▶️ Executing action.", "type", n.Spec.Type, "version", n.Version)

	// Resolve the configuration again, this time with runtime outputs of all
	// dependencies available. Edge construction guarantees every referenced
	// producer has completed.
	resolvedAny, err := e.resolver.ResolveValue(n.ResolvedConfig, tmpl.ModeFull)
	if err != nil {
		return nil, &ExecutionError{Ref: ref, Err: err}
	}
	resolvedConfig, _ := resolvedAny.(map[string]any)

	declaredOutputs, err := e.resolver.ResolveStringMap(n.Spec.Outputs, tmpl.ModeFull)
	if err != nil {
		return nil, &ExecutionError{Ref: ref, Err: err}
	}

	handler, ok := e.registry.Handler(n.Spec.Kind, n.Spec.Type)
	if !ok {
		return nil, &registry.UnknownHandlerError{Ref: ref, Type: n.Spec.Type}
	}

	started := time.Now()
	outputs, err := handler.Execute(ctx, &registry.Invocation{
		Ref:     ref,
		Type:    n.Spec.Type,
		Version: n.Version,
		Config:  resolvedConfig,
	})
	if err != nil {
		if ctx.Err() != nil {
			// Interrupted, not failed on its own terms; never cached.
			return nil, ctx.Err()
		}
		return nil, &ExecutionError{Ref: ref, Err: err}
	}

	merged := make(map[string]string, len(declaredOutputs)+len(outputs))
	for k, v := range declaredOutputs {
		merged[k] = v
	}
	for k, v := range outputs {
		merged[k] = v
	}

	result := &action.Result{
		Success:     true,
		Outputs:     merged,
		StartedAt:   started,
		CompletedAt: time.Now(),
	}

	if e.opts.Force {
		e.cache.Replace(ref, n.Version, result)
	} else if err := e.cache.Put(ref, n.Version, result); err != nil && err != cache.ErrAlreadyRecorded {
		logger.Warn("Could not record result in cache.", "error", err)
	}
	return result, nil
}
