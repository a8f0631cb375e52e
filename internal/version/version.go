// Package version computes content-based action versions: a stable hash over
// an action's included source files, its resolved static configuration, and
// the versions of its direct dependencies. A change anywhere below an action
// therefore cascades into every transitive dependent's version.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/vk/actiongraph/internal/action"
	"github.com/vk/actiongraph/internal/ctxlog"
	"github.com/vk/actiongraph/internal/graph"
	"github.com/zeebo/blake3"
)

// versionPrefix marks engine-computed version strings.
const versionPrefix = "v-"

// hashLength is the number of hex characters kept from the full digest.
const hashLength = 12

// ComputationError reports a version that could not be computed, typically
// because a source file was unreadable.
type ComputationError struct {
	Ref  action.Ref
	Path string
	Err  error
}

func (e *ComputationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("computing version for %s: %s: %v", e.Ref, e.Path, e.Err)
	}
	return fmt.Sprintf("computing version for %s: %v", e.Ref, e.Err)
}

func (e *ComputationError) Unwrap() error { return e.Err }

// Calculator computes and assigns versions for a graph snapshot.
type Calculator struct {
	// Ignore patterns apply to every action's source scan and take precedence
	// over the action's own include patterns.
	Ignore []string
}

// Annotate computes a version for every node, dependencies first, so each
// node's formula observes already finalized dependency versions.
func (c *Calculator) Annotate(ctx context.Context, g *graph.Graph) error {
	logger := ctxlog.FromContext(ctx)
	for _, n := range g.TopoSort() {
		v, err := c.NodeVersion(n)
		if err != nil {
			return err
		}
		n.Version = v
		logger.Debug("Computed action version.", "action", n.ID(), "version", v)
	}
	return nil
}

// NodeVersion computes a single node's version. Dependency versions must
// already be assigned.
func (c *Calculator) NodeVersion(n *action.Node) (string, error) {
	hasher := blake3.New()

	files, err := scanSources(n.Spec, c.Ignore)
	if err != nil {
		return "", &ComputationError{Ref: n.Ref(), Err: err}
	}
	for _, f := range files {
		fileHash, err := hashFile(f.absPath)
		if err != nil {
			return "", &ComputationError{Ref: n.Ref(), Path: f.relPath, Err: err}
		}
		fmt.Fprintf(hasher, "file:%s:%s\n", f.relPath, fileHash)
	}

	configJSON, err := canonicalConfig(n)
	if err != nil {
		return "", &ComputationError{Ref: n.Ref(), Err: err}
	}
	fmt.Fprintf(hasher, "config:%s\n", configJSON)

	// Dependencies sorted by (kind, name) so declaration order is irrelevant.
	deps := make([]*action.Node, 0, len(n.Deps))
	for _, dep := range n.Deps {
		deps = append(deps, dep)
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Ref().Less(deps[j].Ref()) })
	for _, dep := range deps {
		if dep.Version == "" {
			return "", &ComputationError{
				Ref: n.Ref(),
				Err: fmt.Errorf("dependency %s has no version yet", dep.ID()),
			}
		}
		fmt.Fprintf(hasher, "dep:%s:%s\n", dep.ID(), dep.Version)
	}

	digest := hasher.Sum(nil)
	return versionPrefix + fmt.Sprintf("%x", digest)[:hashLength], nil
}

// canonicalConfig serializes the parts of a node that identify its resolved
// configuration with stable key ordering, so identical configs always hash
// identically.
func canonicalConfig(n *action.Node) ([]byte, error) {
	envelope := map[string]any{
		"kind": n.Spec.Kind.String(),
		"type": n.Spec.Type,
		"name": n.Spec.Name,
	}
	if len(n.ResolvedConfig) > 0 {
		envelope["config"] = n.ResolvedConfig
	}
	if len(n.ResolvedOutputs) > 0 {
		outputs := make(map[string]any, len(n.ResolvedOutputs))
		for k, v := range n.ResolvedOutputs {
			outputs[k] = v
		}
		envelope["outputs"] = outputs
	}
	return json.Marshal(sortKeys(envelope))
}

// sortKeys recursively rebuilds maps with sorted keys for stable JSON output.
func sortKeys(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sorted := make(map[string]any, len(val))
		for _, k := range keys {
			sorted[k] = sortKeys(val[k])
		}
		return sorted

	case []any:
		for i, item := range val {
			val[i] = sortKeys(item)
		}
		return val

	default:
		return v
	}
}
