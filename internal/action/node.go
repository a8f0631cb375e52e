package action

import (
	"sync"
	"sync/atomic"
)

// State is the execution state of a node in the graph.
type State int32

const (
	// Pending indicates the node is waiting for its dependencies to complete.
	Pending State = iota
	// Ready indicates all dependencies have completed and the node is queued
	// for a worker.
	Ready
	// Running indicates the node is currently being executed by a worker.
	Running
	// Completed indicates the node finished successfully (or was satisfied
	// from the result cache).
	Completed
	// Failed indicates the node failed, was cancelled, or was skipped because
	// an upstream dependency failed.
	Failed
)

var stateNames = map[State]string{
	Pending:   "pending",
	Ready:     "ready",
	Running:   "running",
	Completed: "completed",
	Failed:    "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Node is a single vertex in the action graph: one enabled action plus its
// resolution, versioning and execution state.
type Node struct {
	// Spec is the action descriptor this node was built from. Its Name is
	// fully resolved by the time the node exists.
	Spec *Spec

	// ResolvedConfig is the config tree after static template resolution.
	// Strings referencing runtime outputs are left unresolved here and
	// resolved again immediately before execution.
	ResolvedConfig map[string]any
	// ResolvedOutputs are the spec's declared static outputs after
	// resolution.
	ResolvedOutputs map[string]string
	// Version is the content hash assigned by the version pass. Immutable for
	// a given graph snapshot.
	Version string

	// Deps and Dependents are the adjacency sets, keyed by ref string.
	Deps       map[string]*Node
	Dependents map[string]*Node

	// Error stores the failure that put the node into Failed state.
	Error error
	// Result is the recorded outcome of the node's most recent execution.
	Result *Result

	// depCount is the number of unmet dependencies, decremented as upstream
	// nodes complete. A node becomes ready when it reaches zero.
	depCount atomic.Int32
	// state is the node's current execution state, managed atomically.
	state atomic.Int32
	// skipOnce ensures a node is marked as skipped exactly once even when
	// several failing dependencies race to propagate.
	skipOnce sync.Once
}

// NewNode creates a graph node for the given spec with empty adjacency sets.
func NewNode(spec *Spec) *Node {
	return &Node{
		Spec:       spec,
		Deps:       make(map[string]*Node),
		Dependents: make(map[string]*Node),
	}
}

// Ref returns the node's identity.
func (n *Node) Ref() Ref {
	return n.Spec.Ref()
}

// ID returns the canonical string address of the node.
func (n *Node) ID() string {
	return n.Ref().String()
}

// State atomically retrieves the node's execution state.
func (n *Node) State() State {
	return State(n.state.Load())
}

// SetState atomically sets the node's execution state.
func (n *Node) SetState(s State) {
	n.state.Store(int32(s))
}

// DepCount atomically returns the current number of unmet dependencies.
func (n *Node) DepCount() int32 {
	return n.depCount.Load()
}

// SetDepCount initializes the unmet-dependency counter before a run.
func (n *Node) SetDepCount(count int32) {
	n.depCount.Store(count)
}

// DecrementDepCount atomically decrements the dependency counter and returns
// the new value.
func (n *Node) DecrementDepCount() int32 {
	return n.depCount.Add(-1)
}

// TryStart transitions Ready -> Running. Returns false if the node is no
// longer Ready, e.g. it was skipped by a racing upstream failure after being
// enqueued.
func (n *Node) TryStart() bool {
	return n.state.CompareAndSwap(int32(Ready), int32(Running))
}

// Skip marks the node as failed and decrements the run's WaitGroup exactly
// once. Returns true if this call performed the skip.
func (n *Node) Skip(err error, wg *sync.WaitGroup) bool {
	var wasSkipped bool
	n.skipOnce.Do(func() {
		n.SetState(Failed)
		n.Error = err
		wg.Done()
		wasSkipped = true
	})
	return wasSkipped
}

// Reset returns the node to Pending and clears per-run state so it can be
// scheduled again, e.g. after its version changed in watch mode. Must not be
// called while a run is in flight.
func (n *Node) Reset() {
	n.SetState(Pending)
	n.Error = nil
	n.Result = nil
	n.skipOnce = sync.Once{}
}
