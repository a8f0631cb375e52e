package executor

import (
	"fmt"

	"github.com/vk/actiongraph/internal/action"
)

// ExecutionError reports a node whose handler invocation failed.
type ExecutionError struct {
	Ref action.Ref
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("executing %s: %v", e.Ref, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// SkippedError marks a node that was never attempted because an upstream
// dependency failed.
type SkippedError struct {
	Ref    action.Ref
	Failed action.Ref
}

func (e *SkippedError) Error() string {
	return fmt.Sprintf("%s skipped due to upstream failure of %s", e.Ref, e.Failed)
}
