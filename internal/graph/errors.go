package graph

import (
	"fmt"
	"strings"

	"github.com/vk/actiongraph/internal/action"
)

// CyclicDependencyError reports a dependency cycle. Cycle lists the actions
// in order, ending with the action that closes the loop back to the first.
type CyclicDependencyError struct {
	Cycle []action.Ref
}

func (e *CyclicDependencyError) Error() string {
	parts := make([]string, 0, len(e.Cycle)+1)
	for _, ref := range e.Cycle {
		parts = append(parts, ref.String())
	}
	if len(e.Cycle) > 0 {
		parts = append(parts, e.Cycle[0].String())
	}
	return "dependency cycle detected: " + strings.Join(parts, " -> ")
}

// UnresolvedDependencyError reports a dependency declaration or runtime
// output reference that does not resolve to a usable action.
type UnresolvedDependencyError struct {
	// From is the action whose configuration contains the reference.
	From action.Ref
	// Target is the referenced action.
	Target action.Ref
	// Disabled is true when the target exists but is disabled and the
	// reference needs its runtime outputs.
	Disabled bool
	// RuntimeOutput is true when the reference was found in a template
	// expression rather than an explicit dependency declaration.
	RuntimeOutput bool
}

func (e *UnresolvedDependencyError) Error() string {
	what := "dependency"
	if e.RuntimeOutput {
		what = "runtime output reference"
	}
	if e.Disabled {
		return fmt.Sprintf(
			"action %s has a %s to %s, which is disabled; runtime outputs of disabled actions are unavailable (guard the reference with a conditional expression)",
			e.From, what, e.Target)
	}
	return fmt.Sprintf("action %s has a %s to %s, which does not exist", e.From, what, e.Target)
}
