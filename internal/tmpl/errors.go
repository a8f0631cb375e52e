package tmpl

import (
	"fmt"
	"strings"
)

// ResolutionError reports a template expression that references a path the
// context cannot satisfy. It names the full expression and the first segment
// of the path that failed to resolve.
type ResolutionError struct {
	// Expression is the full template source, e.g. "${var.hosts.api}".
	Expression string
	// Segment is the dotted path up to and including the first unresolvable
	// part, e.g. "var.hosts".
	Segment string
	// Reason carries additional detail, e.g. that the top-level layer name is
	// unknown.
	Reason string
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("unable to resolve template %q: could not find %q", e.Expression, e.Segment)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

// FunctionError reports an invalid template function call: an unknown
// function name or arguments the function rejects.
type FunctionError struct {
	Expression string
	Function   string
	Detail     string
}

func (e *FunctionError) Error() string {
	if e.Function != "" {
		return fmt.Sprintf("template function error in %q: %s: %s", e.Expression, e.Function, e.Detail)
	}
	return fmt.Sprintf("template function error in %q: %s", e.Expression, e.Detail)
}

// CircularRefError reports a cycle among template references, e.g. a variable
// whose expression depends on resolving itself through other variables, or
// two actions whose static outputs reference each other.
type CircularRefError struct {
	// Cycle lists the chain of identifiers, ending where it started.
	Cycle []string
}

func (e *CircularRefError) Error() string {
	return fmt.Sprintf("circular template reference: %s", strings.Join(e.Cycle, " -> "))
}
