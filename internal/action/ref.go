package action

import (
	"fmt"
	"sort"
	"strings"
)

// Ref identifies an action by kind and name. Names are unique per kind, so a
// Ref is a global identity within one graph.
type Ref struct {
	Kind Kind
	Name string
}

// String returns the canonical "kind.name" address of the action.
func (r Ref) String() string {
	return r.Kind.String() + "." + r.Name
}

// Less orders refs by (kind, name). Used wherever a deterministic ordering of
// actions is required, e.g. version computation and error messages.
func (r Ref) Less(other Ref) bool {
	if r.Kind != other.Kind {
		return r.Kind < other.Kind
	}
	return r.Name < other.Name
}

// ParseRef parses a "kind.name" dependency address.
func ParseRef(s string) (Ref, error) {
	kindStr, name, ok := strings.Cut(s, ".")
	if !ok || name == "" {
		return Ref{}, fmt.Errorf("invalid action reference %q (want \"kind.name\")", s)
	}
	kind, err := ParseKind(kindStr)
	if err != nil {
		return Ref{}, fmt.Errorf("invalid action reference %q: %w", s, err)
	}
	return Ref{Kind: kind, Name: name}, nil
}

// SortRefs sorts a slice of refs in place by (kind, name).
func SortRefs(refs []Ref) {
	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })
}
