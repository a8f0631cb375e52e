package action

import "fmt"

// Kind classifies an action by the phase of work it performs. The set of
// kinds is closed and carries a fixed scheduling priority: builds run before
// deploys and runs, which run before tests, whenever two actions share a name.
type Kind int

const (
	KindBuild Kind = iota
	KindDeploy
	KindRun
	KindTest
)

var kindNames = map[Kind]string{
	KindBuild:  "build",
	KindDeploy: "deploy",
	KindRun:    "run",
	KindTest:   "test",
}

var kindsByName = map[string]Kind{
	"build":  KindBuild,
	"deploy": KindDeploy,
	"run":    KindRun,
	"test":   KindTest,
}

// Kinds lists all action kinds in priority order.
var Kinds = []Kind{KindBuild, KindDeploy, KindRun, KindTest}

// String returns the canonical lowercase name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Priority returns the scheduling rank of the kind. Deploy and Run share a
// rank: neither orders before the other for the same action name.
func (k Kind) Priority() int {
	switch k {
	case KindBuild:
		return 0
	case KindDeploy, KindRun:
		return 1
	case KindTest:
		return 2
	}
	return -1
}

// ParseKind converts a lowercase kind name to its Kind value.
func ParseKind(s string) (Kind, error) {
	if k, ok := kindsByName[s]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("unknown action kind %q (want build, deploy, run or test)", s)
}

// RuntimeSection returns the name of the runtime context section that holds
// this kind's outputs: builds for Build, services for Deploy, tasks for Run
// and tests for Test.
func (k Kind) RuntimeSection() string {
	switch k {
	case KindBuild:
		return "builds"
	case KindDeploy:
		return "services"
	case KindRun:
		return "tasks"
	case KindTest:
		return "tests"
	}
	return ""
}

// KindForRuntimeSection is the inverse of RuntimeSection. The second return
// value is false for unknown section names.
func KindForRuntimeSection(section string) (Kind, bool) {
	switch section {
	case "builds":
		return KindBuild, true
	case "services":
		return KindDeploy, true
	case "tasks":
		return KindRun, true
	case "tests":
		return KindTest, true
	}
	return 0, false
}
