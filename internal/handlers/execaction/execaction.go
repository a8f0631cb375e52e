// Package execaction ships the engine's only built-in handler: actions of
// type "exec" run a local command. Everything else is expected to come from
// external plugin collaborators.
package execaction

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/vk/actiongraph/internal/ctxlog"
	"github.com/vk/actiongraph/internal/registry"
)

// Type is the action type this handler serves, for every kind.
const Type = "exec"

// Register installs the exec handler for all action kinds.
func Register(r *registry.Registry) {
	r.RegisterForAllKinds(Type, &Handler{})
}

// Handler executes a local command described by the resolved config:
//
//	command: ["sh", "-c", "make build"]   # or a single string
//	dir: ./service                        # optional working directory
//	env: {KEY: value}                     # optional extra environment
//
// Stdout and stderr are captured into the "log" output.
type Handler struct{}

// Execute implements registry.Handler.
func (h *Handler) Execute(ctx context.Context, inv *registry.Invocation) (map[string]string, error) {
	logger := ctxlog.FromContext(ctx).With("action", inv.Ref.String())

	argv, err := commandArgs(inv.Config["command"])
	if err != nil {
		return nil, err
	}
	logger.Debug("Running local command.", "argv", argv)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if dir, ok := inv.Config["dir"].(string); ok && dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = os.Environ()
	if env, ok := inv.Config["env"].(map[string]any); ok {
		for k, v := range env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%v", k, v))
		}
	}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	runErr := cmd.Run()
	log := strings.TrimRight(buf.String(), "\n")
	if runErr != nil {
		return nil, fmt.Errorf("command %q failed: %w\n%s", strings.Join(argv, " "), runErr, log)
	}

	return map[string]string{"log": log}, nil
}

// commandArgs normalizes the command config value: a plain string runs via
// the shell, a list is used as argv directly.
func commandArgs(v any) ([]string, error) {
	switch val := v.(type) {
	case string:
		if val == "" {
			return nil, fmt.Errorf("exec action: command must not be empty")
		}
		return []string{"sh", "-c", val}, nil
	case []any:
		if len(val) == 0 {
			return nil, fmt.Errorf("exec action: command must not be empty")
		}
		argv := make([]string, len(val))
		for i, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("exec action: command element %d is not a string", i)
			}
			argv[i] = s
		}
		return argv, nil
	case nil:
		return nil, fmt.Errorf("exec action: command is required")
	default:
		return nil, fmt.Errorf("exec action: command must be a string or list of strings, got %T", v)
	}
}
