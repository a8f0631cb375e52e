package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/actiongraph/internal/action"
	"github.com/vk/actiongraph/internal/registry"
	"github.com/vk/actiongraph/internal/tmpl"
)

// countingHandler records which actions executed and with what config.
type countingHandler struct {
	mu      sync.Mutex
	configs map[string]map[string]any
	counts  map[string]int
	outputs map[string]map[string]string
}

func newCountingHandler() *countingHandler {
	return &countingHandler{
		configs: make(map[string]map[string]any),
		counts:  make(map[string]int),
		outputs: make(map[string]map[string]string),
	}
}

func (h *countingHandler) Execute(_ context.Context, inv *registry.Invocation) (map[string]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.configs[inv.Ref.String()] = inv.Config
	h.counts[inv.Ref.String()]++
	return h.outputs[inv.Ref.String()], nil
}

func (h *countingHandler) count(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[id]
}

func (h *countingHandler) config(id string) map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.configs[id]
}

func newTestRegistry(h *countingHandler) *registry.Registry {
	reg := registry.New()
	reg.RegisterForAllKinds("exec", h)
	return reg
}

func TestEngine_ResolveAndRun(t *testing.T) {
	handler := newCountingHandler()
	handler.outputs["deploy.api"] = map[string]string{"host": "api.internal"}

	specs := []*action.Spec{
		{
			Kind: action.KindBuild, Type: "exec", Name: "api",
			Config:  map[string]any{"command": "make api"},
			Outputs: map[string]string{"image": "${var.registry}/api"},
		},
		{
			Kind: action.KindDeploy, Type: "exec", Name: "api",
			Config: map[string]any{
				"image": "${actions.build.api.outputs.image}",
			},
		},
		{
			// Templated name drawing on a statically resolvable layer.
			Kind: action.KindDeploy, Type: "exec", Name: "${project.name}-web",
			Config: map[string]any{
				"apiHost": "${runtime.services.api.outputs.host}",
			},
		},
		{
			Kind: action.KindDeploy, Type: "exec", Name: "canary",
			Disabled: `${environment.name == "prod"}`,
			Config:   map[string]any{"command": "never runs"},
		},
	}

	eng := New(Options{
		Specs:                specs,
		ProjectName:          "demo",
		EnvironmentName:      "prod",
		Variables:            map[string]any{"registry": "registry.local"},
		EnvironmentVariables: map[string]any{"registry": "registry.example.com"},
		Registry:             newTestRegistry(handler),
	})
	ctx := context.Background()
	require.NoError(t, eng.Resolve(ctx))

	// Name template resolved, disabled action partitioned out.
	g := eng.Graph()
	require.Equal(t, 3, g.Len())
	_, ok := g.Node(action.Ref{Kind: action.KindDeploy, Name: "demo-web"})
	assert.True(t, ok)
	require.Len(t, eng.DisabledActions(), 1)
	assert.Equal(t, "canary", eng.DisabledActions()[0].Name)

	// Every node got a version before anything ran.
	for _, st := range eng.Status() {
		assert.True(t, strings.HasPrefix(st.Version, "v-"), "%s version %q", st.Ref, st.Version)
		assert.Equal(t, action.Pending, st.State)
	}

	result, err := eng.Run(ctx, RunOptions{})
	require.NoError(t, err)
	require.True(t, result.OK)
	require.Len(t, result.Nodes, 3)

	// Environment variables override project variables, and static action
	// outputs resolved before execution.
	assert.Equal(t, "registry.example.com/api", handler.config("deploy.api")["image"])
	// Runtime outputs flowed from the producer to the dependent.
	assert.Equal(t, "api.internal", handler.config("deploy.demo-web")["apiHost"])
	assert.Equal(t, 0, handler.count("deploy.canary"))
}

func TestEngine_SecondRunHitsCache(t *testing.T) {
	handler := newCountingHandler()
	specs := []*action.Spec{
		{Kind: action.KindBuild, Type: "exec", Name: "api", Config: map[string]any{"command": "make"}},
	}
	eng := New(Options{Specs: specs, ProjectName: "demo", Registry: newTestRegistry(handler)})
	ctx := context.Background()
	require.NoError(t, eng.Resolve(ctx))

	_, err := eng.Run(ctx, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, handler.count("build.api"))

	// An already completed graph is a no-op run.
	result, err := eng.Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, 1, handler.count("build.api"))

	// Force re-executes even with an unchanged version.
	_, err = eng.Run(ctx, RunOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 2, handler.count("build.api"))
}

func TestEngine_RejectsRuntimeReferenceInName(t *testing.T) {
	specs := []*action.Spec{
		{Kind: action.KindDeploy, Type: "exec", Name: "api"},
		{Kind: action.KindDeploy, Type: "exec", Name: "web-${runtime.services.api.outputs.host}"},
	}
	eng := New(Options{Specs: specs, ProjectName: "demo"})

	err := eng.Resolve(context.Background())
	require.Error(t, err)

	var resErr *tmpl.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "runtime", resErr.Segment)
}

func TestEngine_StaticOutputCycle(t *testing.T) {
	specs := []*action.Spec{
		{
			Kind: action.KindBuild, Type: "exec", Name: "a",
			Outputs: map[string]string{"x": "${actions.build.b.outputs.y}"},
		},
		{
			Kind: action.KindBuild, Type: "exec", Name: "b",
			Outputs: map[string]string{"y": "${actions.build.a.outputs.x}"},
		},
	}
	eng := New(Options{Specs: specs, ProjectName: "demo"})

	err := eng.Resolve(context.Background())
	require.Error(t, err)

	var circErr *tmpl.CircularRefError
	require.ErrorAs(t, err, &circErr)
	assert.Equal(t, []string{"build.a", "build.b", "build.a"}, circErr.Cycle)
}

func TestEngine_MissingHandlerFailsResolve(t *testing.T) {
	specs := []*action.Spec{
		{Kind: action.KindBuild, Type: "container", Name: "api"},
	}
	eng := New(Options{Specs: specs, ProjectName: "demo", Registry: registry.New()})

	err := eng.Resolve(context.Background())
	require.Error(t, err)

	var unknown *registry.UnknownHandlerError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "container", unknown.Type)
}

func TestEngine_InvalidateRerunsChangedSubtreeOnly(t *testing.T) {
	appDir := t.TempDir()
	mainPath := filepath.Join(appDir, "main.go")
	require.NoError(t, os.WriteFile(mainPath, []byte("package main\n"), 0o644))

	handler := newCountingHandler()
	specs := []*action.Spec{
		{Kind: action.KindBuild, Type: "exec", Name: "app", BasePath: appDir},
		{
			Kind: action.KindDeploy, Type: "exec", Name: "app",
			Dependencies: []action.Ref{{Kind: action.KindBuild, Name: "app"}},
		},
		{Kind: action.KindBuild, Type: "exec", Name: "lib"},
	}
	eng := New(Options{Specs: specs, ProjectName: "demo", Registry: newTestRegistry(handler)})
	ctx := context.Background()
	require.NoError(t, eng.Resolve(ctx))

	_, err := eng.Run(ctx, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, handler.count("build.app"))
	require.Equal(t, 1, handler.count("deploy.app"))
	require.Equal(t, 1, handler.count("build.lib"))

	// A change to an unowned path resets nothing.
	reset, err := eng.Invalidate(ctx, []string{filepath.Join(t.TempDir(), "other.go")})
	require.NoError(t, err)
	assert.Empty(t, reset)

	require.NoError(t, os.WriteFile(mainPath, []byte("package main // edited\n"), 0o644))
	reset, err = eng.Invalidate(ctx, []string{mainPath})
	require.NoError(t, err)

	var resetIDs []string
	for _, ref := range reset {
		resetIDs = append(resetIDs, ref.String())
	}
	assert.Equal(t, []string{"build.app", "deploy.app"}, resetIDs,
		"the owner and its dependents reset, unrelated actions do not")

	_, err = eng.Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, handler.count("build.app"))
	assert.Equal(t, 2, handler.count("deploy.app"))
	assert.Equal(t, 1, handler.count("build.lib"), "untouched action is not re-executed")
}

func TestEngine_RunBeforeResolve(t *testing.T) {
	eng := New(Options{ProjectName: "demo"})
	_, err := eng.Run(context.Background(), RunOptions{})
	require.Error(t, err)
	_, err = eng.Invalidate(context.Background(), []string{"x"})
	require.Error(t, err)
}
