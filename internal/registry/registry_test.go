package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/actiongraph/internal/action"
	"github.com/vk/actiongraph/internal/graph"
	"github.com/vk/actiongraph/internal/tmpl"
)

func noopHandler() Handler {
	return HandlerFunc(func(context.Context, *Invocation) (map[string]string, error) {
		return nil, nil
	})
}

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	r.Register(action.KindBuild, "container", noopHandler())

	_, ok := r.Handler(action.KindBuild, "container")
	assert.True(t, ok)
	_, ok = r.Handler(action.KindDeploy, "container")
	assert.False(t, ok, "registration is per kind")
	_, ok = r.Handler(action.KindBuild, "exec")
	assert.False(t, ok)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	r := New()
	r.Register(action.KindBuild, "container", noopHandler())
	assert.Panics(t, func() {
		r.Register(action.KindBuild, "container", noopHandler())
	})
}

func TestRegisterForAllKinds(t *testing.T) {
	r := New()
	r.RegisterForAllKinds("exec", noopHandler())
	for _, kind := range action.Kinds {
		_, ok := r.Handler(kind, "exec")
		assert.True(t, ok, kind.String())
	}
}

func TestValidate(t *testing.T) {
	nodes := []*action.Node{
		action.NewNode(&action.Spec{Kind: action.KindBuild, Type: "exec", Name: "api"}),
		action.NewNode(&action.Spec{Kind: action.KindDeploy, Type: "helm", Name: "api"}),
	}
	g, err := graph.Build(context.Background(), nodes, nil, tmpl.NewResolver(tmpl.NewContext()))
	require.NoError(t, err)

	r := New()
	r.RegisterForAllKinds("exec", noopHandler())

	err = r.Validate(g)
	require.Error(t, err)
	var unknown *UnknownHandlerError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "helm", unknown.Type)
	assert.Equal(t, "deploy.api", unknown.Ref.String())

	r.RegisterForAllKinds("helm", noopHandler())
	assert.NoError(t, r.Validate(g))
}
