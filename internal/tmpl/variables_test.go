package tmpl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func TestResolveVariables_CrossReferences(t *testing.T) {
	r := NewResolver(NewContext())
	raw := map[string]any{
		"region":   "eu-west-1",
		"bucket":   "assets-${var.region}",
		"endpoint": "https://${var.bucket}.example.com",
		"count":    3,
	}
	require.NoError(t, ResolveVariables(r, raw))

	val, err := r.ResolveString("${var.endpoint}")
	require.NoError(t, err)
	assert.Equal(t, cty.StringVal("https://assets-eu-west-1.example.com"), val)

	val, err = r.ResolveString("${var.count}")
	require.NoError(t, err)
	assert.Equal(t, cty.NumberIntVal(3), val)
}

func TestResolveVariables_DeclarationOrderDoesNotMatter(t *testing.T) {
	// "a" sorts before "z" but depends on it; lazy resolution must follow
	// the reference, not the declaration order.
	r := NewResolver(NewContext())
	raw := map[string]any{
		"a": "${var.z}-suffix",
		"z": "base",
	}
	require.NoError(t, ResolveVariables(r, raw))

	val, err := r.ResolveString("${var.a}")
	require.NoError(t, err)
	assert.Equal(t, cty.StringVal("base-suffix"), val)
}

func TestResolveVariables_NestedStructures(t *testing.T) {
	r := NewResolver(NewContext())
	raw := map[string]any{
		"name": "api",
		"service": map[string]any{
			"image": "registry/${var.name}",
			"ports": []any{8080, "90${var.suffix}"},
		},
		"suffix": "90",
	}
	require.NoError(t, ResolveVariables(r, raw))

	val, err := r.ResolveString("${var.service.image}")
	require.NoError(t, err)
	assert.Equal(t, cty.StringVal("registry/api"), val)

	val, err = r.ResolveString("${var.service.ports[1]}")
	require.NoError(t, err)
	assert.Equal(t, cty.StringVal("9090"), val)
}

func TestResolveVariables_CycleReported(t *testing.T) {
	r := NewResolver(NewContext())
	raw := map[string]any{
		"a": "${var.b}",
		"b": "${var.c}",
		"c": "${var.a}",
	}
	err := ResolveVariables(r, raw)
	require.Error(t, err)

	var circErr *CircularRefError
	require.ErrorAs(t, err, &circErr)
	assert.Equal(t, []string{"a", "b", "c", "a"}, circErr.Cycle)
}

func TestResolveVariables_SelfReferenceIsACycle(t *testing.T) {
	r := NewResolver(NewContext())
	err := ResolveVariables(r, map[string]any{"a": "prefix-${var.a}"})
	require.Error(t, err)

	var circErr *CircularRefError
	require.ErrorAs(t, err, &circErr)
	assert.Equal(t, []string{"a", "a"}, circErr.Cycle)
}
