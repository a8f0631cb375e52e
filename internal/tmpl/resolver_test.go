package tmpl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/actiongraph/internal/action"
	"github.com/zclconf/go-cty/cty"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	ctx := NewContext()
	ctx.SetLayer("variables", map[string]cty.Value{
		"host": cty.StringVal("example.com"),
		"env":  cty.StringVal("prod"),
		"port": cty.NumberIntVal(8080),
		"hosts": cty.ObjectVal(map[string]cty.Value{
			"api": cty.StringVal("api.example.com"),
			"web": cty.StringVal("web.example.com"),
		}),
		"primary": cty.StringVal("api"),
		"tags":    cty.TupleVal([]cty.Value{cty.StringVal("a"), cty.StringVal("b")}),
	})
	ctx.SetLayer("project", map[string]cty.Value{"name": cty.StringVal("demo")})
	return NewResolver(ctx)
}

func TestResolveString_PlainStringPassesThrough(t *testing.T) {
	r := newTestResolver(t)
	val, err := r.ResolveString("no templates here")
	require.NoError(t, err)
	assert.Equal(t, cty.StringVal("no templates here"), val)
}

func TestResolveString_LayerLookup(t *testing.T) {
	r := newTestResolver(t)

	val, err := r.ResolveString("${var.host}")
	require.NoError(t, err)
	assert.Equal(t, cty.StringVal("example.com"), val)

	// Mixed text interpolates to a string.
	val, err = r.ResolveString("host is ${var.host}:${var.port}")
	require.NoError(t, err)
	assert.Equal(t, cty.StringVal("host is example.com:8080"), val)

	// The alias and the canonical layer name resolve identically.
	val, err = r.ResolveString("${variables.host}")
	require.NoError(t, err)
	assert.Equal(t, cty.StringVal("example.com"), val)
}

func TestResolveString_NonStringExpressionKeepsType(t *testing.T) {
	r := newTestResolver(t)
	val, err := r.ResolveString("${var.port}")
	require.NoError(t, err)
	assert.Equal(t, cty.NumberIntVal(8080), val)
}

func TestResolveString_NestedLookupUsesResultAsPathSegment(t *testing.T) {
	r := newTestResolver(t)
	val, err := r.ResolveString("${var.hosts[var.primary]}")
	require.NoError(t, err)
	assert.Equal(t, cty.StringVal("api.example.com"), val)
}

func TestResolveString_Conditional(t *testing.T) {
	r := newTestResolver(t)

	val, err := r.ResolveString(`${var.env == "prod" ? "replicated" : "single"}`)
	require.NoError(t, err)
	assert.Equal(t, cty.StringVal("replicated"), val)

	val, err = r.ResolveString(`${var.env != "prod"}`)
	require.NoError(t, err)
	assert.Equal(t, cty.False, val)
}

func TestResolveString_Functions(t *testing.T) {
	r := newTestResolver(t)

	cases := []struct {
		expr string
		want cty.Value
	}{
		{`${upper(var.host)}`, cty.StringVal("EXAMPLE.COM")},
		{`${lower("ABC")}`, cty.StringVal("abc")},
		{`${title("hello world")}`, cty.StringVal("Hello World")},
		{`${join("-", split(".", var.host))}`, cty.StringVal("example-com")},
		{`${replace(var.host, ".", "_")}`, cty.StringVal("example_com")},
		{`${trimprefix(var.host, "example.")}`, cty.StringVal("com")},
		{`${base64decode(base64encode("round trip"))}`, cty.StringVal("round trip")},
		{`${jsonencode(var.tags)}`, cty.StringVal(`["a","b"]`)},
		{`${isempty("")}`, cty.True},
		{`${isempty(var.host)}`, cty.False},
	}
	for _, tc := range cases {
		val, err := r.ResolveString(tc.expr)
		require.NoError(t, err, "expression %s", tc.expr)
		assert.Equal(t, tc.want, val, "expression %s", tc.expr)
	}
}

func TestResolveString_YAMLRoundTrip(t *testing.T) {
	r := newTestResolver(t)
	val, err := r.ResolveString(`${yamldecode("key: value").key}`)
	require.NoError(t, err)
	assert.Equal(t, cty.StringVal("value"), val)
}

func TestResolveString_UUIDv4(t *testing.T) {
	r := newTestResolver(t)
	val, err := r.ResolveString("${uuidv4()}")
	require.NoError(t, err)
	require.Equal(t, cty.String, val.Type())
	assert.Len(t, val.AsString(), 36)
}

func TestResolveString_UnknownLayer(t *testing.T) {
	r := newTestResolver(t)
	_, err := r.ResolveString("${bogus.path}")
	require.Error(t, err)

	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "${bogus.path}", resErr.Expression)
	assert.Equal(t, "bogus", resErr.Segment)
}

func TestResolveString_NamesFirstUnresolvableSegment(t *testing.T) {
	r := newTestResolver(t)
	_, err := r.ResolveString("${var.missing.deep.path}")
	require.Error(t, err)

	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "${var.missing.deep.path}", resErr.Expression)
	assert.Equal(t, "var.missing", resErr.Segment)
}

func TestResolveString_UnknownFunction(t *testing.T) {
	r := newTestResolver(t)
	_, err := r.ResolveString(`${nosuchfn("x")}`)
	require.Error(t, err)

	var fnErr *FunctionError
	assert.ErrorAs(t, err, &fnErr)
}

func TestResolveString_InvalidFunctionArgument(t *testing.T) {
	r := newTestResolver(t)
	_, err := r.ResolveString(`${base64decode("%%% not base64 %%%")}`)
	require.Error(t, err)

	var fnErr *FunctionError
	assert.ErrorAs(t, err, &fnErr)
}

func TestResolveBool(t *testing.T) {
	r := newTestResolver(t)

	disabled, err := r.ResolveBool("")
	require.NoError(t, err)
	assert.False(t, disabled)

	disabled, err = r.ResolveBool("true")
	require.NoError(t, err)
	assert.True(t, disabled)

	disabled, err = r.ResolveBool(`${var.env == "prod"}`)
	require.NoError(t, err)
	assert.True(t, disabled)

	_, err = r.ResolveBool("${var.host}")
	require.Error(t, err)
	var resErr *ResolutionError
	assert.ErrorAs(t, err, &resErr)
}

func TestResolveValue_WalksNestedStructures(t *testing.T) {
	r := newTestResolver(t)
	raw := map[string]any{
		"image": "registry/${var.primary}",
		"replicas": map[string]any{
			"count": "${var.port}",
		},
		"args":    []any{"--host", "${var.host}"},
		"literal": 42,
	}
	resolved, err := r.ResolveValue(raw, ModeFull)
	require.NoError(t, err)

	m := resolved.(map[string]any)
	assert.Equal(t, "registry/api", m["image"])
	assert.Equal(t, int64(8080), m["replicas"].(map[string]any)["count"])
	assert.Equal(t, []any{"--host", "example.com"}, m["args"])
	assert.Equal(t, 42, m["literal"])
}

func TestResolveValue_StaticModeDefersRuntimeReferences(t *testing.T) {
	r := newTestResolver(t)
	raw := map[string]any{
		"static":  "${var.host}",
		"dynamic": "${runtime.services.api.outputs.host}",
	}
	resolved, err := r.ResolveValue(raw, ModeStatic)
	require.NoError(t, err)

	m := resolved.(map[string]any)
	assert.Equal(t, "example.com", m["static"])
	assert.Equal(t, "${runtime.services.api.outputs.host}", m["dynamic"],
		"runtime references must stay unresolved until execution time")
}

func TestResolveValue_RuntimeReferenceResolvesAfterCompletion(t *testing.T) {
	r := newTestResolver(t)

	// Before the producer completes, the lookup is an error.
	_, err := r.ResolveString("${runtime.services.api.outputs.host}")
	require.Error(t, err)

	r.Context().SetRuntimeOutputs(
		action.Ref{Kind: action.KindDeploy, Name: "api"},
		"v-abc123",
		map[string]string{"host": "api.internal"},
	)

	val, err := r.ResolveString("${runtime.services.api.outputs.host}")
	require.NoError(t, err)
	assert.Equal(t, cty.StringVal("api.internal"), val)

	val, err = r.ResolveString("${runtime.services.api.version}")
	require.NoError(t, err)
	assert.Equal(t, cty.StringVal("v-abc123"), val)
}

func TestCheckIdentifierScope(t *testing.T) {
	r := newTestResolver(t)

	require.NoError(t, r.CheckIdentifierScope("plain-name"))
	require.NoError(t, r.CheckIdentifierScope("svc-${var.env}"))
	require.NoError(t, r.CheckIdentifierScope("${project.name}-api"))

	err := r.CheckIdentifierScope("${runtime.services.foo.outputs.bar}")
	require.Error(t, err)
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "runtime", resErr.Segment)

	err = r.CheckIdentifierScope("${actions.build.api.outputs.tag}")
	assert.Error(t, err, "static action outputs are still not identifier-safe")
}

func TestReferences_CollectsDistinctTraversalsDeterministically(t *testing.T) {
	r := newTestResolver(t)
	raw := map[string]any{
		"a": "${var.host}",
		"b": []any{"${runtime.services.api.outputs.host}", "${var.host}"},
		"c": map[string]any{"d": "${project.name}"},
	}

	refs, err := r.References(raw)
	require.NoError(t, err)

	var keys []string
	for _, traversal := range refs {
		keys = append(keys, TraversalKey(traversal))
	}
	assert.Equal(t, []string{
		"project.name",
		"runtime.services.api.outputs.host",
		"var.host",
	}, keys)
}
