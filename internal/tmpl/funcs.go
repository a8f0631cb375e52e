package tmpl

import (
	"encoding/base64"
	"fmt"
	"unicode"

	"github.com/google/uuid"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
	"gopkg.in/yaml.v3"
)

// Functions returns the helper function table available inside template
// expressions. All functions are pure except uuidv4, which generates a fresh
// random identifier per evaluation.
func Functions() map[string]function.Function {
	return map[string]function.Function{
		"upper":        stdlib.UpperFunc,
		"lower":        stdlib.LowerFunc,
		"title":        titleFunc,
		"split":        stdlib.SplitFunc,
		"join":         stdlib.JoinFunc,
		"replace":      stdlib.ReplaceFunc,
		"trim":         stdlib.TrimFunc,
		"trimspace":    stdlib.TrimSpaceFunc,
		"trimprefix":   stdlib.TrimPrefixFunc,
		"trimsuffix":   stdlib.TrimSuffixFunc,
		"slice":        stdlib.SliceFunc,
		"jsonencode":   stdlib.JSONEncodeFunc,
		"jsondecode":   stdlib.JSONDecodeFunc,
		"base64encode": base64EncodeFunc,
		"base64decode": base64DecodeFunc,
		"yamlencode":   yamlEncodeFunc,
		"yamldecode":   yamlDecodeFunc,
		"uuidv4":       uuidV4Func,
		"isempty":      isEmptyFunc,
	}
}

// titleFunc upper-cases the first letter of every space-separated word.
var titleFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "str", Type: cty.String}},
	Type:   function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		out := []rune(args[0].AsString())
		atWordStart := true
		for i, r := range out {
			if unicode.IsSpace(r) {
				atWordStart = true
				continue
			}
			if atWordStart {
				out[i] = unicode.ToUpper(r)
				atWordStart = false
			}
		}
		return cty.StringVal(string(out)), nil
	},
})

var base64EncodeFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "str", Type: cty.String}},
	Type:   function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		return cty.StringVal(base64.StdEncoding.EncodeToString([]byte(args[0].AsString()))), nil
	},
})

var base64DecodeFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "str", Type: cty.String}},
	Type:   function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		decoded, err := base64.StdEncoding.DecodeString(args[0].AsString())
		if err != nil {
			return cty.NilVal, fmt.Errorf("invalid base64 input: %w", err)
		}
		return cty.StringVal(string(decoded)), nil
	},
})

var yamlEncodeFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "value", Type: cty.DynamicPseudoType, AllowNull: true}},
	Type:   function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		goVal, err := FromCty(args[0])
		if err != nil {
			return cty.NilVal, err
		}
		encoded, err := yaml.Marshal(goVal)
		if err != nil {
			return cty.NilVal, fmt.Errorf("cannot encode value as YAML: %w", err)
		}
		return cty.StringVal(string(encoded)), nil
	},
})

var yamlDecodeFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "src", Type: cty.String}},
	Type: func(args []cty.Value) (cty.Type, error) {
		return cty.DynamicPseudoType, nil
	},
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		var goVal any
		if err := yaml.Unmarshal([]byte(args[0].AsString()), &goVal); err != nil {
			return cty.NilVal, fmt.Errorf("invalid YAML input: %w", err)
		}
		return ToCty(normalizeYAML(goVal))
	},
})

var uuidV4Func = function.New(&function.Spec{
	Params: []function.Parameter{},
	Type:   function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		return cty.StringVal(uuid.NewString()), nil
	},
})

// isEmptyFunc reports whether a value is null, an empty string, or an empty
// collection.
var isEmptyFunc = function.New(&function.Spec{
	Params: []function.Parameter{{
		Name:             "value",
		Type:             cty.DynamicPseudoType,
		AllowNull:        true,
		AllowDynamicType: true,
	}},
	Type: function.StaticReturnType(cty.Bool),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		v := args[0]
		if v.IsNull() {
			return cty.True, nil
		}
		ty := v.Type()
		switch {
		case ty == cty.String:
			return cty.BoolVal(v.AsString() == ""), nil
		case ty.IsTupleType() || ty.IsListType() || ty.IsSetType() || ty.IsMapType() || ty.IsObjectType():
			return cty.BoolVal(v.LengthInt() == 0), nil
		default:
			return cty.False, nil
		}
	},
})

// normalizeYAML rewrites yaml.v3's map[any]any trees into map[string]any so
// they can be converted to cty objects.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return v
	}
}
