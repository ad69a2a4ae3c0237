package config

import (
	"os"
	"strings"

	"github.com/hashicorp/go-cty-funcs/encoding"
	"github.com/hashicorp/go-cty-funcs/uuid"
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// NewEvalContext returns the context configuration expressions are evaluated
// in: the env object plus Functions.
func NewEvalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": EnvObject(),
		},
		Functions: Functions(),
	}
}

// Functions returns the functions callable from configuration expressions.
func Functions() map[string]function.Function {
	return map[string]function.Function{
		"upper":     stdlib.UpperFunc,
		"lower":     stdlib.LowerFunc,
		"trimspace": stdlib.TrimSpaceFunc,
		"strlen":    stdlib.StrlenFunc,
		"replace":   stdlib.ReplaceFunc,
		"split":     stdlib.SplitFunc,
		"join":      stdlib.JoinFunc,
		"format":    stdlib.FormatFunc,
		"coalesce":  stdlib.CoalesceFunc,
		"merge":     stdlib.MergeFunc,
		"lookup":    stdlib.LookupFunc,
		"keys":      stdlib.KeysFunc,
		"length":    stdlib.LengthFunc,
		"range":     stdlib.RangeFunc,
		"zipmap":    stdlib.ZipmapFunc,
		"min":       stdlib.MinFunc,
		"max":       stdlib.MaxFunc,

		"jsondecode": stdlib.JSONDecodeFunc,
		"jsonencode": stdlib.JSONEncodeFunc,
		"csvdecode":  stdlib.CSVDecodeFunc,

		"tostring": stdlib.MakeToFunc(cty.String),
		"tonumber": stdlib.MakeToFunc(cty.Number),
		"tobool":   stdlib.MakeToFunc(cty.Bool),

		"base64encode": encoding.Base64EncodeFunc,
		"base64decode": encoding.Base64DecodeFunc,
		"urlencode":    encoding.URLEncodeFunc,
		"uuidv4":       uuid.V4Func,
		"uuidv5":       uuid.V5Func,
	}
}

// EnvObject returns the process environment as a cty object. Names that are
// not valid identifiers have the offending characters replaced by
// underscores, so FOO.BAR is env.FOO_BAR.
func EnvObject() cty.Value {
	vars := make(map[string]cty.Value)
	for _, entry := range os.Environ() {
		name, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		vars[envAttributeName(name)] = cty.StringVal(value)
	}
	return cty.ObjectVal(vars)
}

func envAttributeName(name string) string {
	if name == "" {
		return "_"
	}

	var b strings.Builder
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case i > 0 && (r == '-' || (r >= '0' && r <= '9')):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
