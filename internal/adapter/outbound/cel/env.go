package cel

import (
	"path/filepath"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/fe-row/AEGIS/internal/domain/pipeline"
)

// NewConditionEnvironment creates a CEL environment for permission
// condition evaluation. It exposes:
//   - Request variables: action, service, agent_id, params,
//     trust_score, hour, minute, estimated_cost, requests_this_hour
//   - Custom functions: glob, param, param_contains
func NewConditionEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		// Standard extensions
		ext.Strings(),
		ext.Sets(),

		cel.Variable("action", cel.StringType),
		cel.Variable("service", cel.StringType),
		cel.Variable("agent_id", cel.StringType),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("trust_score", cel.DoubleType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("minute", cel.IntType),
		cel.Variable("estimated_cost", cel.DoubleType),
		cel.Variable("requests_this_hour", cel.IntType),

		// glob: glob pattern matching for action and service names.
		// Usage: glob("read_*", action)
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p := pattern.Value().(string)
					n := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),

		// param: extract a specific parameter by key from the params map.
		// Usage: param(params, "url")
		cel.Function("param",
			cel.Overload("param_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(func(mapVal, keyVal ref.Val) ref.Val {
					key := keyVal.Value().(string)
					m, ok := mapVal.Value().(map[ref.Val]ref.Val)
					if ok {
						k := types.String(key)
						if v, found := m[k]; found {
							return v
						}
						return types.NullValue
					}
					// Try the adapter interface
					adapterResult := mapVal.Value()
					if goMap, ok := adapterResult.(map[string]any); ok {
						if v, found := goMap[key]; found {
							return types.DefaultTypeAdapter.NativeToValue(v)
						}
					}
					return types.NullValue
				}),
			),
		),

		// param_contains: check if any parameter value contains a substring.
		// Usage: param_contains(params, "password")
		cel.Function("param_contains",
			cel.Overload("param_contains_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(mapVal, substrVal ref.Val) ref.Val {
					substr := substrVal.Value().(string)
					goVal := mapVal.Value()
					if goMap, ok := goVal.(map[string]any); ok {
						for _, v := range goMap {
							if s, ok := v.(string); ok {
								if strings.Contains(s, substr) {
									return types.Bool(true)
								}
							}
						}
					}
					if refMap, ok := goVal.(map[ref.Val]ref.Val); ok {
						for _, v := range refMap {
							if s, ok := v.Value().(string); ok {
								if strings.Contains(s, substr) {
									return types.Bool(true)
								}
							}
						}
					}
					return types.Bool(false)
				}),
			),
		),
	)
}

// BuildActivation creates a CEL activation map from a ConditionInput.
// Nil parameter maps are replaced with empty maps so expressions can
// index them safely.
func BuildActivation(in pipeline.ConditionInput) map[string]any {
	params := in.Params
	if params == nil {
		params = map[string]interface{}{}
	}

	return map[string]any{
		"action":             in.Action,
		"service":            in.Service,
		"agent_id":           in.AgentID,
		"params":             params,
		"trust_score":        in.TrustScore,
		"hour":               int64(in.Hour),
		"minute":             int64(in.Minute),
		"estimated_cost":     in.EstimatedCost,
		"requests_this_hour": int64(in.RequestsThisHour),
	}
}
