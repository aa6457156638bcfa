// Package codec decodes and encodes rule set and workflow definitions in
// their JSON and YAML payload forms, running schema validation on every
// decode so malformed definitions are rejected before they can activate.
package codec

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"cobalt-hq/saturn/pkg/dsl/ast"
)

// Format identifies a definition payload encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath returns the Format for a file path based on its extension,
// or an error for unsupported extensions.
func FormatForPath(path string) (Format, error) {
	switch {
	case hasSuffix(path, ".json"):
		return FormatJSON, nil
	case hasSuffix(path, ".yaml"), hasSuffix(path, ".yml"):
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported definition file extension: %s", path)
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// DecodeRuleSet parses and validates a rule set payload.
func DecodeRuleSet(data []byte, format Format) (*ast.RuleSet, error) {
	rs := &ast.RuleSet{}
	if err := decode(data, format, rs); err != nil {
		return nil, fmt.Errorf("decode rule set: %w", err)
	}
	normalizeRuleSet(rs)
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return rs, nil
}

// DecodeWorkflowDefinition parses and validates a workflow definition payload.
func DecodeWorkflowDefinition(data []byte, format Format) (*ast.WorkflowDefinition, error) {
	wd := &ast.WorkflowDefinition{}
	if err := decode(data, format, wd); err != nil {
		return nil, fmt.Errorf("decode workflow definition: %w", err)
	}
	normalizeWorkflow(wd)
	if err := wd.Validate(); err != nil {
		return nil, err
	}
	return wd, nil
}

// EncodeRuleSet serializes a rule set to its canonical JSON payload form.
func EncodeRuleSet(rs *ast.RuleSet) ([]byte, error) {
	return json.Marshal(rs)
}

// EncodeWorkflowDefinition serializes a workflow definition to its canonical
// JSON payload form.
func EncodeWorkflowDefinition(wd *ast.WorkflowDefinition) ([]byte, error) {
	return json.Marshal(wd)
}

func decode(data []byte, format Format, out any) error {
	switch format {
	case FormatJSON:
		return json.Unmarshal(data, out)
	case FormatYAML:
		return yaml.Unmarshal(data, out)
	default:
		return fmt.Errorf("unknown payload format %q", format)
	}
}

// normalizeRuleSet converts YAML-decoded values into the JSON-equivalent
// shapes the evaluator expects (string-keyed maps, float-free ints kept as
// ints; the operator layer coerces numerics).
func normalizeRuleSet(rs *ast.RuleSet) {
	for _, rule := range rs.Rules {
		normalizeCondition(rule.Conditions)
		for _, action := range rule.Actions {
			action.Params = normalizeMap(action.Params)
		}
	}
}

func normalizeWorkflow(wd *ast.WorkflowDefinition) {
	// States decode without their own key; stamp the map key on each state.
	for name, state := range wd.States {
		if state == nil {
			state = &ast.State{}
			wd.States[name] = state
		}
		state.Name = name
		for _, spec := range state.EntryActions {
			spec.Params = normalizeMap(spec.Params)
		}
	}
	for _, tr := range wd.Transitions {
		normalizeCondition(tr.Condition)
	}
}

func normalizeCondition(cond *ast.Condition) {
	if cond == nil {
		return
	}
	if cond.Predicate != nil {
		cond.Predicate.Value = normalizeValue(cond.Predicate.Value)
	}
	if cond.Group != nil {
		for _, child := range cond.Group.Children {
			normalizeCondition(child)
		}
	}
}

// normalizeValue rewrites interface-keyed maps (yaml.v2 legacy payloads that
// round-tripped through other tools) into string-keyed maps.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[fmt.Sprint(k)] = normalizeValue(inner)
		}
		return out
	case map[string]any:
		for k, inner := range val {
			val[k] = normalizeValue(inner)
		}
		return val
	case []any:
		for i, inner := range val {
			val[i] = normalizeValue(inner)
		}
		return val
	default:
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
	return m
}
