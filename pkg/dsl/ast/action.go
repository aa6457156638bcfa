package ast

// ActionKind represents the kind of action a rule can perform.
// The set is closed: new kinds require a code change and explicit
// registration in the executor, never runtime type probing.
type ActionKind string

const (
	ActionSetFact            ActionKind = "setFact"
	ActionSetStatus          ActionKind = "setStatus"
	ActionSetPayout          ActionKind = "setPayout"
	ActionTriggerEvent       ActionKind = "triggerEvent"
	ActionInvokeCollaborator ActionKind = "invokeCollaborator"
)

// KnownActionKind reports whether kind is part of the closed action set.
func KnownActionKind(kind ActionKind) bool {
	switch kind {
	case ActionSetFact, ActionSetStatus, ActionSetPayout,
		ActionTriggerEvent, ActionInvokeCollaborator:
		return true
	default:
		return false
	}
}

// Reserved fact paths written by the setStatus and setPayout sugar actions.
const (
	DecisionStatusPath = "decision.status"
	DecisionPayoutPath = "decision.payout"
)

// Action is a single instruction executed when a rule's conditions match.
// Params are kind-specific and validated against a fixed schema at load time.
type Action struct {
	Kind   ActionKind     `json:"kind" yaml:"kind"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// StringParam returns the string value of a parameter, or "" if it is
// missing or not a string.
func (a *Action) StringParam(key string) string {
	if s, ok := a.Params[key].(string); ok {
		return s
	}
	return ""
}

// NumberParam returns the numeric value of a parameter, or 0 if it is
// missing or not a number. JSON decoding yields float64 for all numbers;
// int is accepted for values built in code.
func (a *Action) NumberParam(key string) float64 {
	switch n := a.Params[key].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}

// MapParam returns the map value of a parameter, or nil.
func (a *Action) MapParam(key string) map[string]any {
	if m, ok := a.Params[key].(map[string]any); ok {
		return m
	}
	return nil
}

// HasParam reports whether the parameter key is present, regardless of type.
func (a *Action) HasParam(key string) bool {
	_, ok := a.Params[key]
	return ok
}
