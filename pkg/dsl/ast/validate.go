package ast

import (
	"fmt"
	"regexp"
)

// Validate checks the rule set against the definition schema. It returns a
// *DefinitionError describing every problem found, or nil.
func (rs *RuleSet) Validate() error {
	derr := &DefinitionError{Institution: rs.Institution, Name: rs.Name}

	if rs.Institution == "" {
		derr.add("institution_id is required")
	}
	if rs.Name == "" {
		derr.add("name is required")
	}
	if rs.Version < 1 {
		derr.add("version must be >= 1, got %d", rs.Version)
	}
	if len(rs.Rules) == 0 {
		derr.add("at least one rule is required")
	}

	for i, rule := range rs.Rules {
		where := fmt.Sprintf("rules[%d]", i)
		if rule.Name != "" {
			where = fmt.Sprintf("rules[%d] (%s)", i, rule.Name)
		}

		if rule.Conditions == nil {
			derr.add("%s: conditions are required", where)
		} else {
			validateCondition(derr, where+".conditions", rule.Conditions)
		}

		if len(rule.Actions) == 0 {
			derr.add("%s: at least one action is required", where)
		}
		for j, action := range rule.Actions {
			validateAction(derr, fmt.Sprintf("%s.actions[%d]", where, j), action)
		}
	}

	return derr.orNil()
}

// Validate checks the workflow definition against the definition schema.
// It returns a *DefinitionError describing every problem found, or nil.
func (wd *WorkflowDefinition) Validate() error {
	derr := &DefinitionError{Institution: wd.Institution, Name: wd.Name}

	if wd.Institution == "" {
		derr.add("institution_id is required")
	}
	if wd.Name == "" {
		derr.add("name is required")
	}
	if wd.Version < 1 {
		derr.add("version must be >= 1, got %d", wd.Version)
	}
	if len(wd.States) == 0 {
		derr.add("at least one state is required")
	}

	if wd.InitialState == "" {
		derr.add("initial_state is required")
	} else if _, ok := wd.States[wd.InitialState]; !ok {
		derr.add("initial_state %q is not a defined state", wd.InitialState)
	}

	for name, state := range wd.States {
		for i, spec := range state.EntryActions {
			validateActionSpec(derr, fmt.Sprintf("states[%s].entry_actions[%d]", name, i), spec)
		}
	}

	for i, tr := range wd.Transitions {
		where := fmt.Sprintf("transitions[%d]", i)
		if _, ok := wd.States[tr.From]; !ok {
			derr.add("%s: from state %q is not defined", where, tr.From)
		}
		if _, ok := wd.States[tr.To]; !ok {
			derr.add("%s: to state %q is not defined", where, tr.To)
		}
		if tr.Condition != nil {
			validateCondition(derr, where+".condition", tr.Condition)
		}
	}

	return derr.orNil()
}

// validateCondition recursively checks a condition tree.
func validateCondition(derr *DefinitionError, where string, cond *Condition) {
	switch {
	case cond.Predicate != nil && cond.Group != nil:
		derr.add("%s: node must be a predicate or a group, not both", where)

	case cond.Predicate != nil:
		validatePredicate(derr, where, cond.Predicate)

	case cond.Group != nil:
		validateGroup(derr, where, cond.Group)

	default:
		derr.add("%s: empty condition node", where)
	}
}

func validatePredicate(derr *DefinitionError, where string, p *Predicate) {
	if p.Path == "" {
		derr.add("%s: predicate path is required", where)
	}
	if !KnownOperator(p.Op) {
		derr.add("%s: unknown operator %q", where, p.Op)
		return
	}

	switch p.Op {
	case OperatorExists:
		// Value is ignored.
	case OperatorIn:
		if _, ok := p.Value.([]any); !ok {
			derr.add("%s: operator %q requires a list value", where, p.Op)
		}
	case OperatorMatchesRegex:
		pattern, ok := p.Value.(string)
		if !ok {
			derr.add("%s: operator %q requires a string pattern", where, p.Op)
		} else if _, err := regexp.Compile(pattern); err != nil {
			derr.add("%s: invalid regex pattern %q: %v", where, pattern, err)
		}
	}
}

func validateGroup(derr *DefinitionError, where string, g *Group) {
	switch g.Combinator {
	case CombinatorAnd, CombinatorOr:
		if len(g.Children) == 0 {
			derr.add("%s: %s group requires at least one child", where, g.Combinator)
		}
	case CombinatorNot:
		if len(g.Children) != 1 {
			derr.add("%s: NOT group requires exactly one child, got %d", where, len(g.Children))
		}
	default:
		derr.add("%s: unknown combinator %q", where, g.Combinator)
	}

	for i, child := range g.Children {
		validateCondition(derr, fmt.Sprintf("%s.children[%d]", where, i), child)
	}
}

// validateAction checks an action against the fixed per-kind parameter schema.
func validateAction(derr *DefinitionError, where string, a *Action) {
	if !KnownActionKind(a.Kind) {
		derr.add("%s: unknown action kind %q", where, a.Kind)
		return
	}

	switch a.Kind {
	case ActionSetFact:
		if a.StringParam("path") == "" {
			derr.add("%s: setFact requires a string path param", where)
		}
		if !a.HasParam("value") {
			derr.add("%s: setFact requires a value param", where)
		}

	case ActionSetStatus:
		if a.StringParam("status") == "" {
			derr.add("%s: setStatus requires a string status param", where)
		}

	case ActionSetPayout:
		if !a.HasParam("amount") {
			derr.add("%s: setPayout requires an amount param", where)
		} else if _, ok := numeric(a.Params["amount"]); !ok {
			derr.add("%s: setPayout amount must be a number", where)
		}

	case ActionTriggerEvent:
		if a.StringParam("name") == "" {
			derr.add("%s: triggerEvent requires a string name param", where)
		}

	case ActionInvokeCollaborator:
		spec := &ActionSpec{
			Kind:   CollaboratorKind(a.StringParam("kind")),
			Ref:    a.StringParam("ref"),
			Params: a.MapParam("params"),
		}
		validateActionSpec(derr, where, spec)
	}
}

// validateActionSpec checks a collaborator reference.
func validateActionSpec(derr *DefinitionError, where string, spec *ActionSpec) {
	if !KnownCollaboratorKind(spec.Kind) {
		derr.add("%s: unknown collaborator kind %q", where, spec.Kind)
	}
	if spec.Ref == "" {
		derr.add("%s: collaborator ref is required", where)
	}
}

// numeric converts JSON and in-code numbers to float64.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
