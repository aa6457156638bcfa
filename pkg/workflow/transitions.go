package workflow

import (
	"sort"

	"cobalt-hq/saturn/pkg/dsl/ast"
	"cobalt-hq/saturn/pkg/facts"
	"cobalt-hq/saturn/pkg/rules/engine"
)

// TransitionHandler picks the next state from a workflow definition.
// Candidates leaving the current state are evaluated in ascending priority
// order, ties kept in definition order, and the first whose condition holds
// wins. Evaluation has no side effects, so probing transitions is free.
type TransitionHandler struct {
	evaluator *engine.Evaluator
}

// NewTransitionHandler creates a transition handler using the given
// condition evaluator.
func NewTransitionHandler(evaluator *engine.Evaluator) *TransitionHandler {
	return &TransitionHandler{evaluator: evaluator}
}

// Next returns the first matching transition out of the current state, or
// nil when none match (the instance blocks). Warnings collected from every
// probed condition are returned for the audit trail.
func (h *TransitionHandler) Next(def *ast.WorkflowDefinition, state string, fc facts.Context) (*ast.Transition, []engine.Warning) {
	candidates := def.TransitionsFrom(state)
	if len(candidates) == 0 {
		return nil, nil
	}

	ordered := make([]*ast.Transition, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	var warnings []engine.Warning
	for _, tr := range ordered {
		matched, w := h.evaluator.Evaluate(tr.Condition, fc)
		warnings = append(warnings, w...)
		if matched {
			return tr, warnings
		}
	}
	return nil, warnings
}
