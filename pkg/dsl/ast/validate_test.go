package ast

import (
	"errors"
	"strings"
	"testing"
)

func validRuleSet() *RuleSet {
	return &RuleSet{
		Institution: "acme_mutual",
		Name:        "claims_triage",
		Version:     1,
		Rules: []*Rule{
			{
				Conditions: &Condition{
					Group: &Group{
						Combinator: CombinatorAnd,
						Children: []*Condition{
							{Predicate: &Predicate{Path: "claim.amount", Op: OperatorLessThan, Value: 500.0}},
							{Predicate: &Predicate{Path: "ai.fraud_score", Op: OperatorLessThan, Value: 0.3}},
						},
					},
				},
				Actions: []*Action{
					{Kind: ActionSetStatus, Params: map[string]any{"status": "auto_approved"}},
				},
			},
		},
	}
}

func TestRuleSetValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RuleSet)
		wantErr string
	}{
		{"valid", func(rs *RuleSet) {}, ""},
		{"missing institution", func(rs *RuleSet) { rs.Institution = "" }, "institution_id is required"},
		{"zero version", func(rs *RuleSet) { rs.Version = 0 }, "version must be >= 1"},
		{"no rules", func(rs *RuleSet) { rs.Rules = nil }, "at least one rule"},
		{
			"unknown operator",
			func(rs *RuleSet) {
				rs.Rules[0].Conditions.Group.Children[0].Predicate.Op = "fuzzyMatch"
			},
			`unknown operator "fuzzyMatch"`,
		},
		{
			"unknown action kind",
			func(rs *RuleSet) { rs.Rules[0].Actions[0].Kind = "launchRocket" },
			`unknown action kind "launchRocket"`,
		},
		{
			"not group arity",
			func(rs *RuleSet) {
				rs.Rules[0].Conditions = &Condition{Group: &Group{
					Combinator: CombinatorNot,
					Children: []*Condition{
						{Predicate: &Predicate{Path: "a", Op: OperatorExists}},
						{Predicate: &Predicate{Path: "b", Op: OperatorExists}},
					},
				}}
			},
			"NOT group requires exactly one child",
		},
		{
			"in without list",
			func(rs *RuleSet) {
				rs.Rules[0].Conditions.Group.Children[0].Predicate.Op = OperatorIn
				rs.Rules[0].Conditions.Group.Children[0].Predicate.Value = "not-a-list"
			},
			"requires a list value",
		},
		{
			"bad regex",
			func(rs *RuleSet) {
				rs.Rules[0].Conditions.Group.Children[0].Predicate.Op = OperatorMatchesRegex
				rs.Rules[0].Conditions.Group.Children[0].Predicate.Value = "(["
			},
			"invalid regex pattern",
		},
		{
			"setFact without path",
			func(rs *RuleSet) {
				rs.Rules[0].Actions[0] = &Action{Kind: ActionSetFact, Params: map[string]any{"value": 1.0}}
			},
			"setFact requires a string path",
		},
		{
			"invokeCollaborator unknown kind",
			func(rs *RuleSet) {
				rs.Rules[0].Actions[0] = &Action{Kind: ActionInvokeCollaborator, Params: map[string]any{
					"kind": "webhook", "ref": "x",
				}}
			},
			`unknown collaborator kind "webhook"`,
		},
		{
			"predicate and group on same node",
			func(rs *RuleSet) {
				rs.Rules[0].Conditions = &Condition{
					Predicate: &Predicate{Path: "a", Op: OperatorExists},
					Group:     &Group{Combinator: CombinatorAnd, Children: []*Condition{{Predicate: &Predicate{Path: "b", Op: OperatorExists}}}},
				}
			},
			"not both",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := validRuleSet()
			tt.mutate(rs)

			err := rs.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}

			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			var derr *DefinitionError
			if !errors.As(err, &derr) {
				t.Fatalf("Validate() error type = %T, want *DefinitionError", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func validWorkflow() *WorkflowDefinition {
	return &WorkflowDefinition{
		Institution:  "acme_mutual",
		Name:         "claims_flow",
		Version:      1,
		InitialState: "Intake",
		States: map[string]*State{
			"Intake":    {Name: "Intake"},
			"Review":    {Name: "Review", EntryActions: []*ActionSpec{{Kind: CollaboratorRuleSet, Ref: "claims_triage"}}},
			"Approved":  {Name: "Approved"},
			"Escalated": {Name: "Escalated"},
		},
		Transitions: []*Transition{
			{From: "Intake", To: "Review", Priority: 1},
			{From: "Review", To: "Approved", Priority: 1, Condition: &Condition{
				Predicate: &Predicate{Path: "decision.status", Op: OperatorEquals, Value: "auto_approved"},
			}},
			{From: "Review", To: "Escalated", Priority: 2},
		},
	}
}

func TestWorkflowValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*WorkflowDefinition)
		wantErr string
	}{
		{"valid", func(wd *WorkflowDefinition) {}, ""},
		{"unknown initial state", func(wd *WorkflowDefinition) { wd.InitialState = "Missing" }, "not a defined state"},
		{
			"transition to unknown state",
			func(wd *WorkflowDefinition) { wd.Transitions[0].To = "Nowhere" },
			`to state "Nowhere" is not defined`,
		},
		{
			"transition from unknown state",
			func(wd *WorkflowDefinition) { wd.Transitions[0].From = "Nowhere" },
			`from state "Nowhere" is not defined`,
		},
		{
			"entry action without ref",
			func(wd *WorkflowDefinition) {
				wd.States["Review"].EntryActions[0].Ref = ""
			},
			"collaborator ref is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wd := validWorkflow()
			tt.mutate(wd)

			err := wd.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	wd := validWorkflow()

	if wd.IsTerminal("Review") {
		t.Error("Review has outbound transitions, should not be terminal")
	}
	if !wd.IsTerminal("Approved") {
		t.Error("Approved has no outbound transitions, should be terminal")
	}
	if !wd.IsTerminal("Escalated") {
		t.Error("Escalated has no outbound transitions, should be terminal")
	}
}
