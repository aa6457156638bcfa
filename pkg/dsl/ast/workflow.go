package ast

// CollaboratorKind identifies the kind of external collaborator an action
// spec dispatches to.
type CollaboratorKind string

const (
	CollaboratorAgent   CollaboratorKind = "agent"
	CollaboratorRuleSet CollaboratorKind = "ruleset"
	CollaboratorAITask  CollaboratorKind = "ai_task"
)

// KnownCollaboratorKind reports whether kind is part of the closed set.
func KnownCollaboratorKind(kind CollaboratorKind) bool {
	switch kind {
	case CollaboratorAgent, CollaboratorRuleSet, CollaboratorAITask:
		return true
	default:
		return false
	}
}

// ActionSpec references a collaborator plus parameter bindings. Ref names an
// agent, a rule set (optionally "name@version"), or an AI task code.
type ActionSpec struct {
	Kind   CollaboratorKind `json:"kind" yaml:"kind"`
	Ref    string           `json:"ref" yaml:"ref"`
	Params map[string]any   `json:"params,omitempty" yaml:"params,omitempty"`
}

// State is a named workflow state with an ordered list of entry actions
// executed every time the state is entered.
type State struct {
	Name         string        `json:"-" yaml:"-"`
	EntryActions []*ActionSpec `json:"entry_actions,omitempty" yaml:"entry_actions,omitempty"`
}

// Transition is a guarded edge between two states. Transitions out of a
// state are evaluated in ascending priority order; the first whose condition
// matches wins. A nil condition always matches (catch-all).
type Transition struct {
	From      string     `json:"from" yaml:"from"`
	To        string     `json:"to" yaml:"to"`
	Condition *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
	Priority  int        `json:"priority" yaml:"priority"`
}

// WorkflowDefinition is a versioned declarative state machine. The initial
// state and every transition endpoint must exist in States; a state with no
// outbound transitions is terminal.
type WorkflowDefinition struct {
	Institution  string            `json:"institution_id" yaml:"institution_id"`
	Name         string            `json:"name" yaml:"name"`
	Version      int               `json:"version" yaml:"version"`
	Active       bool              `json:"is_active,omitempty" yaml:"is_active,omitempty"`
	InitialState string            `json:"initial_state" yaml:"initial_state"`
	States       map[string]*State `json:"states" yaml:"states"`
	Transitions  []*Transition     `json:"transitions" yaml:"transitions"`
}

// Ref identifies the workflow definition by tenant, name and version.
func (wd *WorkflowDefinition) Ref() DefinitionRef {
	return DefinitionRef{Institution: wd.Institution, Name: wd.Name, Version: wd.Version}
}

// State returns the named state, or nil.
func (wd *WorkflowDefinition) State(name string) *State {
	return wd.States[name]
}

// TransitionsFrom returns the transitions leaving the named state, in
// definition order. Sorting by priority is the transition handler's job.
func (wd *WorkflowDefinition) TransitionsFrom(name string) []*Transition {
	var out []*Transition
	for _, tr := range wd.Transitions {
		if tr.From == name {
			out = append(out, tr)
		}
	}
	return out
}

// IsTerminal reports whether the named state has no outbound transitions.
func (wd *WorkflowDefinition) IsTerminal(name string) bool {
	for _, tr := range wd.Transitions {
		if tr.From == name {
			return false
		}
	}
	return true
}
