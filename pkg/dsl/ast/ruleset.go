package ast

// Rule pairs a condition tree with an ordered action list.
type Rule struct {
	Name       string     `json:"name,omitempty" yaml:"name,omitempty"`
	Conditions *Condition `json:"conditions" yaml:"conditions"`
	Actions    []*Action  `json:"actions" yaml:"actions"`
}

// RuleSet is a named, versioned, ordered collection of rules owned by an
// institution. Versions are immutable once published; edits create a new
// version. Exactly one version per (institution, name) is active at a time.
type RuleSet struct {
	Institution      string  `json:"institution_id" yaml:"institution_id"`
	Name             string  `json:"name" yaml:"name"`
	Version          int     `json:"version" yaml:"version"`
	Active           bool    `json:"is_active,omitempty" yaml:"is_active,omitempty"`
	StopOnFirstMatch bool    `json:"stop_on_first_match" yaml:"stop_on_first_match"`
	Rules            []*Rule `json:"rules" yaml:"rules"`
}

// Ref identifies a rule set by tenant and name.
func (rs *RuleSet) Ref() DefinitionRef {
	return DefinitionRef{Institution: rs.Institution, Name: rs.Name, Version: rs.Version}
}

// DefinitionRef identifies a versioned definition (rule set or workflow).
// Version 0 means "the currently active version".
type DefinitionRef struct {
	Institution string `json:"institution_id" yaml:"institution_id"`
	Name        string `json:"name" yaml:"name"`
	Version     int    `json:"version,omitempty" yaml:"version,omitempty"`
}
