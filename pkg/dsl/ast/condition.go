package ast

// Operator represents a comparison operator in a condition predicate.
// The set is closed: unknown operators are rejected at definition load time,
// never discovered during evaluation.
type Operator string

const (
	OperatorEquals             Operator = "equals"
	OperatorNotEquals          Operator = "notEquals"
	OperatorLessThan           Operator = "lessThan"
	OperatorLessThanOrEqual    Operator = "lessThanOrEqual"
	OperatorGreaterThan        Operator = "greaterThan"
	OperatorGreaterThanOrEqual Operator = "greaterThanOrEqual"
	OperatorContains           Operator = "contains"
	OperatorIn                 Operator = "in"
	OperatorMatchesRegex       Operator = "matchesRegex"
	OperatorExists             Operator = "exists"
)

// KnownOperator reports whether op is part of the closed operator set.
func KnownOperator(op Operator) bool {
	switch op {
	case OperatorEquals, OperatorNotEquals,
		OperatorLessThan, OperatorLessThanOrEqual,
		OperatorGreaterThan, OperatorGreaterThanOrEqual,
		OperatorContains, OperatorIn, OperatorMatchesRegex, OperatorExists:
		return true
	default:
		return false
	}
}

// Combinator joins child conditions in a group node.
type Combinator string

const (
	CombinatorAnd Combinator = "AND"
	CombinatorOr  Combinator = "OR"
	CombinatorNot Combinator = "NOT"
)

// Condition is a node in a condition tree: exactly one of Predicate or Group
// is set. Trees are acyclic by construction and validated at load time.
type Condition struct {
	Predicate *Predicate `json:"predicate,omitempty" yaml:"predicate,omitempty"`
	Group     *Group     `json:"group,omitempty" yaml:"group,omitempty"`
}

// Predicate compares the fact at Path against Value using Op.
// The exists operator ignores Value.
type Predicate struct {
	Path  string   `json:"path" yaml:"path"`
	Op    Operator `json:"op" yaml:"op"`
	Value any      `json:"value,omitempty" yaml:"value,omitempty"`
}

// Group combines child conditions with a logical combinator.
// NOT requires exactly one child; AND and OR require at least one.
type Group struct {
	Combinator Combinator   `json:"combinator" yaml:"combinator"`
	Children   []*Condition `json:"children" yaml:"children"`
}

// IsPredicate returns true if this node is a leaf predicate.
func (c *Condition) IsPredicate() bool {
	return c != nil && c.Predicate != nil
}

// IsGroup returns true if this node is a logical group.
func (c *Condition) IsGroup() bool {
	return c != nil && c.Group != nil
}
