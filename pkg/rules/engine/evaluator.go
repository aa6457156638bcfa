package engine

import (
	"fmt"
	"log/slog"

	"cobalt-hq/saturn/pkg/dsl/ast"
	"cobalt-hq/saturn/pkg/facts"
)

// Warning records a recoverable problem during condition evaluation: a
// missing fact path or a type-incompatible comparison. The predicate
// resolves false and evaluation continues; warnings surface in the result
// and the instance audit history, never as errors.
type Warning struct {
	Path   string `json:"path"`
	Op     string `json:"op,omitempty"`
	Reason string `json:"reason"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s %s: %s", w.Path, w.Op, w.Reason)
}

// Evaluator evaluates condition trees against a fact context. It is pure
// and side-effect free: identical (tree, context) pairs always yield the
// identical result, with no hidden state and no wall-clock reads.
type Evaluator struct {
	logger *slog.Logger
}

// NewEvaluator creates a condition evaluator.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{logger: logger}
}

// Evaluate returns whether the condition tree matches the fact context,
// plus any warnings recorded along the way. A nil condition always matches.
func (ev *Evaluator) Evaluate(cond *ast.Condition, fc facts.Context) (bool, []Warning) {
	if cond == nil {
		return true, nil
	}
	var warnings []Warning
	matched := ev.evaluate(cond, fc, &warnings)
	return matched, warnings
}

func (ev *Evaluator) evaluate(cond *ast.Condition, fc facts.Context, warnings *[]Warning) bool {
	switch {
	case cond.Predicate != nil:
		return ev.evaluatePredicate(cond.Predicate, fc, warnings)
	case cond.Group != nil:
		return ev.evaluateGroup(cond.Group, fc, warnings)
	default:
		// Empty nodes are rejected at load time.
		*warnings = append(*warnings, Warning{Reason: "empty condition node"})
		return false
	}
}

func (ev *Evaluator) evaluatePredicate(p *ast.Predicate, fc facts.Context, warnings *[]Warning) bool {
	actual, found := fc.Lookup(p.Path)

	// exists only cares about presence.
	if p.Op == ast.OperatorExists {
		return found
	}

	if !found {
		ev.warn(warnings, p, "fact path not found")
		return false
	}

	matched, err := evaluateOperator(p.Op, actual, p.Value)
	if err != nil {
		ev.warn(warnings, p, err.Error())
		return false
	}
	return matched
}

func (ev *Evaluator) evaluateGroup(g *ast.Group, fc facts.Context, warnings *[]Warning) bool {
	switch g.Combinator {
	case ast.CombinatorAnd:
		// Short-circuit at the first false child.
		for _, child := range g.Children {
			if !ev.evaluate(child, fc, warnings) {
				return false
			}
		}
		return true

	case ast.CombinatorOr:
		// Short-circuit at the first true child.
		for _, child := range g.Children {
			if ev.evaluate(child, fc, warnings) {
				return true
			}
		}
		return false

	case ast.CombinatorNot:
		// Arity is validated at load time.
		if len(g.Children) != 1 {
			*warnings = append(*warnings, Warning{Reason: fmt.Sprintf("NOT group has %d children", len(g.Children))})
			return false
		}
		return !ev.evaluate(g.Children[0], fc, warnings)

	default:
		*warnings = append(*warnings, Warning{Reason: fmt.Sprintf("unknown combinator %q", g.Combinator)})
		return false
	}
}

func (ev *Evaluator) warn(warnings *[]Warning, p *ast.Predicate, reason string) {
	w := Warning{Path: p.Path, Op: string(p.Op), Reason: reason}
	*warnings = append(*warnings, w)
	ev.logger.Warn("predicate resolved false",
		"path", p.Path,
		"op", p.Op,
		"reason", reason,
	)
}
