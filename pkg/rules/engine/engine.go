// Package engine evaluates rule sets against immutable fact contexts. The
// condition evaluator is pure and deterministic; the action executor
// produces explicit context deltas and events; the rule engine composes the
// two over an ordered rule list.
package engine

import (
	"context"
	"log/slog"
	"time"

	"cobalt-hq/saturn/pkg/dsl/ast"
	"cobalt-hq/saturn/pkg/facts"
	"cobalt-hq/saturn/pkg/telemetry/metrics"
)

// FiredRule records a single rule firing for explainability: which rule,
// what it wrote, and what it emitted.
type FiredRule struct {
	Index  int         `json:"index"`
	Name   string      `json:"name,omitempty"`
	Writes facts.Delta `json:"writes,omitempty"`
	Events []Event     `json:"events,omitempty"`
}

// RuleSetResult is the outcome of evaluating one rule set against one fact
// context.
type RuleSetResult struct {
	// Fired lists every rule whose conditions matched, in firing order.
	Fired []FiredRule `json:"fired"`

	// Delta is the merged context delta across all fired rules
	// (last write wins on overlapping fact paths).
	Delta facts.Delta `json:"delta"`

	// Events collects every emitted event across fired rules.
	Events []Event `json:"events,omitempty"`

	// Warnings collects recoverable evaluation problems (missing facts,
	// type mismatches) across all rules.
	Warnings []Warning `json:"warnings,omitempty"`
}

// Engine evaluates rule sets. It holds no mutable state of its own and is
// safe for concurrent use.
type Engine struct {
	evaluator *Evaluator
	executor  *Executor
	logger    *slog.Logger
	metrics   *metrics.EngineMetrics
}

// New creates a rule engine.
func New(invoker Invoker, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		evaluator: NewEvaluator(logger),
		executor:  NewExecutor(invoker, logger),
		logger:    logger,
	}
}

// Evaluator returns the engine's condition evaluator, shared with the
// workflow transition handler.
func (e *Engine) Evaluator() *Evaluator {
	return e.evaluator
}

// SetMetrics attaches evaluation metrics. Call before first use; a nil
// receiver value leaves metrics disabled.
func (e *Engine) SetMetrics(em *metrics.EngineMetrics) {
	e.metrics = em
}

// Evaluate runs the rule set against the fact context. Rules are evaluated
// in definition order; each rule whose conditions match has its actions
// executed against the running delta-augmented context, so later rules see
// earlier rules' writes within this evaluation. If the rule set has
// stop_on_first_match set, evaluation halts after the first firing rule;
// otherwise all rules are evaluated with last-write-wins on overlapping
// fact paths.
//
// An error is returned only when a collaborator action fails; condition
// problems are downgraded to warnings per the evaluation contract.
func (e *Engine) Evaluate(ctx context.Context, rs *ast.RuleSet, fc facts.Context) (*RuleSetResult, error) {
	start := time.Now()
	result := &RuleSetResult{Delta: facts.Delta{}}

	for i, rule := range rs.Rules {
		// Rules observe base facts plus everything fired rules wrote so far.
		running := fc.With(result.Delta)

		matched, warnings := e.evaluator.Evaluate(rule.Conditions, running)
		result.Warnings = append(result.Warnings, warnings...)
		if !matched {
			continue
		}

		writes, events, err := e.executor.Execute(ctx, rule.Actions, running)
		if err != nil {
			// Merge what executed before the failure so the audit trail
			// reflects the partial work, then surface the failure.
			e.merge(result, i, rule, writes, events)
			e.observe(rs, result, "error", start)
			return result, err
		}

		e.merge(result, i, rule, writes, events)

		e.logger.Debug("rule fired",
			"institution", rs.Institution,
			"rule_set", rs.Name,
			"version", rs.Version,
			"rule", i,
			"writes", len(writes),
		)

		if rs.StopOnFirstMatch {
			break
		}
	}

	e.observe(rs, result, "ok", start)
	return result, nil
}

func (e *Engine) observe(rs *ast.RuleSet, result *RuleSetResult, outcome string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordEvaluation(rs.Institution, rs.Name, outcome,
		len(result.Fired), len(result.Warnings), time.Since(start))
}

func (e *Engine) merge(result *RuleSetResult, index int, rule *ast.Rule, writes facts.Delta, events []Event) {
	for k, v := range writes {
		result.Delta[k] = v
	}
	result.Events = append(result.Events, events...)
	result.Fired = append(result.Fired, FiredRule{
		Index:  index,
		Name:   rule.Name,
		Writes: writes,
		Events: events,
	})
}
