package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"cobalt-hq/saturn/pkg/collab"
	"cobalt-hq/saturn/pkg/dsl/ast"
	"cobalt-hq/saturn/pkg/facts"
	"cobalt-hq/saturn/pkg/rules/engine"
	"cobalt-hq/saturn/pkg/telemetry/metrics"
)

// RuleSetSource resolves rule set versions for delegated ruleset actions.
// The rules registry implements it.
type RuleSetSource interface {
	LoadVersion(ctx context.Context, institution, name string, version int) (*ast.RuleSet, error)
}

// InvokerConfig bounds collaborator calls. Every call carries a per-kind
// timeout; transient failures and timeouts are retried with exponential
// backoff up to MaxAttempts total attempts.
type InvokerConfig struct {
	AgentTimeout   time.Duration `yaml:"agent_timeout"`
	RuleSetTimeout time.Duration `yaml:"ruleset_timeout"`
	AITimeout      time.Duration `yaml:"ai_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
}

// DefaultInvokerConfig returns the stock collaborator bounds.
func DefaultInvokerConfig() InvokerConfig {
	return InvokerConfig{
		AgentTimeout:   10 * time.Second,
		RuleSetTimeout: 5 * time.Second,
		AITimeout:      30 * time.Second,
		MaxAttempts:    3,
		RetryBackoff:   200 * time.Millisecond,
	}
}

func (c *InvokerConfig) normalize() {
	d := DefaultInvokerConfig()
	if c.AgentTimeout <= 0 {
		c.AgentTimeout = d.AgentTimeout
	}
	if c.RuleSetTimeout <= 0 {
		c.RuleSetTimeout = d.RuleSetTimeout
	}
	if c.AITimeout <= 0 {
		c.AITimeout = d.AITimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
}

// Invoker dispatches collaborator action specs for one institution: named
// agents, delegated rule sets, and AI analysis tasks. It owns the timeout
// and retry policy so collaborators stay policy-free. It satisfies
// engine.Invoker, which lets rule actions reach collaborators too.
type Invoker struct {
	institution string
	agents      collab.AgentRunner
	ai          collab.AITaskService
	rulesets    RuleSetSource
	engine      *engine.Engine
	cfg         InvokerConfig
	logger      *slog.Logger
	metrics     *metrics.WorkflowMetrics

	// sleep is swappable in tests to skip real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewInvoker creates a collaborator invoker bound to an institution. The
// rules engine it dispatches delegated rule sets to is constructed here,
// wired back to this invoker so nested collaborator actions resolve.
func NewInvoker(institution string, agents collab.AgentRunner, ai collab.AITaskService, rulesets RuleSetSource, cfg InvokerConfig, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.normalize()
	inv := &Invoker{
		institution: institution,
		agents:      agents,
		ai:          ai,
		rulesets:    rulesets,
		cfg:         cfg,
		logger:      logger.With("component", "workflow.invoker", "institution", institution),
		sleep:       sleepContext,
	}
	inv.engine = engine.New(inv, logger)
	return inv
}

// Engine returns the rules engine wired to this invoker.
func (inv *Invoker) Engine() *engine.Engine {
	return inv.engine
}

// SetMetrics attaches collaborator call metrics. Call before first use.
func (inv *Invoker) SetMetrics(wm *metrics.WorkflowMetrics) {
	inv.metrics = wm
}

// Invoke dispatches the action spec, applying the per-kind timeout and the
// retry budget. Only timeouts and transient failures are retried; a
// validation or unknown-reference error fails immediately. Exhausting the
// budget returns an *ActionFailure carrying every attempt.
func (inv *Invoker) Invoke(ctx context.Context, spec *ast.ActionSpec, fc facts.Context) (facts.Delta, []engine.Event, error) {
	var (
		attempts []AttemptError
		lastErr  error
	)

	for attempt := 1; attempt <= inv.cfg.MaxAttempts; attempt++ {
		began := time.Now()
		delta, events, err := inv.call(ctx, spec, fc)
		if err == nil {
			inv.observe(spec, "ok", began)
			return delta, events, nil
		}
		lastErr = err

		var tErr *TimeoutError
		timedOut := errors.As(err, &tErr)
		if timedOut {
			inv.observe(spec, "timeout", began)
		} else {
			inv.observe(spec, "error", began)
		}
		attempts = append(attempts, AttemptError{
			Attempt: attempt,
			Error:   err.Error(),
			Timeout: timedOut,
			At:      time.Now().UTC(),
		})

		inv.logger.Warn("collaborator attempt failed",
			"kind", spec.Kind,
			"ref", spec.Ref,
			"attempt", attempt,
			"timeout", timedOut,
			"error", err,
		)

		if ctx.Err() != nil {
			break
		}
		if !timedOut && !collab.IsTransient(err) {
			break
		}
		if attempt < inv.cfg.MaxAttempts {
			backoff := inv.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			if err := inv.sleep(ctx, backoff); err != nil {
				break
			}
		}
	}

	return nil, nil, &ActionFailure{
		Kind:     spec.Kind,
		Ref:      spec.Ref,
		Attempts: attempts,
		Cause:    lastErr,
	}
}

// call performs one attempt with the kind's timeout applied.
func (inv *Invoker) call(ctx context.Context, spec *ast.ActionSpec, fc facts.Context) (facts.Delta, []engine.Event, error) {
	switch spec.Kind {
	case ast.CollaboratorAgent:
		cctx, cancel := context.WithTimeout(ctx, inv.cfg.AgentTimeout)
		defer cancel()
		delta, err := inv.agents.Run(cctx, spec.Ref, fc)
		if err != nil {
			return nil, nil, inv.classify(cctx, spec, inv.cfg.AgentTimeout, err)
		}
		return delta, nil, nil

	case ast.CollaboratorRuleSet:
		name, version, err := parseRuleSetRef(spec.Ref)
		if err != nil {
			return nil, nil, err
		}
		cctx, cancel := context.WithTimeout(ctx, inv.cfg.RuleSetTimeout)
		defer cancel()
		rs, err := inv.rulesets.LoadVersion(cctx, inv.institution, name, version)
		if err != nil {
			return nil, nil, inv.classify(cctx, spec, inv.cfg.RuleSetTimeout, err)
		}
		result, err := inv.engine.Evaluate(cctx, rs, fc)
		if err != nil {
			return nil, nil, inv.classify(cctx, spec, inv.cfg.RuleSetTimeout, err)
		}
		return result.Delta, result.Events, nil

	case ast.CollaboratorAITask:
		cctx, cancel := context.WithTimeout(ctx, inv.cfg.AITimeout)
		defer cancel()
		result, err := inv.ai.Analyze(cctx, spec.Ref, fc)
		if err != nil {
			return nil, nil, inv.classify(cctx, spec, inv.cfg.AITimeout, err)
		}
		delta := facts.Delta{}
		for k, v := range result.Data {
			delta[k] = v
		}
		delta["ai."+spec.Ref+".confidence"] = result.Confidence
		return delta, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown collaborator kind %q", spec.Kind)
	}
}

func (inv *Invoker) observe(spec *ast.ActionSpec, outcome string, began time.Time) {
	if inv.metrics == nil {
		return
	}
	inv.metrics.RecordCollaboratorCall(string(spec.Kind), outcome, time.Since(began))
}

// classify turns a deadline expiry on the call's own context into a
// TimeoutError; everything else passes through untouched.
func (inv *Invoker) classify(cctx context.Context, spec *ast.ActionSpec, timeout time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Kind: spec.Kind, Ref: spec.Ref, Timeout: timeout}
	}
	return err
}

// parseRuleSetRef splits "name" or "name@version". A bare name means the
// active version (version 0).
func parseRuleSetRef(ref string) (name string, version int, err error) {
	name, tail, found := strings.Cut(ref, "@")
	if name == "" {
		return "", 0, fmt.Errorf("empty rule set ref")
	}
	if !found {
		return name, 0, nil
	}
	version, err = strconv.Atoi(tail)
	if err != nil || version <= 0 {
		return "", 0, fmt.Errorf("rule set ref %q: bad version %q", ref, tail)
	}
	return name, version, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
