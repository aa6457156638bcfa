package collab

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"cobalt-hq/saturn/pkg/facts"
)

// AgentFunc adapts a function to a registered agent.
type AgentFunc func(ctx context.Context, fc facts.Context) (facts.Delta, error)

// AgentRegistry is a name-keyed AgentRunner. Registration happens at
// startup; lookups are read-heavy and lock briefly.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]AgentFunc
	logger *slog.Logger
}

// NewAgentRegistry creates an empty agent registry.
func NewAgentRegistry(logger *slog.Logger) *AgentRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentRegistry{
		agents: make(map[string]AgentFunc),
		logger: logger.With("component", "collab.agents"),
	}
}

// Register adds a named agent. Re-registering a name replaces it.
func (r *AgentRegistry) Register(name string, fn AgentFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[name] = fn
}

// Run dispatches to the named agent. An unregistered name returns
// ErrUnknownAgent, which the invoker treats as non-retryable.
func (r *AgentRegistry) Run(ctx context.Context, agentName string, fc facts.Context) (facts.Delta, error) {
	r.mu.RLock()
	fn, ok := r.agents[agentName]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, agentName)
	}

	r.logger.Debug("running agent", "agent", agentName, "facts", fc.Len())
	return fn(ctx, fc)
}

// RegisterBuiltinAgents installs the stock insurance decisioning agents
// used by the examples and exercised by tests: a policy verifier, a fraud
// flagger, and a settlement calculator. Production deployments register
// their own agents alongside or instead of these.
func RegisterBuiltinAgents(r *AgentRegistry) {
	r.Register("policy_verifier", policyVerifier)
	r.Register("fraud_flagger", fraudFlagger)
	r.Register("settlement_calculator", settlementCalculator)
}

// policyVerifier checks that the claim's policy reference looks active.
// Real deployments replace this with a policy-system integration; the
// built-in version derives validity from the facts it is given.
func policyVerifier(ctx context.Context, fc facts.Context) (facts.Delta, error) {
	policyID, _ := fc.Lookup("claim.policy_id")
	id, _ := policyID.(string)
	if id == "" {
		return facts.Delta{
			"policy.valid":              false,
			"policy.verification_notes": "missing policy id",
		}, nil
	}

	status, _ := fc.Lookup("policy.status")
	valid := status == nil || status == "active"
	delta := facts.Delta{"policy.valid": valid}
	if !valid {
		delta["policy.verification_notes"] = fmt.Sprintf("policy %s is %v", id, status)
	}
	return delta, nil
}

// fraudFlagger derives coarse fraud flags from claim facts: high value,
// suspicious description keywords, and recent-claim frequency.
func fraudFlagger(ctx context.Context, fc facts.Context) (facts.Delta, error) {
	var flags []any

	if amount, ok := fc.Lookup("claim.amount"); ok {
		if n, ok := amount.(float64); ok && n >= 5000 {
			flags = append(flags, "high_value")
		}
	}

	if desc, ok := fc.Lookup("claim.description"); ok {
		if s, ok := desc.(string); ok {
			lower := strings.ToLower(s)
			for _, keyword := range []string{"fire", "theft", "total loss"} {
				if strings.Contains(lower, keyword) {
					flags = append(flags, "high_severity_keyword")
					break
				}
			}
		}
	}

	if recent, ok := fc.Lookup("policy.recent_claims"); ok {
		if n, ok := recent.(float64); ok && n >= 3 {
			flags = append(flags, "frequent_claimant")
		}
	}

	return facts.Delta{
		"fraud.flags":      flags,
		"fraud.flag_count": float64(len(flags)),
	}, nil
}

// settlementCalculator computes a proposed payout: claimed amount minus the
// policy deductible, never below zero.
func settlementCalculator(ctx context.Context, fc facts.Context) (facts.Delta, error) {
	amountVal, ok := fc.Lookup("claim.amount")
	if !ok {
		return nil, fmt.Errorf("settlement_calculator: claim.amount fact is required")
	}
	amount, ok := amountVal.(float64)
	if !ok {
		return nil, fmt.Errorf("settlement_calculator: claim.amount must be numeric, got %T", amountVal)
	}

	deductible := 0.0
	if d, ok := fc.Lookup("policy.deductible"); ok {
		if n, ok := d.(float64); ok {
			deductible = n
		}
	}

	proposed := amount - deductible
	if proposed < 0 {
		proposed = 0
	}
	return facts.Delta{"settlement.proposed_amount": proposed}, nil
}
