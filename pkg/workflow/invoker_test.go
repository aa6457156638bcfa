package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"cobalt-hq/saturn/pkg/collab"
	"cobalt-hq/saturn/pkg/dsl/ast"
	"cobalt-hq/saturn/pkg/facts"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRuleSets struct {
	sets       map[string]*ast.RuleSet
	gotVersion int
}

func (f *fakeRuleSets) LoadVersion(ctx context.Context, institution, name string, version int) (*ast.RuleSet, error) {
	f.gotVersion = version
	rs, ok := f.sets[name]
	if !ok {
		return nil, fmt.Errorf("rule set %s/%s not found", institution, name)
	}
	return rs, nil
}

func testInvoker(t *testing.T, agents collab.AgentRunner, ai collab.AITaskService, rulesets RuleSetSource) *Invoker {
	t.Helper()
	inv := NewInvoker("acme_mutual", agents, ai, rulesets, InvokerConfig{
		AgentTimeout:   20 * time.Millisecond,
		RuleSetTimeout: 20 * time.Millisecond,
		AITimeout:      20 * time.Millisecond,
		MaxAttempts:    3,
		RetryBackoff:   time.Millisecond,
	}, discardLogger())
	// Skip real backoff waits.
	inv.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return inv
}

func TestInvokeAgent(t *testing.T) {
	agents := collab.NewAgentRegistry(discardLogger())
	agents.Register("scorer", func(ctx context.Context, fc facts.Context) (facts.Delta, error) {
		return facts.Delta{"ai.fraudScore": 0.1}, nil
	})
	inv := testInvoker(t, agents, nil, nil)

	delta, events, err := inv.Invoke(context.Background(),
		&ast.ActionSpec{Kind: ast.CollaboratorAgent, Ref: "scorer"}, facts.Empty())
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if delta["ai.fraudScore"] != 0.1 {
		t.Errorf("delta = %v", delta)
	}
	if len(events) != 0 {
		t.Errorf("events = %v, want none", events)
	}
}

// Scenario: the agent never responds. Three attempts each hit the call
// timeout, the budget exhausts, and the failure carries every attempt.
func TestInvokeAgentTimeoutExhaustsRetries(t *testing.T) {
	agents := collab.NewAgentRegistry(discardLogger())
	calls := 0
	agents.Register("slow", func(ctx context.Context, fc facts.Context) (facts.Delta, error) {
		calls++
		<-ctx.Done()
		return nil, ctx.Err()
	})
	inv := testInvoker(t, agents, nil, nil)

	_, _, err := inv.Invoke(context.Background(),
		&ast.ActionSpec{Kind: ast.CollaboratorAgent, Ref: "slow"}, facts.Empty())

	var failure *ActionFailure
	if !errors.As(err, &failure) {
		t.Fatalf("error = %v, want *ActionFailure", err)
	}
	if calls != 3 || len(failure.Attempts) != 3 {
		t.Fatalf("calls = %d, attempts = %d, want 3 and 3", calls, len(failure.Attempts))
	}
	for i, a := range failure.Attempts {
		if !a.Timeout {
			t.Errorf("attempt %d not marked as timeout: %+v", i+1, a)
		}
	}
	var tErr *TimeoutError
	if !errors.As(err, &tErr) {
		t.Errorf("cause does not unwrap to *TimeoutError: %v", err)
	}
}

func TestInvokeTransientRetriesThenSucceeds(t *testing.T) {
	agents := collab.NewAgentRegistry(discardLogger())
	calls := 0
	agents.Register("flaky", func(ctx context.Context, fc facts.Context) (facts.Delta, error) {
		calls++
		if calls < 3 {
			return nil, collab.Transient(errors.New("connection reset"))
		}
		return facts.Delta{"policy.valid": true}, nil
	})
	inv := testInvoker(t, agents, nil, nil)

	delta, _, err := inv.Invoke(context.Background(),
		&ast.ActionSpec{Kind: ast.CollaboratorAgent, Ref: "flaky"}, facts.Empty())
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if delta["policy.valid"] != true {
		t.Errorf("delta = %v", delta)
	}
}

// Unknown references are definition problems, never retried.
func TestInvokePermanentFailureNoRetry(t *testing.T) {
	agents := collab.NewAgentRegistry(discardLogger())
	inv := testInvoker(t, agents, nil, nil)

	_, _, err := inv.Invoke(context.Background(),
		&ast.ActionSpec{Kind: ast.CollaboratorAgent, Ref: "nope"}, facts.Empty())

	var failure *ActionFailure
	if !errors.As(err, &failure) {
		t.Fatalf("error = %v, want *ActionFailure", err)
	}
	if len(failure.Attempts) != 1 {
		t.Errorf("attempts = %d, want 1", len(failure.Attempts))
	}
	if !errors.Is(err, collab.ErrUnknownAgent) {
		t.Errorf("cause does not unwrap to ErrUnknownAgent: %v", err)
	}
}

// Delegated rule sets run through the engine; their deltas and emitted
// events both come back to the caller.
func TestInvokeRuleSetDelegation(t *testing.T) {
	rulesets := &fakeRuleSets{sets: map[string]*ast.RuleSet{
		"payout_rules": {
			Institution: "acme_mutual", Name: "payout_rules", Version: 2,
			Rules: []*ast.Rule{
				{
					Actions: []*ast.Action{
						{Kind: ast.ActionSetPayout, Params: map[string]any{"amount": 350.0}},
						{Kind: ast.ActionTriggerEvent, Params: map[string]any{"name": "payout.scheduled"}},
					},
				},
			},
		},
	}}
	inv := testInvoker(t, collab.NewAgentRegistry(discardLogger()), nil, rulesets)

	delta, events, err := inv.Invoke(context.Background(),
		&ast.ActionSpec{Kind: ast.CollaboratorRuleSet, Ref: "payout_rules@2"}, facts.Empty())
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if rulesets.gotVersion != 2 {
		t.Errorf("requested version = %d, want 2", rulesets.gotVersion)
	}
	if delta[ast.DecisionPayoutPath] != 350.0 {
		t.Errorf("delta = %v", delta)
	}
	if len(events) != 1 || events[0].Name != "payout.scheduled" {
		t.Errorf("events = %+v", events)
	}
}

func TestInvokeAITask(t *testing.T) {
	ai := collab.NewStaticAIService()
	ai.SetResult("fraud_score", collab.AIResult{
		Data:       map[string]any{"ai.fraudScore": 0.85},
		Confidence: 0.92,
	})
	inv := testInvoker(t, collab.NewAgentRegistry(discardLogger()), ai, nil)

	delta, _, err := inv.Invoke(context.Background(),
		&ast.ActionSpec{Kind: ast.CollaboratorAITask, Ref: "fraud_score"}, facts.Empty())
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if delta["ai.fraudScore"] != 0.85 {
		t.Errorf("delta = %v", delta)
	}
	if delta["ai.fraud_score.confidence"] != 0.92 {
		t.Errorf("confidence missing: %v", delta)
	}
}

func TestParseRuleSetRef(t *testing.T) {
	tests := []struct {
		ref     string
		name    string
		version int
		wantErr bool
	}{
		{ref: "triage", name: "triage", version: 0},
		{ref: "triage@3", name: "triage", version: 3},
		{ref: "", wantErr: true},
		{ref: "triage@", wantErr: true},
		{ref: "triage@zero", wantErr: true},
		{ref: "triage@-1", wantErr: true},
	}
	for _, tt := range tests {
		name, version, err := parseRuleSetRef(tt.ref)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseRuleSetRef(%q): expected error", tt.ref)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseRuleSetRef(%q): %v", tt.ref, err)
			continue
		}
		if name != tt.name || version != tt.version {
			t.Errorf("parseRuleSetRef(%q) = %q, %d", tt.ref, name, version)
		}
	}
}
