package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"cobalt-hq/saturn/pkg/collab"
	"cobalt-hq/saturn/pkg/dsl/ast"
	"cobalt-hq/saturn/pkg/facts"
)

func pred(path string, op ast.Operator, value any) *ast.Condition {
	return &ast.Condition{Predicate: &ast.Predicate{Path: path, Op: op, Value: value}}
}

// claimsFlow is a small triage workflow: intake scores the claim, review
// routes by fraud score, approved and escalated are terminal.
func claimsFlow() *ast.WorkflowDefinition {
	return &ast.WorkflowDefinition{
		Institution:  "acme_mutual",
		Name:         "claims_flow",
		Version:      1,
		InitialState: "intake",
		States: map[string]*ast.State{
			"intake": {Name: "intake", EntryActions: []*ast.ActionSpec{
				{Kind: ast.CollaboratorAgent, Ref: "risk_scorer"},
			}},
			"review":    {Name: "review"},
			"approved":  {Name: "approved"},
			"escalated": {Name: "escalated"},
		},
		Transitions: []*ast.Transition{
			{From: "intake", To: "review", Priority: 1},
			{From: "review", To: "approved", Condition: pred("ai.fraudScore", ast.OperatorLessThan, 0.3), Priority: 1},
			{From: "review", To: "escalated", Priority: 9},
		},
	}
}

func newClaimInstance(def *ast.WorkflowDefinition, fc facts.Context) *Instance {
	now := time.Now().UTC()
	return &Instance{
		ID:           uuid.NewString(),
		Definition:   def.Ref(),
		EntityType:   "claim",
		EntityID:     "claim-001",
		CurrentState: def.InitialState,
		Context:      fc,
		Status:       StatusRunning,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func scoringMachine(t *testing.T, score float64, sink collab.EventSink) (*Machine, *int) {
	t.Helper()
	agents := collab.NewAgentRegistry(discardLogger())
	calls := 0
	agents.Register("risk_scorer", func(ctx context.Context, fc facts.Context) (facts.Delta, error) {
		calls++
		return facts.Delta{"ai.fraudScore": score}, nil
	})
	inv := testInvoker(t, agents, nil, nil)
	return NewMachine(inv, sink, discardLogger()), &calls
}

// Scenario: a clean claim flows intake -> review -> approved and the
// instance completes, with the scoring delta merged into the context.
func TestRunCompletesApproved(t *testing.T) {
	def := claimsFlow()
	sink := collab.NewMemorySink()
	m, _ := scoringMachine(t, 0.1, sink)
	in := newClaimInstance(def, facts.New(map[string]any{"claim.amount": 400.0}))

	if err := m.Run(context.Background(), def, in); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if in.Status != StatusCompleted || in.CurrentState != "approved" {
		t.Fatalf("status = %s, state = %s, want completed/approved", in.Status, in.CurrentState)
	}
	if v, _ := in.Context.Lookup("ai.fraudScore"); v != 0.1 {
		t.Errorf("scoring delta not merged: %v", v)
	}

	var completed bool
	for _, ev := range sink.Events() {
		if ev.Type == collab.EventInstanceCompleted {
			completed = true
		}
	}
	if !completed {
		t.Errorf("no instance_completed event published: %+v", sink.Events())
	}
}

func TestRunEscalatesHighRisk(t *testing.T) {
	def := claimsFlow()
	m, _ := scoringMachine(t, 0.9, collab.NewMemorySink())
	in := newClaimInstance(def, facts.Empty())

	if err := m.Run(context.Background(), def, in); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if in.Status != StatusCompleted || in.CurrentState != "escalated" {
		t.Errorf("status = %s, state = %s, want completed/escalated", in.Status, in.CurrentState)
	}
}

// History is append-only and every record carries a context hash.
func TestRunHistory(t *testing.T) {
	def := claimsFlow()
	m, _ := scoringMachine(t, 0.1, collab.NewMemorySink())
	in := newClaimInstance(def, facts.Empty())

	if err := m.Run(context.Background(), def, in); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var types []RecordType
	for i, rec := range in.History {
		if rec.Seq != i+1 {
			t.Errorf("record %d has seq %d", i, rec.Seq)
		}
		if rec.ContextHash == "" {
			t.Errorf("record %d missing context hash", i)
		}
		types = append(types, rec.Type)
	}

	want := []RecordType{
		RecordContextMerged, // risk_scorer delta in intake
		RecordStateExited,   // intake
		RecordStateEntered,  // review
		RecordStateExited,   // review
		RecordStateEntered,  // approved
		RecordCompleted,
	}
	if len(types) != len(want) {
		t.Fatalf("history = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("history[%d] = %s, want %s (full: %v)", i, types[i], want[i], types)
		}
	}
}

// Scenario: no transition out of review matches, the instance blocks, and
// a later event resumes it without re-running intake's entry actions.
func TestRunBlocksThenResumes(t *testing.T) {
	def := claimsFlow()
	def.Transitions = []*ast.Transition{
		{From: "intake", To: "review", Priority: 1},
		{From: "review", To: "approved", Condition: pred("review.outcome", ast.OperatorEquals, "approve"), Priority: 1},
		{From: "review", To: "escalated", Condition: pred("review.outcome", ast.OperatorEquals, "reject"), Priority: 2},
	}
	m, calls := scoringMachine(t, 0.5, collab.NewMemorySink())
	in := newClaimInstance(def, facts.Empty())

	if err := m.Run(context.Background(), def, in); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if in.Status != StatusBlocked || in.CurrentState != "review" {
		t.Fatalf("status = %s, state = %s, want blocked/review", in.Status, in.CurrentState)
	}

	m.ApplyEvent(in, TriggerEvent{
		ID:      "evt-1",
		Name:    "manual_review.decided",
		Payload: map[string]any{"review.outcome": "approve"},
	})
	if err := m.Run(context.Background(), def, in); err != nil {
		t.Fatalf("resume Run: %v", err)
	}

	if in.Status != StatusCompleted || in.CurrentState != "approved" {
		t.Errorf("status = %s, state = %s, want completed/approved", in.Status, in.CurrentState)
	}
	if *calls != 1 {
		t.Errorf("risk_scorer ran %d times, want 1 (entry actions must not repeat on resume)", *calls)
	}
	if !in.HasAppliedEvent("evt-1") {
		t.Errorf("applied event id not recorded")
	}
}

// Scenario: the scoring agent times out three times; the instance lands in
// action_failed with all three attempts on record, and a later run retries
// the entry action and completes once the agent recovers.
func TestRunActionFailedThenRecovers(t *testing.T) {
	def := claimsFlow()
	agents := collab.NewAgentRegistry(discardLogger())
	healthy := false
	agents.Register("risk_scorer", func(ctx context.Context, fc facts.Context) (facts.Delta, error) {
		if !healthy {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return facts.Delta{"ai.fraudScore": 0.1}, nil
	})
	inv := testInvoker(t, agents, nil, nil)
	sink := collab.NewMemorySink()
	m := NewMachine(inv, sink, discardLogger())
	in := newClaimInstance(def, facts.Empty())

	if err := m.Run(context.Background(), def, in); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if in.Status != StatusActionFailed || in.CurrentState != "intake" {
		t.Fatalf("status = %s, state = %s, want action_failed/intake", in.Status, in.CurrentState)
	}

	last := in.History[len(in.History)-1]
	if last.Type != RecordActionFailed || len(last.Attempts) != 3 {
		t.Fatalf("last record = %+v, want action_failed with 3 attempts", last)
	}
	var failed bool
	for _, ev := range sink.Events() {
		if ev.Type == collab.EventActionFailed {
			failed = true
		}
	}
	if !failed {
		t.Errorf("no action_failed event published")
	}

	healthy = true
	if err := m.Run(context.Background(), def, in); err != nil {
		t.Fatalf("retry Run: %v", err)
	}
	if in.Status != StatusCompleted || in.CurrentState != "approved" {
		t.Errorf("after recovery status = %s, state = %s", in.Status, in.CurrentState)
	}
}

func TestRunCancellation(t *testing.T) {
	def := claimsFlow()
	m, calls := scoringMachine(t, 0.1, collab.NewMemorySink())
	in := newClaimInstance(def, facts.Empty())
	in.CancelRequested = true

	if err := m.Run(context.Background(), def, in); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if in.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", in.Status)
	}
	if *calls != 0 {
		t.Errorf("entry actions ran %d times after cancellation", *calls)
	}
	if err := m.Run(context.Background(), def, in); err == nil {
		t.Errorf("Run on a cancelled instance should fail")
	}
}

func TestRunCycleGuard(t *testing.T) {
	def := &ast.WorkflowDefinition{
		Institution: "acme_mutual", Name: "spinner", Version: 1,
		InitialState: "a",
		States:       map[string]*ast.State{"a": {Name: "a"}, "b": {Name: "b"}},
		Transitions: []*ast.Transition{
			{From: "a", To: "b", Priority: 1},
			{From: "b", To: "a", Priority: 1},
		},
	}
	m, _ := scoringMachine(t, 0.1, collab.NewMemorySink())
	in := newClaimInstance(def, facts.Empty())

	if err := m.Run(context.Background(), def, in); err == nil {
		t.Fatal("Run on a cycling definition should fail")
	}
}
