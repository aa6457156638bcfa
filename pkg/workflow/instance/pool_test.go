package instance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"cobalt-hq/saturn/pkg/collab"
	"cobalt-hq/saturn/pkg/dsl/ast"
	"cobalt-hq/saturn/pkg/facts"
	"cobalt-hq/saturn/pkg/store"
	"cobalt-hq/saturn/pkg/workflow"
)

// holdFlow starts blocked in waiting; an event moves it to a state whose
// entry action parks on a channel, so the test controls how long the
// worker stays busy.
func holdFlow() *ast.WorkflowDefinition {
	return &ast.WorkflowDefinition{
		Institution:  "acme_mutual",
		Name:         "hold_flow",
		Version:      1,
		Active:       true,
		InitialState: "waiting",
		States: map[string]*ast.State{
			"waiting": {Name: "waiting"},
			"holding": {Name: "holding", EntryActions: []*ast.ActionSpec{
				{Kind: ast.CollaboratorAgent, Ref: "holder"},
			}},
			"done": {Name: "done"},
		},
		Transitions: []*ast.Transition{
			{From: "waiting", To: "holding", Priority: 1, Condition: pred("go.hold", ast.OperatorExists, nil)},
			{From: "holding", To: "done", Priority: 1, Condition: pred("finish", ast.OperatorExists, nil)},
		},
	}
}

// A shutdown racing a blocked enqueue must let the send land and drain it,
// never kill the process or drop the accepted event.
func TestShutdownWaitsForBlockedEnqueue(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mem := store.NewMemory()
	if err := mem.PutWorkflowDefinition(context.Background(), holdFlow()); err != nil {
		t.Fatalf("PutWorkflowDefinition: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	agents := collab.NewAgentRegistry(logger)
	agents.Register("holder", func(ctx context.Context, fc facts.Context) (facts.Delta, error) {
		close(started)
		select {
		case <-release:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	inv := workflow.NewInvoker("acme_mutual", agents, nil, nil, workflow.DefaultInvokerConfig(), logger)
	machine := workflow.NewMachine(inv, collab.NewMemorySink(), logger)
	m := NewManager(mem, mem, machine, logger)

	in, err := m.Start(context.Background(), "acme_mutual", "hold_flow", "claim", "claim-001", facts.Empty())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	pool := NewPool(m, 1, 1, logger)

	// Occupy the single worker inside the holder agent.
	if err := pool.Enqueue(in.ID, workflow.TriggerEvent{ID: "evt-1", Payload: map[string]any{"go.hold": true}}); err != nil {
		t.Fatalf("Enqueue evt-1: %v", err)
	}
	<-started

	// Fill the depth-1 queue, then block a third enqueue in its send.
	if err := pool.Enqueue(in.ID, workflow.TriggerEvent{ID: "evt-2", Payload: map[string]any{"finish": true}}); err != nil {
		t.Fatalf("Enqueue evt-2: %v", err)
	}
	blockedErr := make(chan error, 1)
	go func() {
		blockedErr <- pool.Enqueue(in.ID, workflow.TriggerEvent{ID: "evt-3", Name: "late_audit"})
	}()
	// Let the enqueue reach its blocking send before the shutdown starts.
	time.Sleep(20 * time.Millisecond)

	shutdownDone := make(chan struct{})
	go func() {
		pool.Shutdown()
		close(shutdownDone)
	}()

	// Give the shutdown a moment to start waiting on the blocked sender,
	// then let the worker run the backlog down.
	time.Sleep(20 * time.Millisecond)
	close(release)

	if err := <-blockedErr; err != nil {
		t.Fatalf("blocked Enqueue: %v", err)
	}
	select {
	case <-shutdownDone:
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not finish")
	}

	// The accepted event made it into the history before the pool stopped.
	final, err := m.Get(context.Background(), in.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !final.HasAppliedEvent("evt-2") {
		t.Error("evt-2 was accepted but never delivered")
	}

	if err := pool.Enqueue(in.ID, workflow.TriggerEvent{ID: "evt-4"}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Enqueue after shutdown: error = %v, want ErrPoolClosed", err)
	}
}
