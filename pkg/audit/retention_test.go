package audit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"cobalt-hq/saturn/pkg/dsl/ast"
	"cobalt-hq/saturn/pkg/facts"
	"cobalt-hq/saturn/pkg/store"
	"cobalt-hq/saturn/pkg/workflow"
)

func seedInstance(t *testing.T, mem *store.Memory, id string, status workflow.Status, age time.Duration) {
	t.Helper()
	now := time.Now().UTC()
	in := &workflow.Instance{
		ID:           id,
		Definition:   ast.DefinitionRef{Institution: "acme_mutual", Name: "claims_flow", Version: 1},
		EntityType:   "claim",
		EntityID:     id,
		CurrentState: "approved",
		Context:      facts.Empty(),
		Status:       status,
		CreatedAt:    now.Add(-age),
		UpdatedAt:    now.Add(-age),
	}
	if err := mem.CreateInstance(context.Background(), in); err != nil {
		t.Fatalf("CreateInstance %s: %v", id, err)
	}
}

func TestPrune(t *testing.T) {
	mem := store.NewMemory()
	tenYears := 10 * 365 * 24 * time.Hour
	seedInstance(t, mem, "ancient-closed", workflow.StatusCompleted, tenYears)
	seedInstance(t, mem, "ancient-open", workflow.StatusBlocked, tenYears)
	seedInstance(t, mem, "recent-closed", workflow.StatusCancelled, time.Hour)

	p := NewPruner(mem, DefaultRetentionConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	removed, err := p.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	// Open instances are never pruned, whatever their age.
	if _, err := mem.GetInstance(context.Background(), "ancient-open"); err != nil {
		t.Errorf("open instance pruned: %v", err)
	}
	if _, err := mem.GetInstance(context.Background(), "recent-closed"); err != nil {
		t.Errorf("in-window instance pruned: %v", err)
	}
}

func TestPruneDisabled(t *testing.T) {
	mem := store.NewMemory()
	seedInstance(t, mem, "ancient-closed", workflow.StatusCompleted, 10*365*24*time.Hour)

	p := NewPruner(mem, RetentionConfig{RetentionDays: 0}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	removed, err := p.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d with retention disabled", removed)
	}
}

func TestSchedulerValidation(t *testing.T) {
	mem := store.NewMemory()

	bad := NewScheduler(NewPruner(mem, RetentionConfig{RetentionDays: 30, PruneSchedule: "not a cron"}, slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err := bad.Start(context.Background()); err == nil {
		t.Error("Start accepted an invalid cron expression")
	}

	none := NewScheduler(NewPruner(mem, RetentionConfig{RetentionDays: 30}, slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err := none.Start(context.Background()); err != nil {
		t.Errorf("Start with empty schedule: %v", err)
	}
	if none.IsRunning() {
		t.Error("scheduler running without a schedule")
	}

	ctx, cancel := context.WithCancel(context.Background())
	ok := NewScheduler(NewPruner(mem, RetentionConfig{RetentionDays: 30, PruneSchedule: "0 3 * * *"}, slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err := ok.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !ok.IsRunning() {
		t.Error("scheduler not running after Start")
	}
	cancel()
	ok.Stop()
	if ok.IsRunning() {
		t.Error("scheduler still running after Stop")
	}
}
