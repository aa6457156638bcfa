// Package workflow drives workflow instances through the states of a
// versioned declarative definition: the action invoker dispatches entry
// actions to collaborators, the transition handler picks the next state,
// and the state machine composes the two over a single instance.
package workflow

import (
	"time"

	"cobalt-hq/saturn/pkg/dsl/ast"
	"cobalt-hq/saturn/pkg/facts"
	"cobalt-hq/saturn/pkg/rules/engine"
)

// Status is the lifecycle status layered over an instance's current state.
type Status string

const (
	// StatusRunning means the instance is progressing normally.
	StatusRunning Status = "running"

	// StatusBlocked means no transition matched; the instance awaits a new
	// external event to re-trigger evaluation.
	StatusBlocked Status = "blocked"

	// StatusActionFailed means a collaborator call exhausted its retries;
	// the instance requires external remediation.
	StatusActionFailed Status = "action_failed"

	// StatusCompleted means the instance reached a terminal state.
	StatusCompleted Status = "completed"

	// StatusCancelled means the instance was explicitly cancelled.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status permits no further progression.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// RecordType classifies audit history records.
type RecordType string

const (
	RecordStateEntered  RecordType = "state_entered"
	RecordStateExited   RecordType = "state_exited"
	RecordContextMerged RecordType = "context_merged"
	RecordEventEmitted  RecordType = "event_emitted"
	RecordEventApplied  RecordType = "event_applied"
	RecordWarning       RecordType = "warning"
	RecordActionFailed  RecordType = "action_failed"
	RecordBlocked       RecordType = "blocked"
	RecordCompleted     RecordType = "completed"
	RecordCancelled     RecordType = "cancelled"
)

// HistoryRecord is one append-only audit entry. Every state entry and exit,
// context delta, emitted event, and failure lands here with the hash of the
// fact context it was produced against, for reproducibility. Records are
// never mutated or deleted.
type HistoryRecord struct {
	Seq          int              `json:"seq"`
	Time         time.Time        `json:"time"`
	Type         RecordType       `json:"type"`
	State        string           `json:"state,omitempty"`
	EventID      string           `json:"event_id,omitempty"`
	EventName    string           `json:"event_name,omitempty"`
	Delta        facts.Delta      `json:"delta,omitempty"`
	Payload      map[string]any   `json:"payload,omitempty"`
	Warnings     []engine.Warning `json:"warnings,omitempty"`
	Error        string           `json:"error,omitempty"`
	Attempts     []AttemptError   `json:"attempts,omitempty"`
	ContextHash  string           `json:"context_hash,omitempty"`
	Collaborator *ast.ActionSpec  `json:"collaborator,omitempty"`
}

// Instance is one running or finished execution of a workflow definition,
// bound to a business entity. It is mutated only by the state machine; once
// Status reaches completed or cancelled it is immutable and retained for
// audit. Progression is resumable from the persisted fields alone.
type Instance struct {
	ID              string            `json:"id"`
	Definition      ast.DefinitionRef `json:"definition"`
	EntityType      string            `json:"entity_type"`
	EntityID        string            `json:"entity_id"`
	CurrentState    string            `json:"current_state"`
	Context         facts.Context     `json:"context"`
	Status          Status            `json:"status"`
	History         []HistoryRecord   `json:"history"`
	CancelRequested bool              `json:"cancel_requested,omitempty"`

	// EntryActionsDone records that the current state's entry actions have
	// already executed, so resuming a blocked instance re-evaluates
	// transitions without re-running side effects.
	EntryActionsDone bool `json:"entry_actions_done"`

	// Version is the optimistic-concurrency token: writes are conditioned
	// on it being unchanged since the read.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Open reports whether the instance can still progress.
func (in *Instance) Open() bool {
	return !in.Status.Terminal()
}

// HasAppliedEvent reports whether the triggering event id was already
// applied to this instance, for idempotent progress delivery.
func (in *Instance) HasAppliedEvent(eventID string) bool {
	if eventID == "" {
		return false
	}
	for _, rec := range in.History {
		if rec.Type == RecordEventApplied && rec.EventID == eventID {
			return true
		}
	}
	return false
}

// Record appends a history record, stamping sequence, time, and the current
// context hash.
func (in *Instance) Record(rec HistoryRecord) {
	rec.Seq = len(in.History) + 1
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}
	if rec.ContextHash == "" {
		rec.ContextHash = in.Context.Hash()
	}
	in.History = append(in.History, rec)
}

// TriggerEvent is an external event delivered to Progress. The caller
// supplies the id; redelivering an applied id returns the existing snapshot
// without re-executing actions.
type TriggerEvent struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload,omitempty"`
}
