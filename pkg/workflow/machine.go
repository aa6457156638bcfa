package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cobalt-hq/saturn/pkg/collab"
	"cobalt-hq/saturn/pkg/dsl/ast"
	"cobalt-hq/saturn/pkg/telemetry/metrics"
)

// maxSteps bounds one progression run. A well-formed definition settles in
// far fewer steps; hitting the bound means the definition cycles through
// states whose transitions always match.
const maxSteps = 256

// Machine advances a single instance through its definition: it runs entry
// actions, merges the resulting deltas into the fact context, and follows
// transitions until the instance completes, blocks, fails, or is cancelled.
// The machine mutates only the instance it is given; persistence is the
// instance manager's job.
type Machine struct {
	invoker     *Invoker
	transitions *TransitionHandler
	sink        collab.EventSink
	logger      *slog.Logger
	metrics     *metrics.WorkflowMetrics
}

// NewMachine creates a state machine. A nil sink publishes to the log.
func NewMachine(invoker *Invoker, sink collab.EventSink, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = collab.NewLogSink(logger)
	}
	return &Machine{
		invoker:     invoker,
		transitions: NewTransitionHandler(invoker.Engine().Evaluator()),
		sink:        sink,
		logger:      logger.With("component", "workflow.machine"),
	}
}

// SetMetrics attaches workflow metrics to the machine and its invoker.
// Call before first use.
func (m *Machine) SetMetrics(wm *metrics.WorkflowMetrics) {
	m.metrics = wm
	m.invoker.SetMetrics(wm)
}

// ApplyEvent merges an external trigger event into the instance context and
// records it, so redelivery of the same event id can be detected later.
func (m *Machine) ApplyEvent(in *Instance, ev TriggerEvent) {
	if len(ev.Payload) > 0 {
		in.Context = in.Context.With(ev.Payload)
	}
	in.Record(HistoryRecord{
		Type:      RecordEventApplied,
		State:     in.CurrentState,
		EventID:   ev.ID,
		EventName: ev.Name,
		Payload:   ev.Payload,
	})
}

// Run advances the instance until it reaches a terminal state, blocks on
// unmatched transitions, fails an action, or observes cancellation. It is
// safe to call again on a blocked or action_failed instance; entry actions
// of the current state are not repeated once they succeeded.
func (m *Machine) Run(ctx context.Context, def *ast.WorkflowDefinition, in *Instance) error {
	if !in.Open() {
		return fmt.Errorf("instance %s is %s", in.ID, in.Status)
	}
	in.Status = StatusRunning

	for step := 0; step < maxSteps; step++ {
		if m.cancelled(ctx, in) {
			return nil
		}

		if !in.EntryActionsDone {
			if done := m.runEntryActions(ctx, def, in); done {
				return nil
			}
			in.EntryActionsDone = true
		}

		if def.IsTerminal(in.CurrentState) {
			m.complete(ctx, in)
			return nil
		}

		tr, warnings := m.transitions.Next(def, in.CurrentState, in.Context)
		if len(warnings) > 0 {
			in.Record(HistoryRecord{
				Type:     RecordWarning,
				State:    in.CurrentState,
				Warnings: warnings,
			})
		}
		if tr == nil {
			in.Status = StatusBlocked
			m.observeStatus(in)
			in.Record(HistoryRecord{Type: RecordBlocked, State: in.CurrentState})
			m.logger.Info("instance blocked",
				"instance_id", in.ID,
				"state", in.CurrentState,
			)
			return nil
		}

		m.enter(ctx, in, tr.To)
	}

	return fmt.Errorf("instance %s: no terminal state after %d steps, definition likely cycles", in.ID, maxSteps)
}

// runEntryActions executes the current state's entry actions in order,
// merging each delta before the next action runs. It returns true when the
// run must stop here (cancellation observed or an action failed for good).
func (m *Machine) runEntryActions(ctx context.Context, def *ast.WorkflowDefinition, in *Instance) (stop bool) {
	state := def.State(in.CurrentState)
	if state == nil {
		return false
	}

	for _, spec := range state.EntryActions {
		if m.cancelled(ctx, in) {
			return true
		}

		delta, events, err := m.invoker.Invoke(ctx, spec, in.Context)
		if err != nil {
			m.fail(ctx, in, spec, err)
			return true
		}

		// Cancellation observed while the collaborator ran: discard the
		// result rather than merging work past the cancel point.
		if m.cancelled(ctx, in) {
			return true
		}

		if len(delta) > 0 {
			in.Context = in.Context.With(delta)
			in.Record(HistoryRecord{
				Type:         RecordContextMerged,
				State:        in.CurrentState,
				Delta:        delta,
				Collaborator: spec,
			})
		}
		for _, ev := range events {
			in.Record(HistoryRecord{
				Type:      RecordEventEmitted,
				State:     in.CurrentState,
				EventName: ev.Name,
				Payload:   ev.Payload,
			})
		}
	}
	return false
}

// enter moves the instance to the next state and publishes the entry event.
func (m *Machine) enter(ctx context.Context, in *Instance, next string) {
	in.Record(HistoryRecord{Type: RecordStateExited, State: in.CurrentState})
	m.publish(ctx, in, collab.EventStateCompleted, map[string]any{"state": in.CurrentState})

	in.CurrentState = next
	in.EntryActionsDone = false
	in.Record(HistoryRecord{Type: RecordStateEntered, State: next})
	m.publish(ctx, in, collab.EventStateEntered, map[string]any{"state": next})

	if m.metrics != nil {
		m.metrics.RecordTransition(in.Definition.Institution, in.Definition.Name)
	}
	m.logger.Info("state entered", "instance_id", in.ID, "state", next)
}

func (m *Machine) complete(ctx context.Context, in *Instance) {
	in.Status = StatusCompleted
	m.observeStatus(in)
	in.Record(HistoryRecord{Type: RecordCompleted, State: in.CurrentState})
	m.publish(ctx, in, collab.EventInstanceCompleted, map[string]any{
		"state":   in.CurrentState,
		"status":  string(in.Status),
		"payout":  lookupAny(in, ast.DecisionPayoutPath),
		"outcome": lookupAny(in, ast.DecisionStatusPath),
	})
	m.logger.Info("instance completed", "instance_id", in.ID, "state", in.CurrentState)
}

// fail marks the instance action_failed, preserving every attempt for the
// audit trail. Progression can be retried later; the entry actions run
// again from the failed one's state.
func (m *Machine) fail(ctx context.Context, in *Instance, spec *ast.ActionSpec, err error) {
	in.Status = StatusActionFailed
	m.observeStatus(in)

	rec := HistoryRecord{
		Type:         RecordActionFailed,
		State:        in.CurrentState,
		Error:        err.Error(),
		Collaborator: spec,
	}
	var failure *ActionFailure
	if errors.As(err, &failure) {
		failure.State = in.CurrentState
		rec.Attempts = failure.Attempts
	}
	in.Record(rec)

	m.publish(ctx, in, collab.EventActionFailed, map[string]any{
		"state": in.CurrentState,
		"kind":  string(spec.Kind),
		"ref":   spec.Ref,
		"error": err.Error(),
	})
	m.logger.Error("entry action failed",
		"instance_id", in.ID,
		"state", in.CurrentState,
		"kind", spec.Kind,
		"ref", spec.Ref,
		"error", err,
	)
}

// cancelled checks the instance's cancel flag and finalizes the instance
// when set.
func (m *Machine) cancelled(ctx context.Context, in *Instance) bool {
	if !in.CancelRequested {
		return false
	}
	in.Status = StatusCancelled
	m.observeStatus(in)
	in.Record(HistoryRecord{Type: RecordCancelled, State: in.CurrentState})
	m.logger.Info("instance cancelled", "instance_id", in.ID, "state", in.CurrentState)
	return true
}

func (m *Machine) observeStatus(in *Instance) {
	if m.metrics != nil {
		m.metrics.RecordInstanceStatus(in.Definition.Institution, in.Definition.Name, string(in.Status))
	}
}

func (m *Machine) publish(ctx context.Context, in *Instance, typ collab.EventType, payload map[string]any) {
	m.sink.Publish(ctx, collab.InstanceEvent{
		InstanceID: in.ID,
		Type:       typ,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	})
}

func lookupAny(in *Instance, path string) any {
	v, _ := in.Context.Lookup(path)
	return v
}
