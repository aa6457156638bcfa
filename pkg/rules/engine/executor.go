package engine

import (
	"context"
	"fmt"
	"log/slog"

	"cobalt-hq/saturn/pkg/dsl/ast"
	"cobalt-hq/saturn/pkg/facts"
)

// Event is an emitted workflow event produced by a triggerEvent action. It
// is consumed by the surrounding instance manager for audit and
// notification, never by the engine itself.
type Event struct {
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Invoker dispatches an action spec to the named external collaborator.
// The executor blocks the current action sequence until the call returns,
// fails, or times out. Events emitted inside a delegated rule set bubble
// back through the invoker so the surrounding instance manager sees them.
type Invoker interface {
	Invoke(ctx context.Context, spec *ast.ActionSpec, fc facts.Context) (facts.Delta, []Event, error)
}

// Executor applies an ordered action list against a fact context, producing
// a context delta and emitted events. Every write goes into the delta; the
// engine owns all merging. Actions never reach outside the context they
// were given.
type Executor struct {
	invoker Invoker
	logger  *slog.Logger
}

// NewExecutor creates an action executor. The invoker may be nil if the
// rule sets in play never use invokeCollaborator; executing one without an
// invoker is an error.
func NewExecutor(invoker Invoker, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{invoker: invoker, logger: logger}
}

// Execute runs the action list in order against fc. Later actions observe
// earlier writes through the running delta. On collaborator failure the
// partial delta and events accumulated so far are returned with the error.
func (ex *Executor) Execute(ctx context.Context, actions []*ast.Action, fc facts.Context) (facts.Delta, []Event, error) {
	delta := facts.Delta{}
	var events []Event

	for i, action := range actions {
		if err := ex.execute(ctx, action, fc, delta, &events); err != nil {
			return delta, events, fmt.Errorf("action %d (%s): %w", i, action.Kind, err)
		}
	}

	return delta, events, nil
}

func (ex *Executor) execute(ctx context.Context, action *ast.Action, fc facts.Context, delta facts.Delta, events *[]Event) error {
	switch action.Kind {
	case ast.ActionSetFact:
		delta[action.StringParam("path")] = action.Params["value"]

	case ast.ActionSetStatus:
		delta[ast.DecisionStatusPath] = action.StringParam("status")

	case ast.ActionSetPayout:
		delta[ast.DecisionPayoutPath] = action.NumberParam("amount")

	case ast.ActionTriggerEvent:
		*events = append(*events, Event{
			Name:    action.StringParam("name"),
			Payload: action.MapParam("payload"),
		})

	case ast.ActionInvokeCollaborator:
		if ex.invoker == nil {
			return fmt.Errorf("no collaborator invoker configured")
		}
		spec := &ast.ActionSpec{
			Kind:   ast.CollaboratorKind(action.StringParam("kind")),
			Ref:    action.StringParam("ref"),
			Params: action.MapParam("params"),
		}
		// The collaborator sees writes made earlier in this action list.
		result, nested, err := ex.invoker.Invoke(ctx, spec, fc.With(delta))
		if err != nil {
			return err
		}
		for k, v := range result {
			delta[k] = v
		}
		*events = append(*events, nested...)

	default:
		// Unknown kinds are rejected at load time.
		return fmt.Errorf("unknown action kind %q", action.Kind)
	}

	return nil
}
