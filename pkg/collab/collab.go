// Package collab defines the external collaborator surfaces the workflow
// engine dispatches to: domain agents, AI task services, and the event
// sink. The engine owns timeouts and retries; collaborators just do the
// work and report errors honestly.
package collab

import (
	"context"
	"errors"
	"time"

	"cobalt-hq/saturn/pkg/facts"
)

// ErrUnknownAgent indicates a workflow referenced an agent name that is not
// registered. This is a definition problem, never retried.
var ErrUnknownAgent = errors.New("unknown agent")

// ErrUnknownTask indicates an ai_task code the AI service does not support.
var ErrUnknownTask = errors.New("unknown ai task")

// AgentRunner runs a named domain-specific business logic unit (policy
// verification, settlement calculation, fraud flagging) against the current
// fact context and returns the facts it derived.
type AgentRunner interface {
	Run(ctx context.Context, agentName string, fc facts.Context) (facts.Delta, error)
}

// AIResult is the structured output of an AI analysis task.
type AIResult struct {
	Data       map[string]any
	Confidence float64
}

// AITaskService performs a named AI analysis capability over the fact
// context. Implementations wrap concrete providers and must tolerate
// provider latency and unavailability; the engine applies its bounded
// retry and timeout policy around every call.
type AITaskService interface {
	Analyze(ctx context.Context, taskCode string, fc facts.Context) (AIResult, error)
}

// EventType classifies instance lifecycle events published to the sink.
type EventType string

const (
	EventStateEntered      EventType = "state_entered"
	EventStateCompleted    EventType = "state_completed"
	EventActionFailed      EventType = "action_failed"
	EventInstanceCompleted EventType = "instance_completed"
)

// InstanceEvent is delivered to the event sink for audit, UI, and
// notification consumption. Publishing is fire-and-forget from the
// engine's perspective.
type InstanceEvent struct {
	InstanceID string         `json:"instance_id"`
	Type       EventType      `json:"type"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// EventSink receives instance lifecycle events.
type EventSink interface {
	Publish(ctx context.Context, event InstanceEvent)
}

// TransientError marks a collaborator failure as retryable (network and
// availability classes). Validation failures must not be wrapped in it.
type TransientError struct {
	Err error
}

// Error returns the error message.
func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

// Unwrap returns the underlying cause.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is retryable: an explicit TransientError
// or a deadline expiry from a timed-out call.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded)
}
