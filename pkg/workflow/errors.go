package workflow

import (
	"errors"
	"fmt"
	"time"

	"cobalt-hq/saturn/pkg/dsl/ast"
)

// ErrCancelled indicates progression stopped because cancellation was
// observed; any in-flight collaborator result was discarded.
var ErrCancelled = errors.New("instance cancelled")

// TimeoutError indicates a single collaborator call exceeded its per-kind
// bound. Timeouts are retryable and count toward the retry budget.
type TimeoutError struct {
	Kind    ast.CollaboratorKind
	Ref     string
	Timeout time.Duration
}

// Error returns the error message.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %q: call timed out after %v", e.Kind, e.Ref, e.Timeout)
}

// AttemptError records one failed collaborator attempt for the audit trail.
type AttemptError struct {
	Attempt int       `json:"attempt"`
	Error   string    `json:"error"`
	Timeout bool      `json:"timeout,omitempty"`
	At      time.Time `json:"at"`
}

// ActionFailure indicates a collaborator call failed persistently after
// exhausting its retry budget. The state machine surfaces it as instance
// status action_failed; it is never silently swallowed.
type ActionFailure struct {
	Kind     ast.CollaboratorKind
	Ref      string
	State    string
	Attempts []AttemptError
	Cause    error
}

// Error returns the error message.
func (e *ActionFailure) Error() string {
	return fmt.Sprintf("%s %q failed after %d attempt(s): %v", e.Kind, e.Ref, len(e.Attempts), e.Cause)
}

// Unwrap returns the final underlying cause.
func (e *ActionFailure) Unwrap() error {
	return e.Cause
}
