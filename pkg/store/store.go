// Package store persists versioned definitions (rule sets, workflow
// definitions) and workflow instances. Memory and SQLite backends implement
// the same contracts; definition payloads are serialized through the codec
// package's canonical JSON form.
package store

import (
	"context"
	"errors"

	"cobalt-hq/saturn/pkg/dsl/ast"
)

// Sentinel errors shared by all backends.
var (
	// ErrNotFound indicates the requested definition or version does not exist.
	ErrNotFound = errors.New("definition not found")

	// ErrVersionExists indicates an attempt to overwrite a published version.
	// Published versions are immutable; edits create a new version.
	ErrVersionExists = errors.New("definition version already published")
)

// DefinitionStore persists rule sets and workflow definitions as versioned
// rows with a serialized definition payload.
type DefinitionStore interface {
	// PutRuleSet publishes a new rule set version. Returns ErrVersionExists
	// if (institution, name, version) is already published.
	PutRuleSet(ctx context.Context, rs *ast.RuleSet) error

	// GetRuleSet fetches a specific published version.
	GetRuleSet(ctx context.Context, institution, name string, version int) (*ast.RuleSet, error)

	// ActiveRuleSet fetches the currently active version.
	ActiveRuleSet(ctx context.Context, institution, name string) (*ast.RuleSet, error)

	// ActivateRuleSet marks the given version active, deactivating any
	// previously active version, atomically.
	ActivateRuleSet(ctx context.Context, institution, name string, version int) error

	// PutWorkflowDefinition publishes a new workflow definition version.
	PutWorkflowDefinition(ctx context.Context, wd *ast.WorkflowDefinition) error

	// GetWorkflowDefinition fetches a specific published version.
	GetWorkflowDefinition(ctx context.Context, institution, name string, version int) (*ast.WorkflowDefinition, error)

	// ActiveWorkflowDefinition fetches the currently active version.
	ActiveWorkflowDefinition(ctx context.Context, institution, name string) (*ast.WorkflowDefinition, error)

	// ActivateWorkflowDefinition marks the given version active.
	ActivateWorkflowDefinition(ctx context.Context, institution, name string, version int) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
