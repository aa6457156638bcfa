package store

import (
	"context"
	"errors"
	"time"

	"cobalt-hq/saturn/pkg/workflow"
)

var (
	// ErrInstanceNotFound indicates the requested instance id does not exist.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrInstanceExists indicates an open instance already exists for the
	// same (definition, entity) pair.
	ErrInstanceExists = errors.New("open instance already exists for entity")

	// ErrConcurrencyConflict indicates a compare-and-swap update lost the
	// race: the instance version changed since the caller read it. The
	// caller must re-read and redo its work against the fresh snapshot.
	ErrConcurrencyConflict = errors.New("instance version conflict")
)

// InstanceStore persists workflow instances with optimistic concurrency.
// Every update is conditioned on the version the caller read; the store
// bumps the version on success.
type InstanceStore interface {
	// CreateInstance persists a new instance at version 1. Returns
	// ErrInstanceExists when an open instance is already bound to the same
	// (institution, workflow name, entity type, entity id).
	CreateInstance(ctx context.Context, in *workflow.Instance) error

	// GetInstance fetches an instance snapshot by id.
	GetInstance(ctx context.Context, id string) (*workflow.Instance, error)

	// OpenInstance fetches the open (non-terminal) instance bound to the
	// entity under the named workflow, or ErrInstanceNotFound.
	OpenInstance(ctx context.Context, institution, name, entityType, entityID string) (*workflow.Instance, error)

	// UpdateInstance writes the instance if its stored version still equals
	// expectedVersion, then sets in.Version to the new version. Returns
	// ErrConcurrencyConflict otherwise.
	UpdateInstance(ctx context.Context, in *workflow.Instance, expectedVersion int64) error

	// ListInstances returns instance snapshots for an institution filtered
	// by status; an empty status matches all.
	ListInstances(ctx context.Context, institution string, status workflow.Status) ([]*workflow.Instance, error)

	// DeleteInstancesBefore removes terminal instances last updated before
	// the cutoff and returns how many were removed. Open instances are
	// never touched, whatever their age.
	DeleteInstancesBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
