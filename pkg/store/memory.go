package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"cobalt-hq/saturn/pkg/dsl/ast"
	"cobalt-hq/saturn/pkg/workflow"
)

// Memory is an in-process implementation of both store contracts, used by
// tests and the CLI's dry-run mode. Instance reads and writes go through a
// JSON round trip so callers get snapshots, not aliases into the store.
type Memory struct {
	mu sync.RWMutex

	ruleSets       map[string]map[int]*ast.RuleSet
	activeRuleSets map[string]int

	workflows       map[string]map[int]*ast.WorkflowDefinition
	activeWorkflows map[string]int

	instances map[string]*workflow.Instance
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		ruleSets:        make(map[string]map[int]*ast.RuleSet),
		activeRuleSets:  make(map[string]int),
		workflows:       make(map[string]map[int]*ast.WorkflowDefinition),
		activeWorkflows: make(map[string]int),
		instances:       make(map[string]*workflow.Instance),
	}
}

func defKey(institution, name string) string {
	return institution + "/" + name
}

// PutRuleSet publishes a new rule set version.
func (m *Memory) PutRuleSet(ctx context.Context, rs *ast.RuleSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := defKey(rs.Institution, rs.Name)
	versions, ok := m.ruleSets[key]
	if !ok {
		versions = make(map[int]*ast.RuleSet)
		m.ruleSets[key] = versions
	}
	if _, exists := versions[rs.Version]; exists {
		return fmt.Errorf("rule set %s v%d: %w", key, rs.Version, ErrVersionExists)
	}
	versions[rs.Version] = rs
	if rs.Active {
		m.activeRuleSets[key] = rs.Version
	}
	return nil
}

// GetRuleSet fetches a specific published version.
func (m *Memory) GetRuleSet(ctx context.Context, institution, name string, version int) (*ast.RuleSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rs, ok := m.ruleSets[defKey(institution, name)][version]
	if !ok {
		return nil, fmt.Errorf("rule set %s/%s v%d: %w", institution, name, version, ErrNotFound)
	}
	return rs, nil
}

// ActiveRuleSet fetches the currently active version.
func (m *Memory) ActiveRuleSet(ctx context.Context, institution, name string) (*ast.RuleSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := defKey(institution, name)
	version, ok := m.activeRuleSets[key]
	if !ok {
		return nil, fmt.Errorf("rule set %s: no active version: %w", key, ErrNotFound)
	}
	return m.ruleSets[key][version], nil
}

// ActivateRuleSet marks the given version active.
func (m *Memory) ActivateRuleSet(ctx context.Context, institution, name string, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := defKey(institution, name)
	if _, ok := m.ruleSets[key][version]; !ok {
		return fmt.Errorf("rule set %s v%d: %w", key, version, ErrNotFound)
	}
	m.activeRuleSets[key] = version
	return nil
}

// PutWorkflowDefinition publishes a new workflow definition version.
func (m *Memory) PutWorkflowDefinition(ctx context.Context, wd *ast.WorkflowDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := defKey(wd.Institution, wd.Name)
	versions, ok := m.workflows[key]
	if !ok {
		versions = make(map[int]*ast.WorkflowDefinition)
		m.workflows[key] = versions
	}
	if _, exists := versions[wd.Version]; exists {
		return fmt.Errorf("workflow %s v%d: %w", key, wd.Version, ErrVersionExists)
	}
	versions[wd.Version] = wd
	if wd.Active {
		m.activeWorkflows[key] = wd.Version
	}
	return nil
}

// GetWorkflowDefinition fetches a specific published version.
func (m *Memory) GetWorkflowDefinition(ctx context.Context, institution, name string, version int) (*ast.WorkflowDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wd, ok := m.workflows[defKey(institution, name)][version]
	if !ok {
		return nil, fmt.Errorf("workflow %s/%s v%d: %w", institution, name, version, ErrNotFound)
	}
	return wd, nil
}

// ActiveWorkflowDefinition fetches the currently active version.
func (m *Memory) ActiveWorkflowDefinition(ctx context.Context, institution, name string) (*ast.WorkflowDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := defKey(institution, name)
	version, ok := m.activeWorkflows[key]
	if !ok {
		return nil, fmt.Errorf("workflow %s: no active version: %w", key, ErrNotFound)
	}
	return m.workflows[key][version], nil
}

// ActivateWorkflowDefinition marks the given version active.
func (m *Memory) ActivateWorkflowDefinition(ctx context.Context, institution, name string, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := defKey(institution, name)
	if _, ok := m.workflows[key][version]; !ok {
		return fmt.Errorf("workflow %s v%d: %w", key, version, ErrNotFound)
	}
	m.activeWorkflows[key] = version
	return nil
}

// CreateInstance persists a new instance at version 1.
func (m *Memory) CreateInstance(ctx context.Context, in *workflow.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.instances[in.ID]; exists {
		return fmt.Errorf("instance %s: already exists", in.ID)
	}
	for _, other := range m.instances {
		if other.Open() && sameBinding(other, in) {
			return fmt.Errorf("instance %s: %w", other.ID, ErrInstanceExists)
		}
	}

	in.Version = 1
	snapshot, err := cloneInstance(in)
	if err != nil {
		return err
	}
	m.instances[in.ID] = snapshot
	return nil
}

// GetInstance fetches an instance snapshot by id.
func (m *Memory) GetInstance(ctx context.Context, id string) (*workflow.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	in, ok := m.instances[id]
	if !ok {
		return nil, fmt.Errorf("instance %s: %w", id, ErrInstanceNotFound)
	}
	return cloneInstance(in)
}

// OpenInstance fetches the open instance bound to the entity.
func (m *Memory) OpenInstance(ctx context.Context, institution, name, entityType, entityID string) (*workflow.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, in := range m.instances {
		if in.Open() &&
			in.Definition.Institution == institution &&
			in.Definition.Name == name &&
			in.EntityType == entityType &&
			in.EntityID == entityID {
			return cloneInstance(in)
		}
	}
	return nil, fmt.Errorf("open instance for %s/%s %s/%s: %w", institution, name, entityType, entityID, ErrInstanceNotFound)
}

// UpdateInstance writes the instance if the version check passes.
func (m *Memory) UpdateInstance(ctx context.Context, in *workflow.Instance, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.instances[in.ID]
	if !ok {
		return fmt.Errorf("instance %s: %w", in.ID, ErrInstanceNotFound)
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("instance %s: stored v%d, expected v%d: %w",
			in.ID, stored.Version, expectedVersion, ErrConcurrencyConflict)
	}

	in.Version = expectedVersion + 1
	in.UpdatedAt = time.Now().UTC()
	snapshot, err := cloneInstance(in)
	if err != nil {
		return err
	}
	m.instances[in.ID] = snapshot
	return nil
}

// ListInstances returns instance snapshots for an institution by status.
func (m *Memory) ListInstances(ctx context.Context, institution string, status workflow.Status) ([]*workflow.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*workflow.Instance
	for _, in := range m.instances {
		if in.Definition.Institution != institution {
			continue
		}
		if status != "" && in.Status != status {
			continue
		}
		snapshot, err := cloneInstance(in)
		if err != nil {
			return nil, err
		}
		out = append(out, snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteInstancesBefore removes terminal instances older than the cutoff.
func (m *Memory) DeleteInstancesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, in := range m.instances {
		if !in.Open() && in.UpdatedAt.Before(cutoff) {
			delete(m.instances, id)
			removed++
		}
	}
	return removed, nil
}

// Ping always succeeds for the memory store.
func (m *Memory) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the memory store.
func (m *Memory) Close() error {
	return nil
}

func sameBinding(a, b *workflow.Instance) bool {
	return a.Definition.Institution == b.Definition.Institution &&
		a.Definition.Name == b.Definition.Name &&
		a.EntityType == b.EntityType &&
		a.EntityID == b.EntityID
}

// cloneInstance deep-copies through JSON so stored state never aliases
// caller state.
func cloneInstance(in *workflow.Instance) (*workflow.Instance, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("clone instance %s: %w", in.ID, err)
	}
	var out workflow.Instance
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("clone instance %s: %w", in.ID, err)
	}
	return &out, nil
}
