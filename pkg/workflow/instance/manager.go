// Package instance manages workflow instance lifecycles: creation bound to
// a pinned definition version, idempotent event-driven progression under
// optimistic concurrency, and cancellation. The state machine does the
// stepping; this package owns persistence and retry semantics around it.
package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"cobalt-hq/saturn/pkg/dsl/ast"
	"cobalt-hq/saturn/pkg/facts"
	"cobalt-hq/saturn/pkg/store"
	"cobalt-hq/saturn/pkg/telemetry/metrics"
	"cobalt-hq/saturn/pkg/workflow"
)

// ErrInstanceClosed indicates an operation targeted a completed or
// cancelled instance.
var ErrInstanceClosed = errors.New("instance already completed or cancelled")

// maxConflictRetries bounds how often one Progress call re-reads after
// losing a compare-and-swap race. Contention past this is a caller problem.
const maxConflictRetries = 5

// Manager creates and advances workflow instances. Progression is safe to
// call concurrently for the same instance: every write is conditioned on
// the version read, and a lost race re-reads the fresh snapshot and redoes
// the work against it, so in-flight results from the losing actor are
// discarded rather than merged.
type Manager struct {
	defs      store.DefinitionStore
	instances store.InstanceStore
	machine   *workflow.Machine
	logger    *slog.Logger
	metrics   *metrics.WorkflowMetrics
	settings  facts.Delta

	// defCache holds validated definitions keyed "inst/name@version".
	// Instances pin their definition version at creation, so cached
	// entries never go stale.
	defCache sync.Map
}

// NewManager creates an instance manager.
func NewManager(defs store.DefinitionStore, instances store.InstanceStore, machine *workflow.Machine, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		defs:      defs,
		instances: instances,
		machine:   machine,
		logger:    logger.With("component", "workflow.instances"),
	}
}

// SetMetrics attaches workflow metrics. Call before first use.
func (m *Manager) SetMetrics(wm *metrics.WorkflowMetrics) {
	m.metrics = wm
}

// SetInstitutionSettings seeds every new instance with tenant settings
// under the "institution." fact prefix. Caller-supplied initial facts win
// on collision. Call before first use.
func (m *Manager) SetInstitutionSettings(settings map[string]any) {
	base := make(facts.Delta, len(settings))
	for k, v := range settings {
		base["institution."+k] = v
	}
	m.settings = base
}

// Start creates an instance of the institution's active workflow
// definition, pinned to that definition version for its whole life, and
// runs it until it completes, blocks, or fails. At most one open instance
// may exist per (definition, entity); a duplicate returns
// store.ErrInstanceExists.
func (m *Manager) Start(ctx context.Context, institution, name, entityType, entityID string, initial facts.Context) (*workflow.Instance, error) {
	def, err := m.defs.ActiveWorkflowDefinition(ctx, institution, name)
	if err != nil {
		return nil, fmt.Errorf("resolve workflow %s/%s: %w", institution, name, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	m.cacheDefinition(def)

	if len(m.settings) > 0 {
		initial = facts.New(m.settings).With(facts.Delta(initial.Values()))
	}

	now := time.Now().UTC()
	in := &workflow.Instance{
		ID:           uuid.NewString(),
		Definition:   def.Ref(),
		EntityType:   entityType,
		EntityID:     entityID,
		CurrentState: def.InitialState,
		Context:      initial,
		Status:       workflow.StatusRunning,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	in.Record(workflow.HistoryRecord{Type: workflow.RecordStateEntered, State: def.InitialState})

	if err := m.instances.CreateInstance(ctx, in); err != nil {
		return nil, err
	}
	m.logger.Info("instance created",
		"instance_id", in.ID,
		"workflow", name,
		"version", def.Version,
		"entity", entityType+"/"+entityID,
	)

	if err := m.machine.Run(ctx, def, in); err != nil {
		return nil, err
	}
	if err := m.instances.UpdateInstance(ctx, in, 1); err != nil {
		// Nothing else knows the id yet; a conflict here means an operator
		// raced instance creation, which the caller must see.
		return nil, err
	}
	return in, nil
}

// Progress delivers an external event to the instance and advances it.
// Delivery is idempotent per event id: a redelivered id returns the
// current snapshot without re-running any action. A compare-and-swap
// conflict re-reads and redoes the progression against the fresh snapshot.
func (m *Manager) Progress(ctx context.Context, instanceID string, ev workflow.TriggerEvent) (*workflow.Instance, error) {
	for attempt := 0; ; attempt++ {
		in, err := m.instances.GetInstance(ctx, instanceID)
		if err != nil {
			return nil, err
		}
		if in.HasAppliedEvent(ev.ID) {
			m.logger.Info("event already applied, skipping",
				"instance_id", instanceID,
				"event_id", ev.ID,
			)
			return in, nil
		}
		if !in.Open() {
			return in, fmt.Errorf("instance %s: %w", instanceID, ErrInstanceClosed)
		}

		def, err := m.definition(ctx, in.Definition)
		if err != nil {
			return nil, err
		}

		readVersion := in.Version
		m.machine.ApplyEvent(in, ev)
		if err := m.machine.Run(ctx, def, in); err != nil {
			return nil, err
		}

		err = m.instances.UpdateInstance(ctx, in, readVersion)
		if err == nil {
			return in, nil
		}
		if !errors.Is(err, store.ErrConcurrencyConflict) || attempt >= maxConflictRetries {
			return nil, err
		}
		if m.metrics != nil {
			m.metrics.RecordVersionConflict(in.Definition.Institution, in.Definition.Name)
		}
		m.logger.Warn("progress lost version race, retrying",
			"instance_id", instanceID,
			"event_id", ev.ID,
			"attempt", attempt+1,
		)
	}
}

// Cancel requests cancellation and finalizes the instance. A progression
// racing this cancel loses the version check and observes the flag on its
// re-read, so no post-cancel work is merged.
func (m *Manager) Cancel(ctx context.Context, instanceID string) (*workflow.Instance, error) {
	for attempt := 0; ; attempt++ {
		in, err := m.instances.GetInstance(ctx, instanceID)
		if err != nil {
			return nil, err
		}
		if !in.Open() {
			return in, fmt.Errorf("instance %s: %w", instanceID, ErrInstanceClosed)
		}

		def, err := m.definition(ctx, in.Definition)
		if err != nil {
			return nil, err
		}

		readVersion := in.Version
		in.CancelRequested = true
		if err := m.machine.Run(ctx, def, in); err != nil {
			return nil, err
		}

		err = m.instances.UpdateInstance(ctx, in, readVersion)
		if err == nil {
			m.logger.Info("instance cancelled", "instance_id", instanceID)
			return in, nil
		}
		if !errors.Is(err, store.ErrConcurrencyConflict) || attempt >= maxConflictRetries {
			return nil, err
		}
	}
}

// Get returns an instance snapshot.
func (m *Manager) Get(ctx context.Context, instanceID string) (*workflow.Instance, error) {
	return m.instances.GetInstance(ctx, instanceID)
}

// List returns instance snapshots for an institution filtered by status;
// an empty status matches all.
func (m *Manager) List(ctx context.Context, institution string, status workflow.Status) ([]*workflow.Instance, error) {
	return m.instances.ListInstances(ctx, institution, status)
}

// definition resolves the pinned definition version, preferring the cache.
func (m *Manager) definition(ctx context.Context, ref ast.DefinitionRef) (*ast.WorkflowDefinition, error) {
	key := defCacheKey(ref)
	if cached, ok := m.defCache.Load(key); ok {
		return cached.(*ast.WorkflowDefinition), nil
	}

	def, err := m.defs.GetWorkflowDefinition(ctx, ref.Institution, ref.Name, ref.Version)
	if err != nil {
		return nil, fmt.Errorf("resolve workflow %s/%s v%d: %w", ref.Institution, ref.Name, ref.Version, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	m.defCache.Store(key, def)
	return def, nil
}

func (m *Manager) cacheDefinition(def *ast.WorkflowDefinition) {
	m.defCache.Store(defCacheKey(def.Ref()), def)
}

func defCacheKey(ref ast.DefinitionRef) string {
	return fmt.Sprintf("%s/%s@%d", ref.Institution, ref.Name, ref.Version)
}
