// Package registry loads, validates, versions, and caches rule set
// definitions per tenant. Reads are lock-free: the active version for each
// (institution, name) pair sits behind an atomic pointer that activation
// swaps wholesale, so in-flight evaluations keep the version they started
// with (snapshot isolation).
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"cobalt-hq/saturn/pkg/dsl/ast"
	"cobalt-hq/saturn/pkg/store"
)

// Registry resolves active rule set versions and caches published versions
// immutably keyed by (institution, name, version).
type Registry struct {
	defs   store.DefinitionStore
	logger *slog.Logger

	// slots holds one atomic pointer per (institution, name) pair; reads
	// never block and activation swaps the pointer wholesale.
	slots sync.Map // "inst/name" -> *atomic.Pointer[ast.RuleSet]

	// versions caches published (immutable) versions.
	versions sync.Map // "inst/name@version" -> *ast.RuleSet
}

// New creates a rule set registry backed by the given definition store.
func New(defs store.DefinitionStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		defs:   defs,
		logger: logger.With("component", "rules.registry"),
	}
}

// Load resolves the currently active version of the named rule set. The
// first load validates the definition and rejects it with a
// *ast.DefinitionError if malformed; subsequent loads hit the cache without
// locking. The returned rule set must be treated as immutable.
func (r *Registry) Load(ctx context.Context, institution, name string) (*ast.RuleSet, error) {
	if rs := r.slot(institution, name).Load(); rs != nil {
		return rs, nil
	}

	rs, err := r.defs.ActiveRuleSet(ctx, institution, name)
	if err != nil {
		return nil, fmt.Errorf("load active rule set %s/%s: %w", institution, name, err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}

	r.cache(rs)
	r.slot(institution, name).Store(rs)

	r.logger.Info("rule set loaded",
		"institution", institution,
		"name", name,
		"version", rs.Version,
		"rules", len(rs.Rules),
	)
	return rs, nil
}

// LoadVersion resolves a specific published version, for instances pinned
// to a definition ref.
func (r *Registry) LoadVersion(ctx context.Context, institution, name string, version int) (*ast.RuleSet, error) {
	if version == 0 {
		return r.Load(ctx, institution, name)
	}

	if cached, ok := r.versions.Load(versionKey(institution, name, version)); ok {
		return cached.(*ast.RuleSet), nil
	}

	rs, err := r.defs.GetRuleSet(ctx, institution, name, version)
	if err != nil {
		return nil, fmt.Errorf("load rule set %s/%s v%d: %w", institution, name, version, err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}

	r.cache(rs)
	return rs, nil
}

// Publish validates and stores a new rule set version. Published versions
// are immutable; publishing an existing version fails with
// store.ErrVersionExists.
func (r *Registry) Publish(ctx context.Context, rs *ast.RuleSet) error {
	if err := rs.Validate(); err != nil {
		return err
	}
	if err := r.defs.PutRuleSet(ctx, rs); err != nil {
		return fmt.Errorf("publish rule set %s/%s v%d: %w", rs.Institution, rs.Name, rs.Version, err)
	}
	r.cache(rs)

	r.logger.Info("rule set published",
		"institution", rs.Institution,
		"name", rs.Name,
		"version", rs.Version,
	)
	return nil
}

// Activate marks the given version active and swaps the cached pointer
// atomically. Evaluations that already loaded the prior version complete
// against that version; no evaluation observes a change mid-flight.
func (r *Registry) Activate(ctx context.Context, institution, name string, version int) error {
	rs, err := r.LoadVersion(ctx, institution, name, version)
	if err != nil {
		return err
	}

	if err := r.defs.ActivateRuleSet(ctx, institution, name, version); err != nil {
		return fmt.Errorf("activate rule set %s/%s v%d: %w", institution, name, version, err)
	}

	r.slot(institution, name).Store(rs)

	r.logger.Info("rule set activated",
		"institution", institution,
		"name", name,
		"version", version,
	)
	return nil
}

// Invalidate drops the cached active pointer, forcing the next Load to hit
// the definition store. Used by the definition source on external changes.
func (r *Registry) Invalidate(institution, name string) {
	r.slot(institution, name).Store(nil)
}

func (r *Registry) slot(institution, name string) *atomic.Pointer[ast.RuleSet] {
	key := institution + "/" + name
	if v, ok := r.slots.Load(key); ok {
		return v.(*atomic.Pointer[ast.RuleSet])
	}
	v, _ := r.slots.LoadOrStore(key, &atomic.Pointer[ast.RuleSet]{})
	return v.(*atomic.Pointer[ast.RuleSet])
}

func (r *Registry) cache(rs *ast.RuleSet) {
	r.versions.Store(versionKey(rs.Institution, rs.Name, rs.Version), rs)
}

func versionKey(institution, name string, version int) string {
	return fmt.Sprintf("%s/%s@%d", institution, name, version)
}
