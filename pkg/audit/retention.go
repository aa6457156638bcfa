// Package audit owns the retention policy for finished workflow instances.
// Completed and cancelled instances are the audit trail of every automated
// decision, so they are kept for a configured number of days and pruned on
// a cron schedule; open instances are never pruned regardless of age.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"cobalt-hq/saturn/pkg/store"
)

// RetentionConfig controls how long closed instances are kept.
type RetentionConfig struct {
	// RetentionDays is how many days a terminal instance is retained after
	// its last update. Zero disables pruning entirely.
	RetentionDays int `yaml:"retention_days"`

	// PruneSchedule is a standard cron expression for scheduled pruning,
	// for example "0 3 * * *" for daily at 3 AM. Empty disables the
	// scheduler; Prune can still be called manually.
	PruneSchedule string `yaml:"prune_schedule"`
}

// DefaultRetentionConfig keeps closed instances for seven years, the
// common insurance record-keeping horizon, pruning nightly.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		RetentionDays: 7 * 365,
		PruneSchedule: "0 3 * * *",
	}
}

// Pruner deletes terminal instances older than the retention window.
type Pruner struct {
	instances store.InstanceStore
	config    RetentionConfig
	logger    *slog.Logger
}

// NewPruner creates a retention pruner over the instance store.
func NewPruner(instances store.InstanceStore, config RetentionConfig, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		instances: instances,
		config:    config,
		logger:    logger.With("component", "audit.retention"),
	}
}

// Prune removes terminal instances last updated before the retention
// window and returns how many were removed.
func (p *Pruner) Prune(ctx context.Context) (int, error) {
	if p.config.RetentionDays <= 0 {
		return 0, nil
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -p.config.RetentionDays)
	removed, err := p.instances.DeleteInstancesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune instances before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return removed, nil
}

// Scheduler runs the pruner on its cron schedule.
type Scheduler struct {
	pruner  *Pruner
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
}

// NewScheduler creates a retention scheduler for the pruner.
func NewScheduler(pruner *Pruner) *Scheduler {
	return &Scheduler{
		pruner: pruner,
		cron:   cron.New(),
		logger: pruner.logger,
	}
}

// Start begins scheduled pruning. An empty schedule is a no-op; an invalid
// cron expression is an error. The scheduler stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule := s.pruner.config.PruneSchedule
	if schedule == "" {
		s.logger.Info("prune schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}

	if _, err := s.cron.AddFunc(schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("schedule pruning: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("retention scheduler started",
		"schedule", schedule,
		"retention_days", s.pruner.config.RetentionDays,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	removed, err := s.pruner.Prune(ctx)
	if err != nil {
		s.logger.Error("scheduled pruning failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("scheduled pruning completed", "removed", removed)
	} else {
		s.logger.Debug("scheduled pruning completed, nothing to remove")
	}
}

// Stop stops the scheduler and waits for a running prune to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("retention scheduler stopped")
	}
}

// IsRunning reports whether the scheduler is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
