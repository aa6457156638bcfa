// Package metrics exposes Prometheus metrics for rule evaluation and
// workflow progression.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the metric namespace shared by all collectors.
const Namespace = "saturn"

// EngineMetrics tracks rule set evaluation.
//
// Metrics:
//   - saturn_rules_evaluations_total: evaluations by institution, rule set, and outcome
//   - saturn_rules_evaluation_duration_seconds: evaluation duration by rule set
//   - saturn_rules_fired_total: rules fired by institution and rule set
//   - saturn_rules_warnings_total: evaluation warnings by institution and rule set
type EngineMetrics struct {
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	firedTotal         *prometheus.CounterVec
	warningsTotal      *prometheus.CounterVec
}

// NewEngineMetrics creates and registers engine metrics with the registry.
func NewEngineMetrics(registry *prometheus.Registry) *EngineMetrics {
	em := &EngineMetrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "rules",
				Name:      "evaluations_total",
				Help:      "Total number of rule set evaluations",
			},
			[]string{"institution", "rule_set", "outcome"},
		),
		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "rules",
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of rule set evaluation in seconds",
				// Pure evaluations sit well under a millisecond; collaborator
				// actions stretch the tail.
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
			[]string{"institution", "rule_set"},
		),
		firedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "rules",
				Name:      "fired_total",
				Help:      "Total number of rules fired",
			},
			[]string{"institution", "rule_set"},
		),
		warningsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "rules",
				Name:      "warnings_total",
				Help:      "Total number of evaluation warnings (missing paths, type mismatches)",
			},
			[]string{"institution", "rule_set"},
		),
	}

	registry.MustRegister(
		em.evaluationsTotal,
		em.evaluationDuration,
		em.firedTotal,
		em.warningsTotal,
	)
	return em
}

// RecordEvaluation records one rule set evaluation.
func (em *EngineMetrics) RecordEvaluation(institution, ruleSet, outcome string, fired, warnings int, duration time.Duration) {
	em.evaluationsTotal.WithLabelValues(institution, ruleSet, outcome).Inc()
	em.evaluationDuration.WithLabelValues(institution, ruleSet).Observe(duration.Seconds())
	em.firedTotal.WithLabelValues(institution, ruleSet).Add(float64(fired))
	em.warningsTotal.WithLabelValues(institution, ruleSet).Add(float64(warnings))
}

// WorkflowMetrics tracks instance progression.
//
// Metrics:
//   - saturn_workflow_instances_total: instances reaching a status by institution and workflow
//   - saturn_workflow_transitions_total: state transitions by institution and workflow
//   - saturn_workflow_collaborator_calls_total: collaborator calls by kind and outcome
//   - saturn_workflow_collaborator_duration_seconds: collaborator call duration by kind
//   - saturn_workflow_version_conflicts_total: lost optimistic concurrency races
type WorkflowMetrics struct {
	instancesTotal       *prometheus.CounterVec
	transitionsTotal     *prometheus.CounterVec
	collaboratorCalls    *prometheus.CounterVec
	collaboratorDuration *prometheus.HistogramVec
	versionConflicts     *prometheus.CounterVec
}

// NewWorkflowMetrics creates and registers workflow metrics with the registry.
func NewWorkflowMetrics(registry *prometheus.Registry) *WorkflowMetrics {
	wm := &WorkflowMetrics{
		instancesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "workflow",
				Name:      "instances_total",
				Help:      "Total number of instances reaching a lifecycle status",
			},
			[]string{"institution", "workflow", "status"},
		),
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "workflow",
				Name:      "transitions_total",
				Help:      "Total number of state transitions",
			},
			[]string{"institution", "workflow"},
		),
		collaboratorCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "workflow",
				Name:      "collaborator_calls_total",
				Help:      "Total number of collaborator calls",
			},
			[]string{"kind", "outcome"},
		),
		collaboratorDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "workflow",
				Name:      "collaborator_duration_seconds",
				Help:      "Duration of collaborator calls in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 3, 10),
			},
			[]string{"kind"},
		),
		versionConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "workflow",
				Name:      "version_conflicts_total",
				Help:      "Total number of optimistic concurrency conflicts",
			},
			[]string{"institution", "workflow"},
		),
	}

	registry.MustRegister(
		wm.instancesTotal,
		wm.transitionsTotal,
		wm.collaboratorCalls,
		wm.collaboratorDuration,
		wm.versionConflicts,
	)
	return wm
}

// RecordInstanceStatus records an instance reaching a lifecycle status.
func (wm *WorkflowMetrics) RecordInstanceStatus(institution, workflow, status string) {
	wm.instancesTotal.WithLabelValues(institution, workflow, status).Inc()
}

// RecordTransition records one state transition.
func (wm *WorkflowMetrics) RecordTransition(institution, workflow string) {
	wm.transitionsTotal.WithLabelValues(institution, workflow).Inc()
}

// RecordCollaboratorCall records one collaborator call with its outcome
// ("ok", "timeout", "error").
func (wm *WorkflowMetrics) RecordCollaboratorCall(kind, outcome string, duration time.Duration) {
	wm.collaboratorCalls.WithLabelValues(kind, outcome).Inc()
	wm.collaboratorDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordVersionConflict records a lost optimistic concurrency race.
func (wm *WorkflowMetrics) RecordVersionConflict(institution, workflow string) {
	wm.versionConflicts.WithLabelValues(institution, workflow).Inc()
}
