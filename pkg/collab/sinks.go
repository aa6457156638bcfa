package collab

import (
	"context"
	"log/slog"
	"sync"

	"cobalt-hq/saturn/pkg/facts"
)

// LogSink publishes instance events to the structured log. It is the
// default sink when no external consumer is wired.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a logging event sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "collab.events")}
}

// Publish logs the event.
func (s *LogSink) Publish(ctx context.Context, event InstanceEvent) {
	s.logger.Info("instance event",
		"instance_id", event.InstanceID,
		"type", event.Type,
		"payload", event.Payload,
	)
}

// MemorySink collects published events for inspection, used in tests and
// by the CLI's dry-run mode.
type MemorySink struct {
	mu     sync.Mutex
	events []InstanceEvent
}

// NewMemorySink creates an in-memory event sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Publish records the event.
func (s *MemorySink) Publish(ctx context.Context, event InstanceEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a copy of the events published so far.
func (s *MemorySink) Events() []InstanceEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]InstanceEvent, len(s.events))
	copy(out, s.events)
	return out
}

// StaticAIService is a deterministic AITaskService for tests and local
// development: each task code maps to a fixed result. Concrete provider
// integrations live outside this module and implement AITaskService.
type StaticAIService struct {
	mu      sync.RWMutex
	results map[string]AIResult
}

// NewStaticAIService creates an AI service with canned results.
func NewStaticAIService() *StaticAIService {
	return &StaticAIService{results: make(map[string]AIResult)}
}

// SetResult configures the result for a task code.
func (s *StaticAIService) SetResult(taskCode string, result AIResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[taskCode] = result
}

// Analyze returns the canned result for the task code, or ErrUnknownTask.
func (s *StaticAIService) Analyze(ctx context.Context, taskCode string, fc facts.Context) (AIResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[taskCode]
	if !ok {
		return AIResult{}, ErrUnknownTask
	}
	return result, nil
}
