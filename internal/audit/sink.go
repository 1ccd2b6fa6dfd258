package audit

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// LogSink writes audit events as structured log entries.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink returns a sink that logs through logger with component=audit.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "audit").Logger()}
}

// Write logs one event at info level, or warn for failures.
func (s *LogSink) Write(_ context.Context, event AuditEvent) error {
	e := s.logger.Info()
	if event.Status == StatusFailure {
		e = s.logger.Warn()
	}
	e = e.Time("occurred_at", event.OccurredAt).
		Str("request_id", event.RequestID).
		Str("action", event.Action).
		Str("resource_type", event.ResourceType).
		Str("resource_id", event.ResourceID).
		Str("actor", event.Actor.Display).
		Str("ip", event.Source.IPAddress).
		Str("status", event.Status)
	if event.Changes != nil {
		e = e.Interface("changes", event.Changes)
	}
	if event.ErrorMessage != nil {
		e = e.Str("error", *event.ErrorMessage)
	}
	e.Msg("audit event")
	return nil
}

// MemorySink keeps events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []AuditEvent
}

// Write appends the event.
func (s *MemorySink) Write(_ context.Context, event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (s *MemorySink) Events() []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEvent(nil), s.events...)
}
