// Package audit records rule changes asynchronously.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Action constants for audit logging
const (
	ActionCreated           = "created"
	ActionUpdated           = "updated"
	ActionDeleted           = "deleted"
	ActionConditionsUpdated = "conditions_updated"
	ActionEntityLinked      = "entity_linked"
	ActionEntityUnlinked    = "entity_unlinked"
)

// ResourceType constants for audit logging
const (
	ResourceTypeRule   = "rule"
	ResourceTypeEntity = "rule_entity"
)

// Status constants for audit logging
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Clock interface for testable time operations
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using time.Now()
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator interface for testable ID generation
type IDGenerator interface {
	Generate() string
}

// UUIDGenerator implements IDGenerator using random UUIDs
type UUIDGenerator struct{}

func (UUIDGenerator) Generate() string { return uuid.NewString() }

// Actor represents who performed the action
type Actor struct {
	Role    string `json:"role"`
	Display string `json:"display"`
}

// Source represents request metadata
type Source struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
}

// AuditEvent represents a canonical audit event
type AuditEvent struct {
	OccurredAt   time.Time      `json:"occurred_at"`
	RequestID    string         `json:"request_id"`
	Actor        Actor          `json:"actor"`
	Source       Source         `json:"source"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	BeforeState  map[string]any `json:"before_state,omitempty"`
	AfterState   map[string]any `json:"after_state,omitempty"`
	Changes      map[string]any `json:"changes,omitempty"`
	Status       string         `json:"status"`
	ErrorMessage *string        `json:"error_message,omitempty"`
}

// AuditSink defines the interface for persisting audit events
type AuditSink interface {
	Write(ctx context.Context, event AuditEvent) error
}

// Service queues audit events and hands them to a sink on a background
// goroutine. A full queue drops events instead of blocking the request.
type Service struct {
	sink    AuditSink
	clock   Clock
	idgen   IDGenerator
	queue   chan AuditEvent
	stopCh  chan struct{}
	done    chan struct{}
	closed  atomic.Bool
	dropped atomic.Int64
	mu      sync.RWMutex // guards sends against Close
}

// NewService creates a new audit service and starts its worker.
func NewService(sink AuditSink, clock Clock, idgen IDGenerator, queueSize int) *Service {
	if clock == nil {
		clock = SystemClock{}
	}
	if idgen == nil {
		idgen = UUIDGenerator{}
	}
	if queueSize <= 0 {
		queueSize = 1
	}

	s := &Service{
		sink:   sink,
		clock:  clock,
		idgen:  idgen,
		queue:  make(chan AuditEvent, queueSize),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}

	go s.worker()

	return s
}

func (s *Service) worker() {
	defer close(s.done)
	for {
		select {
		case event := <-s.queue:
			s.write(event)
		case <-s.stopCh:
			for {
				select {
				case event := <-s.queue:
					s.write(event)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) write(event AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sink.Write(ctx, event); err != nil {
		log.Error().Err(err).
			Str("resource_type", event.ResourceType).
			Str("resource_id", event.ResourceID).
			Msg("audit: failed to write event")
	}
}

// Close stops the worker after the queued events are written. It is safe to
// call more than once.
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	close(s.stopCh)
	s.mu.Unlock()
	<-s.done
	return nil
}

// Dropped returns how many events were discarded because the queue was full
// or the service was closed.
func (s *Service) Dropped() int64 {
	return s.dropped.Load()
}

// Log queues an audit event for asynchronous processing
func (s *Service) Log(event AuditEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.clock.Now()
	}
	if event.RequestID == "" {
		event.RequestID = s.idgen.Generate()
	}
	if event.Changes == nil && (event.BeforeState != nil || event.AfterState != nil) {
		event.Changes = ComputeChanges(event.BeforeState, event.AfterState)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		s.dropped.Add(1)
		return
	}

	select {
	case s.queue <- event:
	default:
		s.dropped.Add(1)
		log.Warn().
			Str("resource_type", event.ResourceType).
			Str("resource_id", event.ResourceID).
			Msg("audit: queue full, dropping event")
	}
}

// ComputeChanges computes the difference between before and after states
func ComputeChanges(before, after map[string]any) map[string]any {
	if before == nil && after == nil {
		return nil
	}
	if before == nil {
		before = make(map[string]any)
	}
	if after == nil {
		after = make(map[string]any)
	}

	changes := make(map[string]any)

	for key, afterVal := range after {
		beforeVal, existedBefore := before[key]

		beforeJSON, _ := json.Marshal(beforeVal)
		afterJSON, _ := json.Marshal(afterVal)

		if !existedBefore || string(beforeJSON) != string(afterJSON) {
			changes[key] = map[string]any{
				"before": beforeVal,
				"after":  afterVal,
			}
		}
	}

	for key, beforeVal := range before {
		if _, existsAfter := after[key]; !existsAfter {
			changes[key] = map[string]any{
				"before": beforeVal,
				"after":  nil,
			}
		}
	}

	if len(changes) == 0 {
		return nil
	}

	return changes
}
