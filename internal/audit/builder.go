package audit

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/openlit/ruleengine/internal/auth"
	"github.com/openlit/ruleengine/internal/rules"
)

// EventBuilder provides a fluent API for constructing audit events.
//
// Usage:
//
//	event := audit.NewEventBuilder(r).
//		ForResource(audit.ResourceTypeRule, rule.ID).
//		WithAction(audit.ActionCreated).
//		WithAfterState(audit.RuleState(rule)).
//		Build()
//
//	service.Log(event)
type EventBuilder struct {
	event AuditEvent
}

// NewEventBuilder creates a builder initialized from the request: request
// ID, caller role and source address.
func NewEventBuilder(r *http.Request) *EventBuilder {
	actor := Actor{Role: "anonymous", Display: "anonymous"}
	if role, ok := auth.GetRoleFromContext(r.Context()); ok {
		actor = Actor{Role: string(role), Display: "key:" + string(role)}
	}

	return &EventBuilder{
		event: AuditEvent{
			RequestID: middleware.GetReqID(r.Context()),
			Actor:     actor,
			Source: Source{
				IPAddress: r.RemoteAddr, // rewritten by middleware.RealIP
				UserAgent: r.UserAgent(),
			},
			Status: StatusSuccess,
		},
	}
}

// ForResource sets the resource type and ID for the event.
func (b *EventBuilder) ForResource(resourceType, resourceID string) *EventBuilder {
	b.event.ResourceType = resourceType
	b.event.ResourceID = resourceID
	return b
}

// WithAction sets the action for the event.
func (b *EventBuilder) WithAction(action string) *EventBuilder {
	b.event.Action = action
	return b
}

// WithBeforeState sets the before state for the event.
func (b *EventBuilder) WithBeforeState(state map[string]any) *EventBuilder {
	if state != nil {
		b.event.BeforeState = state
	}
	return b
}

// WithAfterState sets the after state for the event.
func (b *EventBuilder) WithAfterState(state map[string]any) *EventBuilder {
	if state != nil {
		b.event.AfterState = state
	}
	return b
}

// Failure marks the event as failed and sets an error message.
func (b *EventBuilder) Failure(errorMsg string) *EventBuilder {
	b.event.Status = StatusFailure
	if errorMsg != "" {
		b.event.ErrorMessage = &errorMsg
	}
	return b
}

// Build returns the constructed AuditEvent.
func (b *EventBuilder) Build() AuditEvent {
	return b.event
}

// RuleState renders a rule as a generic map for before/after states.
// Timestamps are left out so they do not show up as changes.
func RuleState(r *rules.Rule) map[string]any {
	if r == nil {
		return nil
	}
	blob, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	var state map[string]any
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil
	}
	delete(state, "created_at")
	delete(state, "updated_at")
	return state
}

// EntityState renders an association as a generic map.
func EntityState(a rules.EntityAssociation) map[string]any {
	return map[string]any{
		"rule_id":     a.RuleID,
		"entity_type": string(a.EntityType),
		"entity_id":   a.EntityID,
	}
}
