package webhook

import (
	"github.com/openlit/ruleengine/internal/audit"
)

var eventTypes = map[string]string{
	audit.ActionCreated:           EventRuleCreated,
	audit.ActionUpdated:           EventRuleUpdated,
	audit.ActionDeleted:           EventRuleDeleted,
	audit.ActionConditionsUpdated: EventRuleConditionsUpdated,
	audit.ActionEntityLinked:      EventEntityLinked,
	audit.ActionEntityUnlinked:    EventEntityUnlinked,
}

// FromAudit turns a successful audit event into a webhook event. Failed
// operations and unknown actions report false.
//
// Usage:
//
//	ev := audit.NewEventBuilder(r).ForResource(...).WithAction(...).Build()
//	if hook, ok := webhook.FromAudit(ev); ok {
//		dispatcher.Dispatch(hook)
//	}
func FromAudit(ev audit.AuditEvent) (Event, bool) {
	if ev.Status != audit.StatusSuccess {
		return Event{}, false
	}
	eventType, ok := eventTypes[ev.Action]
	if !ok {
		return Event{}, false
	}

	return Event{
		Type:      eventType,
		Timestamp: ev.OccurredAt,
		Resource:  Resource{Type: ev.ResourceType, ID: ev.ResourceID},
		Data: EventData{
			Before:  ev.BeforeState,
			After:   ev.AfterState,
			Changes: ev.Changes,
		},
		Metadata: Metadata{
			Actor:     ev.Actor.Display,
			IPAddress: ev.Source.IPAddress,
			RequestID: ev.RequestID,
		},
	}, true
}
