// Package webhook notifies external systems when rules or their entity links
// change, so collectors holding cached rule sets can refresh.
package webhook

import (
	"time"
)

// Event types that can trigger webhooks
const (
	EventRuleCreated           = "rule.created"
	EventRuleUpdated           = "rule.updated"
	EventRuleDeleted           = "rule.deleted"
	EventRuleConditionsUpdated = "rule.conditions_updated"
	EventEntityLinked          = "rule.entity_linked"
	EventEntityUnlinked        = "rule.entity_unlinked"
)

// Delivery headers.
const (
	HeaderSignature = "X-Rule-Engine-Signature"
	HeaderEvent     = "X-Rule-Engine-Event"
	HeaderDelivery  = "X-Rule-Engine-Delivery"
)

// Event is the JSON body posted to each endpoint.
type Event struct {
	Type      string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Resource  Resource  `json:"resource"`
	Data      EventData `json:"data"`
	Metadata  Metadata  `json:"metadata"`
}

// Resource identifies the rule that changed.
type Resource struct {
	Type string `json:"type"` // "rule" or "rule_entity"
	ID   string `json:"id"`
}

// EventData contains the before/after state and changes
type EventData struct {
	Before  map[string]any `json:"before,omitempty"`
	After   map[string]any `json:"after,omitempty"`
	Changes map[string]any `json:"changes,omitempty"`
}

// Metadata contains additional context about the event
type Metadata struct {
	Actor     string `json:"actor,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Endpoint is a subscriber. An empty Events list receives every event.
type Endpoint struct {
	URL    string
	Secret string
	Events []string
}

func (e Endpoint) wants(eventType string) bool {
	if len(e.Events) == 0 {
		return true
	}
	for _, t := range e.Events {
		if t == eventType {
			return true
		}
	}
	return false
}
