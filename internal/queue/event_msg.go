package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"food_rescue/internal/ledger"
)

var knownEventTypes = map[string]bool{
	string(ledger.EventListingCreated):       true,
	string(ledger.EventListingUpdated):       true,
	string(ledger.EventListingDeleted):       true,
	string(ledger.EventListingSplit):         true,
	string(ledger.EventRequestCreated):       true,
	string(ledger.EventRequestStatusChanged): true,
}

// EventMessage is a ledger event as written to Kafka. Zero ids mean absent.
type EventMessage struct {
	EventID    string          `json:"event_id"`
	Type       string          `json:"type"`
	GroupID    uint            `json:"group_id,omitempty"`
	ListingID  uint            `json:"listing_id,omitempty"`
	RequestID  uint            `json:"request_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// FromEvent flattens a ledger event into its wire form.
func FromEvent(e ledger.Event) (EventMessage, error) {
	msg := EventMessage{
		EventID:    e.ID,
		Type:       string(e.Type),
		GroupID:    deref(e.GroupID),
		ListingID:  deref(e.ListingID),
		RequestID:  deref(e.RequestID),
		OccurredAt: e.OccurredAt,
	}
	if len(e.Payload) > 0 {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return EventMessage{}, fmt.Errorf("encoding payload of %s: %w", e.ID, err)
		}
		msg.Payload = b
	}
	return msg, nil
}

// Validate rejects messages the audit consumer cannot store.
func (m EventMessage) Validate() error {
	if m.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if !knownEventTypes[m.Type] {
		return fmt.Errorf("unknown event type %q", m.Type)
	}
	if m.GroupID == 0 && m.ListingID == 0 && m.RequestID == 0 {
		return fmt.Errorf("event %s references no group, listing or request", m.EventID)
	}
	if m.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	if len(m.Payload) > 0 && !json.Valid(m.Payload) {
		return fmt.Errorf("payload of %s is not valid JSON", m.EventID)
	}
	return nil
}

// PartitionKey keeps every event of a group on one partition, in order.
func (m EventMessage) PartitionKey() string {
	if m.GroupID != 0 {
		return fmt.Sprintf("group:%d", m.GroupID)
	}
	return fmt.Sprintf("listing:%d", m.ListingID)
}

func deref(p *uint) uint {
	if p == nil {
		return 0
	}
	return *p
}

func optional(v uint) *uint {
	if v == 0 {
		return nil
	}
	return &v
}
