package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names a ledger state change.
type EventType string

const (
	EventListingCreated       EventType = "listing.created"
	EventListingUpdated       EventType = "listing.updated"
	EventListingDeleted       EventType = "listing.deleted"
	EventListingSplit         EventType = "listing.split"
	EventRequestCreated       EventType = "request.created"
	EventRequestStatusChanged EventType = "request.status_changed"
)

// Event is a fire-and-forget notification of a committed change.
type Event struct {
	ID         string         `json:"event_id"`
	Type       EventType      `json:"type"`
	GroupID    *uint          `json:"group_id,omitempty"`
	ListingID  *uint          `json:"listing_id,omitempty"`
	RequestID  *uint          `json:"request_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func (l *Ledger) newEvent(typ EventType, groupID, listingID, requestID *uint, payload map[string]any) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       typ,
		GroupID:    groupID,
		ListingID:  listingID,
		RequestID:  requestID,
		Payload:    payload,
		OccurredAt: l.now(),
	}
}

// emit hands events to the sink. Failures are logged and never surfaced.
func (l *Ledger) emit(ctx context.Context, events ...Event) {
	for _, e := range events {
		if err := l.sink.Emit(ctx, e); err != nil {
			l.log.Warn().Err(err).Str("event", string(e.Type)).Str("event_id", e.ID).Msg("emit event failed")
		}
	}
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) error { return nil }
