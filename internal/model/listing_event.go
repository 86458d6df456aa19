package model

import (
	"time"

	"gorm.io/datatypes"
)

// ListingEvent is the audit trail row projected from the event stream.
type ListingEvent struct {
	ID         uint           `gorm:"primarykey" json:"id"`
	EventID    string         `gorm:"size:64;uniqueIndex;not null" json:"event_id"`
	EventType  string         `gorm:"size:40;not null;index" json:"event_type"`
	GroupID    *uint          `gorm:"index" json:"group_id"`
	ListingID  *uint          `json:"listing_id"`
	RequestID  *uint          `json:"request_id"`
	EventData  datatypes.JSON `json:"event_data"`
	OccurredAt time.Time      `gorm:"not null" json:"occurred_at"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (ListingEvent) TableName() string { return "listing_events" }
