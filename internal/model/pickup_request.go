package model

import "time"

// RequestStatus drives the pickup request state machine:
//
//	pending -> approved -> ready -> completed
//	pending -> rejected
//	pending|approved|ready -> cancelled
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestApproved  RequestStatus = "approved"
	RequestReady     RequestStatus = "ready"
	RequestCompleted RequestStatus = "completed"
	RequestRejected  RequestStatus = "rejected"
	RequestCancelled RequestStatus = "cancelled"
)

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestPending:  {RequestApproved, RequestRejected, RequestCancelled},
	RequestApproved: {RequestReady, RequestCancelled},
	RequestReady:    {RequestCompleted, RequestCancelled},
}

// CanTransitionTo reports whether s may move to next.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	for _, allowed := range requestTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s RequestStatus) Terminal() bool {
	return s == RequestCompleted || s == RequestRejected || s == RequestCancelled
}

// PickupRequest is an NGO's claim on the quantity of one reserved shard.
// Terminal requests are kept for history with ListingID cleared.
type PickupRequest struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	NgoID     uint     `gorm:"not null;index" json:"ngo_id"`
	GroceryID uint     `gorm:"not null;index" json:"grocery_id"`
	GroupID   *uint    `gorm:"index" json:"group_id"`
	ListingID *uint    `gorm:"index" json:"listing_id"`
	Listing   *Listing `gorm:"foreignKey:ListingID" json:"-"`

	RequestedQuantity int           `gorm:"not null" json:"requested_quantity"`
	Status            RequestStatus `gorm:"size:16;not null;default:'pending';index" json:"status"`
	PickupDate        time.Time     `gorm:"not null" json:"pickup_date"`
	Notes             string        `gorm:"size:512" json:"notes,omitempty"`

	// Cached at creation so history survives listing deletion.
	ListingTitle    string `gorm:"size:160" json:"listing_title"`
	ListingCategory string `gorm:"size:64" json:"listing_category"`

	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ReadyAt     *time.Time `json:"ready_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

func (PickupRequest) TableName() string { return "pickup_requests" }
