package model

import "time"

// ListingStatus is the availability of a listing shard.
type ListingStatus string

const (
	ListingOpen     ListingStatus = "open"     // available for request
	ListingReserved ListingStatus = "reserved" // held by a live pickup request
	ListingExpired  ListingStatus = "expired"  // past expiry, flipped by the sweep
)

// SplitReason tags how a shard came to have its current quantity. Diagnostic only.
type SplitReason string

const (
	SplitNewListing     SplitReason = "new_listing"
	SplitPartialRequest SplitReason = "partial_request"
	SplitMerge          SplitReason = "merge"
	SplitCancelRestore  SplitReason = "cancel_restore"
)

// Listing is one shard of a group's quantity: either the available
// remainder or a portion reserved by a single pickup request.
type Listing struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// GroupID is nil for legacy listings posted before groups existed.
	GroupID   *uint         `gorm:"index" json:"group_id"`
	Group     *ListingGroup `gorm:"foreignKey:GroupID" json:"-"`
	GroceryID uint          `gorm:"not null;index" json:"grocery_id"`

	ProductName string     `gorm:"size:128;not null" json:"product_name"`
	Category    string     `gorm:"size:64;index" json:"category"`
	Unit        string     `gorm:"size:32" json:"unit"`
	ExpiryDate  time.Time  `gorm:"not null" json:"expiry_date"`
	PickupStart *time.Time `json:"pickup_start,omitempty"`
	PickupEnd   *time.Time `json:"pickup_end,omitempty"`

	Quantity           int           `gorm:"not null" json:"quantity"`
	Status             ListingStatus `gorm:"size:16;not null;default:'open';index" json:"status"`
	SplitReason        SplitReason   `gorm:"size:32" json:"split_reason"`
	RelatedRequestID   *uint         `gorm:"index" json:"related_request_id"`
	SplitFromListingID *uint         `json:"split_from_listing_id"`
}

func (Listing) TableName() string { return "listings" }

// Title is the human readable label cached on pickup requests.
func (l *Listing) Title() string {
	if l.Unit == "" {
		return l.ProductName
	}
	return l.ProductName + " (" + l.Unit + ")"
}
