package model

import (
	"fmt"
	"time"
)

// ListingGroup is the parent aggregate of one donation batch. Its running
// totals always account for the whole OriginalQuantity:
//
//	TotalAvailable + TotalReserved + TotalCompleted == OriginalQuantity
type ListingGroup struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OriginalListingID uint `gorm:"index" json:"original_listing_id"`
	GroceryID         uint `gorm:"not null;index" json:"grocery_id"`

	ProductName string `gorm:"size:128;not null" json:"product_name"`
	Category    string `gorm:"size:64" json:"category"`
	Unit        string `gorm:"size:32" json:"unit"`

	// PostedQuantity is the quantity at posting time and never changes.
	PostedQuantity int `gorm:"not null" json:"posted_quantity"`
	// OriginalQuantity is the current conservation target, not the posted
	// quantity: it starts equal to PostedQuantity, then every grocery
	// withdrawal or quantity correction moves it by the same delta as
	// TotalAvailable. Read PostedQuantity for what was originally offered.
	OriginalQuantity int `gorm:"not null" json:"original_quantity"`

	TotalAvailable int  `gorm:"not null;default:0" json:"total_available"`
	TotalReserved  int  `gorm:"not null;default:0" json:"total_reserved"`
	TotalCompleted int  `gorm:"not null;default:0" json:"total_completed"`
	FullyConsumed  bool `gorm:"not null;default:false" json:"is_fully_consumed"`

	// Version is bumped on every write and checked by the store.
	Version int `gorm:"not null;default:0" json:"version"`
}

func (ListingGroup) TableName() string { return "listing_groups" }

// CheckConservation verifies the running totals are non-negative and sum to
// OriginalQuantity.
func (g *ListingGroup) CheckConservation() error {
	if g.TotalAvailable < 0 || g.TotalReserved < 0 || g.TotalCompleted < 0 {
		return fmt.Errorf("group %d has negative totals: available=%d reserved=%d completed=%d",
			g.ID, g.TotalAvailable, g.TotalReserved, g.TotalCompleted)
	}
	sum := g.TotalAvailable + g.TotalReserved + g.TotalCompleted
	if sum != g.OriginalQuantity {
		return fmt.Errorf("group %d totals %d+%d+%d=%d do not match original quantity %d",
			g.ID, g.TotalAvailable, g.TotalReserved, g.TotalCompleted, sum, g.OriginalQuantity)
	}
	return nil
}

// RefreshConsumed recomputes FullyConsumed from the totals.
func (g *ListingGroup) RefreshConsumed() {
	g.FullyConsumed = g.TotalCompleted >= g.OriginalQuantity
}
