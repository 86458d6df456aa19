package model

import "time"

// InventoryItem is stock received by an NGO from a completed pickup.
type InventoryItem struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	NgoID           uint      `gorm:"not null;index" json:"ngo_id"`
	SourceRequestID uint      `gorm:"not null;uniqueIndex" json:"source_request_id"`
	ProductName     string    `gorm:"size:128;not null" json:"product_name"`
	Category        string    `gorm:"size:64" json:"category"`
	Unit            string    `gorm:"size:32" json:"unit"`
	Quantity        int       `gorm:"not null" json:"quantity"`
	ExpiryDate      time.Time `json:"expiry_date"`
	ReceivedAt      time.Time `gorm:"not null" json:"received_at"`
}

func (InventoryItem) TableName() string { return "inventory_items" }
