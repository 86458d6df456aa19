package model

import "time"

// OrgType is the kind of organization taking part in the marketplace.
type OrgType string

const (
	OrgTypeGrocery OrgType = "grocery"
	OrgTypeNGO     OrgType = "ngo"
	OrgTypeAdmin   OrgType = "admin"
)

// Valid reports whether t is a known organization type.
func (t OrgType) Valid() bool {
	switch t {
	case OrgTypeGrocery, OrgTypeNGO, OrgTypeAdmin:
		return true
	}
	return false
}

// Organization is a grocery store, NGO or admin account. Only verified
// organizations may post listings or request pickups.
type Organization struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name     string  `gorm:"size:128;not null" json:"name"`
	Type     OrgType `gorm:"size:16;not null;index" json:"type"`
	Verified bool    `gorm:"not null;default:false" json:"verified"`
}

func (Organization) TableName() string { return "organizations" }
