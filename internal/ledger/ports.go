package ledger

import (
	"context"
	"time"

	"food_rescue/internal/model"
)

// Directory resolves the organization behind a caller id.
type Directory interface {
	FindOrganization(ctx context.Context, id uint) (*model.Organization, error)
}

// Store opens group-scoped transactions and serves the unlocked reads used
// to pick a lock key. Lookups of missing rows return an error wrapping
// ErrNotFound.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetListing(ctx context.Context, id uint) (*model.Listing, error)
	GetRequest(ctx context.Context, id uint) (*model.PickupRequest, error)
	ListExpiredOpen(ctx context.Context, before time.Time) ([]model.Listing, error)
}

// Tx is one ledger transaction. A failed operation rolls back every write.
type Tx interface {
	GetGroup(id uint) (*model.ListingGroup, error)
	CreateGroup(g *model.ListingGroup) error
	// SaveGroup writes g if its Version still matches the stored row and
	// bumps Version; a mismatch returns an error wrapping ErrConflict.
	SaveGroup(g *model.ListingGroup) error
	DeleteGroup(g *model.ListingGroup) error

	GetListing(id uint) (*model.Listing, error)
	// OpenSiblings returns the open shards of a group except excludeID,
	// lowest id first.
	OpenSiblings(groupID, excludeID uint) ([]model.Listing, error)
	GroupListings(groupID uint) ([]model.Listing, error)
	CountListings(groupID uint) (int64, error)
	CreateListing(l *model.Listing) error
	SaveListing(l *model.Listing) error
	DeleteListing(l *model.Listing) error

	GetRequest(id uint) (*model.PickupRequest, error)
	CreateRequest(r *model.PickupRequest) error
	SaveRequest(r *model.PickupRequest) error

	CreateInventoryItem(item *model.InventoryItem) error
}

// EventSink receives change notifications after a ledger transaction commits.
type EventSink interface {
	Emit(ctx context.Context, e Event) error
}

// Locker serializes mutations of one group.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
