// Package store persists the ledger in a relational database through gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"food_rescue/internal/ledger"
	"food_rescue/internal/model"

	"gorm.io/gorm"
)

// Store implements ledger.Store and ledger.Directory on top of gorm.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

var (
	_ ledger.Store     = (*Store)(nil)
	_ ledger.Directory = (*Store)(nil)
	_ ledger.Tx        = (*tx)(nil)
)

// WithTx runs fn in one database transaction; any error rolls it back.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&tx{db: db})
	})
}

func (s *Store) GetListing(ctx context.Context, id uint) (*model.Listing, error) {
	var l model.Listing
	if err := s.db.WithContext(ctx).First(&l, id).Error; err != nil {
		return nil, notFound(err, "listing", id)
	}
	return &l, nil
}

func (s *Store) GetRequest(ctx context.Context, id uint) (*model.PickupRequest, error) {
	var r model.PickupRequest
	if err := s.db.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, notFound(err, "pickup request", id)
	}
	return &r, nil
}

func (s *Store) GetGroup(ctx context.Context, id uint) (*model.ListingGroup, error) {
	var g model.ListingGroup
	if err := s.db.WithContext(ctx).First(&g, id).Error; err != nil {
		return nil, notFound(err, "listing group", id)
	}
	return &g, nil
}

// ListExpiredOpen returns open listings whose expiry date is before the
// given time.
func (s *Store) ListExpiredOpen(ctx context.Context, before time.Time) ([]model.Listing, error) {
	var out []model.Listing
	err := s.db.WithContext(ctx).
		Where("status = ? AND expiry_date < ?", model.ListingOpen, before).
		Order("id").
		Find(&out).Error
	return out, err
}

func (s *Store) FindOrganization(ctx context.Context, id uint) (*model.Organization, error) {
	var o model.Organization
	if err := s.db.WithContext(ctx).First(&o, id).Error; err != nil {
		return nil, notFound(err, "organization", id)
	}
	return &o, nil
}

func (s *Store) CreateOrganization(ctx context.Context, o *model.Organization) error {
	return s.db.WithContext(ctx).Create(o).Error
}

// VerifyOrganization marks an organization verified and returns it.
func (s *Store) VerifyOrganization(ctx context.Context, id uint) (*model.Organization, error) {
	res := s.db.WithContext(ctx).Model(&model.Organization{}).Where("id = ?", id).Update("verified", true)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, notFound(gorm.ErrRecordNotFound, "organization", id)
	}
	return s.FindOrganization(ctx, id)
}

// ListingFilter narrows ListListings. Zero values match everything.
type ListingFilter struct {
	GroceryID uint
	Category  string
	Status    model.ListingStatus
	Limit     int
	Offset    int
}

func (s *Store) ListListings(ctx context.Context, f ListingFilter) ([]model.Listing, error) {
	q := s.db.WithContext(ctx).Model(&model.Listing{})
	if f.GroceryID != 0 {
		q = q.Where("grocery_id = ?", f.GroceryID)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var out []model.Listing
	err := paginate(q, f.Limit, f.Offset).Order("id").Find(&out).Error
	return out, err
}

// ListRequests returns the pickup requests an organization is party to,
// newest first.
func (s *Store) ListRequests(ctx context.Context, org *model.Organization, status model.RequestStatus, limit, offset int) ([]model.PickupRequest, error) {
	q := s.db.WithContext(ctx).Model(&model.PickupRequest{})
	switch org.Type {
	case model.OrgTypeGrocery:
		q = q.Where("grocery_id = ?", org.ID)
	case model.OrgTypeNGO:
		q = q.Where("ngo_id = ?", org.ID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []model.PickupRequest
	err := paginate(q, limit, offset).Order("id DESC").Find(&out).Error
	return out, err
}

func (s *Store) ListInventory(ctx context.Context, ngoID uint) ([]model.InventoryItem, error) {
	var out []model.InventoryItem
	err := s.db.WithContext(ctx).Where("ngo_id = ?", ngoID).Order("id DESC").Find(&out).Error
	return out, err
}

// RecordEvent stores a projected event. A duplicate event id is ignored so
// redelivered messages are harmless; it reports whether a row was written.
func (s *Store) RecordEvent(ctx context.Context, e *model.ListingEvent) (bool, error) {
	err := s.db.WithContext(ctx).Create(e).Error
	if err == nil {
		return true, nil
	}
	if isUniqueViolation(err) {
		return false, nil
	}
	return false, err
}

func (s *Store) GroupEvents(ctx context.Context, groupID uint) ([]model.ListingEvent, error) {
	var out []model.ListingEvent
	err := s.db.WithContext(ctx).Where("group_id = ?", groupID).Order("occurred_at, id").Find(&out).Error
	return out, err
}

const maxPageSize = 200

func paginate(q *gorm.DB, limit, offset int) *gorm.DB {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return q.Limit(limit).Offset(offset)
}

// tx is a ledger transaction bound to one gorm transaction handle.
type tx struct {
	db *gorm.DB
}

func (t *tx) GetGroup(id uint) (*model.ListingGroup, error) {
	var g model.ListingGroup
	if err := t.db.First(&g, id).Error; err != nil {
		return nil, notFound(err, "listing group", id)
	}
	return &g, nil
}

func (t *tx) CreateGroup(g *model.ListingGroup) error {
	return t.db.Create(g).Error
}

// SaveGroup is an optimistic write: it only matches the row at g.Version.
func (t *tx) SaveGroup(g *model.ListingGroup) error {
	res := t.db.Model(&model.ListingGroup{}).
		Where("id = ? AND version = ?", g.ID, g.Version).
		Updates(map[string]any{
			"original_listing_id": g.OriginalListingID,
			"original_quantity":   g.OriginalQuantity,
			"total_available":     g.TotalAvailable,
			"total_reserved":      g.TotalReserved,
			"total_completed":     g.TotalCompleted,
			"fully_consumed":      g.FullyConsumed,
			"version":             g.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &ledger.Error{Kind: ledger.ErrConflict, Msg: fmt.Sprintf("listing group %d was modified concurrently", g.ID)}
	}
	g.Version++
	return nil
}

func (t *tx) DeleteGroup(g *model.ListingGroup) error {
	return t.db.Delete(&model.ListingGroup{}, g.ID).Error
}

func (t *tx) GetListing(id uint) (*model.Listing, error) {
	var l model.Listing
	if err := t.db.First(&l, id).Error; err != nil {
		return nil, notFound(err, "listing", id)
	}
	return &l, nil
}

func (t *tx) OpenSiblings(groupID, excludeID uint) ([]model.Listing, error) {
	var out []model.Listing
	err := t.db.Where("group_id = ? AND id <> ? AND status = ?", groupID, excludeID, model.ListingOpen).
		Order("id").
		Find(&out).Error
	return out, err
}

func (t *tx) GroupListings(groupID uint) ([]model.Listing, error) {
	var out []model.Listing
	err := t.db.Where("group_id = ?", groupID).Order("id").Find(&out).Error
	return out, err
}

func (t *tx) CountListings(groupID uint) (int64, error) {
	var n int64
	err := t.db.Model(&model.Listing{}).Where("group_id = ?", groupID).Count(&n).Error
	return n, err
}

func (t *tx) CreateListing(l *model.Listing) error {
	return t.db.Omit("Group").Create(l).Error
}

func (t *tx) SaveListing(l *model.Listing) error {
	return t.db.Omit("Group").Save(l).Error
}

func (t *tx) DeleteListing(l *model.Listing) error {
	return t.db.Delete(&model.Listing{}, l.ID).Error
}

func (t *tx) GetRequest(id uint) (*model.PickupRequest, error) {
	var r model.PickupRequest
	if err := t.db.First(&r, id).Error; err != nil {
		return nil, notFound(err, "pickup request", id)
	}
	return &r, nil
}

func (t *tx) CreateRequest(r *model.PickupRequest) error {
	return t.db.Omit("Listing").Create(r).Error
}

func (t *tx) SaveRequest(r *model.PickupRequest) error {
	return t.db.Omit("Listing").Save(r).Error
}

func (t *tx) CreateInventoryItem(item *model.InventoryItem) error {
	err := t.db.Create(item).Error
	if isUniqueViolation(err) {
		return &ledger.Error{Kind: ledger.ErrConflict, Msg: fmt.Sprintf("pickup request %d already completed", item.SourceRequestID)}
	}
	return err
}

// notFound maps gorm's missing-row error onto the ledger's ErrNotFound.
func notFound(err error, what string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &ledger.Error{Kind: ledger.ErrNotFound, Msg: fmt.Sprintf("%s %d not found", what, id)}
	}
	return err
}
