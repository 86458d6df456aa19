package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"food_rescue/internal/model"
)

// NewListing describes a surplus batch posted by a grocery.
type NewListing struct {
	ProductName string
	Category    string
	Unit        string
	Quantity    int
	ExpiryDate  time.Time
	PickupStart *time.Time
	PickupEnd   *time.Time
}

// ListingUpdate holds the fields a grocery may change on an open shard.
// Nil fields are left untouched. Shards of a group share the group's
// product, category, unit and expiry, so on grouped shards only the quantity
// and pickup window may change.
type ListingUpdate struct {
	Quantity    *int
	ProductName *string
	Category    *string
	Unit        *string
	ExpiryDate  *time.Time
	PickupStart *time.Time
	PickupEnd   *time.Time
}

// CreateListing posts a new batch: one group holding the whole quantity as
// available and one open shard.
func (l *Ledger) CreateListing(ctx context.Context, groceryID uint, in NewListing) (*model.Listing, error) {
	if _, err := l.authorize(ctx, groceryID, model.OrgTypeGrocery); err != nil {
		return nil, err
	}
	in.ProductName = strings.TrimSpace(in.ProductName)
	if in.ProductName == "" {
		return nil, validationf("product name is required")
	}
	if in.Quantity <= 0 {
		return nil, validationf("%s", ErrMsgQuantityPositive)
	}
	if in.ExpiryDate.IsZero() {
		return nil, validationf("expiry date is required")
	}
	if in.ExpiryDate.Before(l.today()) {
		return nil, validationf("expiry date is in the past")
	}
	if err := validatePickupWindow(in.PickupStart, in.PickupEnd); err != nil {
		return nil, err
	}

	listing := &model.Listing{
		GroceryID:   groceryID,
		ProductName: in.ProductName,
		Category:    strings.TrimSpace(in.Category),
		Unit:        strings.TrimSpace(in.Unit),
		ExpiryDate:  in.ExpiryDate,
		PickupStart: in.PickupStart,
		PickupEnd:   in.PickupEnd,
		Quantity:    in.Quantity,
		Status:      model.ListingOpen,
		SplitReason: model.SplitNewListing,
	}
	var group *model.ListingGroup
	err := l.store.WithTx(ctx, func(tx Tx) error {
		group = &model.ListingGroup{
			GroceryID:        groceryID,
			ProductName:      listing.ProductName,
			Category:         listing.Category,
			Unit:             listing.Unit,
			PostedQuantity:   in.Quantity,
			OriginalQuantity: in.Quantity,
			TotalAvailable:   in.Quantity,
		}
		if err := tx.CreateGroup(group); err != nil {
			return err
		}
		listing.GroupID = ptr(group.ID)
		if err := tx.CreateListing(listing); err != nil {
			return err
		}
		group.OriginalListingID = listing.ID
		return l.commitGroup(tx, group)
	})
	if err != nil {
		return nil, err
	}

	l.log.Info().Uint("group", group.ID).Uint("listing", listing.ID).Uint("grocery", groceryID).
		Int("quantity", listing.Quantity).Msg("listing created")
	l.emit(ctx, l.newEvent(EventListingCreated, listing.GroupID, ptr(listing.ID), nil, map[string]any{
		"grocery_id":   groceryID,
		"product_name": listing.ProductName,
		"category":     listing.Category,
		"quantity":     listing.Quantity,
	}))
	return listing, nil
}

// UpdateListing edits an open shard. A quantity change is applied to the
// group's available total and conservation target alike.
func (l *Ledger) UpdateListing(ctx context.Context, groceryID, listingID uint, upd ListingUpdate) (*model.Listing, error) {
	if _, err := l.authorize(ctx, groceryID, model.OrgTypeGrocery); err != nil {
		return nil, err
	}
	peek, err := l.ownedListing(ctx, groceryID, listingID)
	if err != nil {
		return nil, err
	}

	var listing *model.Listing
	var delta int
	err = l.mutate(ctx, groupLockKey(peek.GroupID, peek.ID), func(tx Tx) error {
		listing, err = tx.GetListing(listingID)
		if err != nil {
			return err
		}
		if listing.Status != model.ListingOpen {
			return validationf("%s", ErrMsgListingNotOpen)
		}
		if listing.GroupID != nil && upd.describesStock() {
			return validationf("%s", ErrMsgGroupedFields)
		}
		if err := applyListingUpdate(listing, upd, l.today()); err != nil {
			return err
		}
		if upd.Quantity != nil {
			g, err := l.loadGroup(tx, listing.GroupID)
			if err != nil {
				return err
			}
			if delta, err = l.adjustQuantity(tx, listing, g, *upd.Quantity); err != nil {
				return err
			}
		}
		return tx.SaveListing(listing)
	})
	if err != nil {
		return nil, err
	}

	l.log.Info().Uint("listing", listing.ID).Int("quantity", listing.Quantity).Int("delta", delta).Msg("listing updated")
	l.emit(ctx, l.newEvent(EventListingUpdated, listing.GroupID, ptr(listing.ID), nil, map[string]any{
		"quantity": listing.Quantity,
		"delta":    delta,
		"status":   listing.Status,
	}))
	return listing, nil
}

// DeleteListing withdraws an unreserved shard. Reserved shards cannot be
// deleted until their request completes or is cancelled.
func (l *Ledger) DeleteListing(ctx context.Context, groceryID, listingID uint) error {
	if _, err := l.authorize(ctx, groceryID, model.OrgTypeGrocery); err != nil {
		return err
	}
	peek, err := l.ownedListing(ctx, groceryID, listingID)
	if err != nil {
		return err
	}

	var listing *model.Listing
	var groupDeleted bool
	err = l.mutate(ctx, groupLockKey(peek.GroupID, peek.ID), func(tx Tx) error {
		listing, err = tx.GetListing(listingID)
		if err != nil {
			return err
		}
		g, err := l.loadGroup(tx, listing.GroupID)
		if err != nil {
			return err
		}
		groupDeleted, err = l.releaseOnDelete(tx, listing, g)
		return err
	})
	if err != nil {
		return err
	}

	l.log.Info().Uint("listing", listing.ID).Int("quantity", listing.Quantity).Bool("group_deleted", groupDeleted).
		Msg("listing deleted")
	l.emit(ctx, l.newEvent(EventListingDeleted, listing.GroupID, ptr(listing.ID), nil, map[string]any{
		"quantity":      listing.Quantity,
		"group_deleted": groupDeleted,
	}))
	return nil
}

// ExpireListings flips open shards whose expiry date is before today to
// expired. Group totals are unchanged. Returns how many shards expired.
func (l *Ledger) ExpireListings(ctx context.Context) (int, error) {
	today := l.today()
	candidates, err := l.store.ListExpiredOpen(ctx, today)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, c := range candidates {
		var listing *model.Listing
		err := l.mutate(ctx, groupLockKey(c.GroupID, c.ID), func(tx Tx) error {
			listing, err = tx.GetListing(c.ID)
			if err != nil {
				return err
			}
			if listing.Status != model.ListingOpen || !listing.ExpiryDate.Before(today) {
				listing = nil
				return nil
			}
			listing.Status = model.ListingExpired
			return tx.SaveListing(listing)
		})
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return expired, err
		}
		if listing == nil {
			continue
		}
		expired++
		l.emit(ctx, l.newEvent(EventListingUpdated, listing.GroupID, ptr(listing.ID), nil, map[string]any{
			"status":   listing.Status,
			"quantity": listing.Quantity,
		}))
	}
	if expired > 0 {
		l.log.Info().Int("count", expired).Msg("listings expired")
	}
	return expired, nil
}

// AuditReport compares a group's running totals with its shards.
type AuditReport struct {
	Group             model.ListingGroup `json:"group"`
	Listings          int                `json:"listings"`
	AvailableInShards int                `json:"available_in_shards"`
	ReservedInShards  int                `json:"reserved_in_shards"`
	Problems          []string           `json:"problems"`
}

func (r *AuditReport) OK() bool { return len(r.Problems) == 0 }

// Audit recomputes a group's totals from its shards.
func (l *Ledger) Audit(ctx context.Context, groupID uint) (*AuditReport, error) {
	report := &AuditReport{Problems: []string{}}
	err := l.store.WithTx(ctx, func(tx Tx) error {
		g, err := tx.GetGroup(groupID)
		if err != nil {
			return err
		}
		listings, err := tx.GroupListings(groupID)
		if err != nil {
			return err
		}
		report.Group = *g
		report.Listings = len(listings)
		for _, s := range listings {
			if s.Status == model.ListingReserved {
				report.ReservedInShards += s.Quantity
			} else {
				report.AvailableInShards += s.Quantity
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	g := report.Group
	if err := g.CheckConservation(); err != nil {
		report.Problems = append(report.Problems, err.Error())
	}
	if report.AvailableInShards != g.TotalAvailable {
		report.Problems = append(report.Problems, "available shards do not match total_available")
	}
	if report.ReservedInShards != g.TotalReserved {
		report.Problems = append(report.Problems, "reserved shards do not match total_reserved")
	}
	if !report.OK() {
		l.log.Error().Uint("group", groupID).Strs("problems", report.Problems).Msg("group audit failed")
	}
	return report, nil
}

// ownedListing reads a listing outside the lock to pick its lock key.
// Listings owned by another grocery are reported as missing.
func (l *Ledger) ownedListing(ctx context.Context, groceryID, listingID uint) (*model.Listing, error) {
	listing, err := l.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.GroceryID != groceryID {
		return nil, notFoundf("listing %d not found", listingID)
	}
	return listing, nil
}

func (u ListingUpdate) describesStock() bool {
	return u.ProductName != nil || u.Category != nil || u.Unit != nil || u.ExpiryDate != nil
}

func applyListingUpdate(listing *model.Listing, upd ListingUpdate, today time.Time) error {
	if upd.ProductName != nil {
		name := strings.TrimSpace(*upd.ProductName)
		if name == "" {
			return validationf("product name is required")
		}
		listing.ProductName = name
	}
	if upd.Category != nil {
		listing.Category = strings.TrimSpace(*upd.Category)
	}
	if upd.Unit != nil {
		listing.Unit = strings.TrimSpace(*upd.Unit)
	}
	if upd.ExpiryDate != nil {
		if upd.ExpiryDate.Before(today) {
			return validationf("expiry date is in the past")
		}
		listing.ExpiryDate = *upd.ExpiryDate
	}
	if upd.PickupStart != nil {
		listing.PickupStart = upd.PickupStart
	}
	if upd.PickupEnd != nil {
		listing.PickupEnd = upd.PickupEnd
	}
	return validatePickupWindow(listing.PickupStart, listing.PickupEnd)
}

func validatePickupWindow(start, end *time.Time) error {
	if start != nil && end != nil && !end.After(*start) {
		return validationf("pickup window end must be after its start")
	}
	return nil
}
