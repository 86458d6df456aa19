package ledger

import (
	"fmt"

	"food_rescue/internal/model"
)

// reserve moves qty of src from available to reserved for req. Requesting
// the whole shard flips src itself; requesting less splits a new reserved
// shard off src. req is created pending and pointed at the reserved shard.
// A nil group is a legacy listing without totals.
func (l *Ledger) reserve(tx Tx, src *model.Listing, g *model.ListingGroup, qty int, req *model.PickupRequest) (*model.Listing, error) {
	if src.Status != model.ListingOpen || qty <= 0 || qty > src.Quantity {
		return nil, invariantf("reserve %d from listing %d (%s, quantity %d) is not allowed", qty, src.ID, src.Status, src.Quantity)
	}
	if g != nil && g.TotalAvailable < qty {
		return nil, invariantf("group %d has %d available, cannot reserve %d", g.ID, g.TotalAvailable, qty)
	}

	reserved := src
	if qty < src.Quantity {
		reserved = &model.Listing{
			GroupID:            src.GroupID,
			GroceryID:          src.GroceryID,
			ProductName:        src.ProductName,
			Category:           src.Category,
			Unit:               src.Unit,
			ExpiryDate:         src.ExpiryDate,
			PickupStart:        src.PickupStart,
			PickupEnd:          src.PickupEnd,
			Quantity:           qty,
			Status:             model.ListingReserved,
			SplitReason:        model.SplitPartialRequest,
			SplitFromListingID: ptr(src.ID),
		}
		if err := tx.CreateListing(reserved); err != nil {
			return nil, err
		}
		src.Quantity -= qty
		if err := tx.SaveListing(src); err != nil {
			return nil, err
		}
	}

	req.GroupID = src.GroupID
	req.ListingID = ptr(reserved.ID)
	req.GroceryID = src.GroceryID
	req.RequestedQuantity = qty
	req.Status = model.RequestPending
	req.ListingTitle = src.Title()
	req.ListingCategory = src.Category
	if err := tx.CreateRequest(req); err != nil {
		return nil, err
	}

	reserved.Status = model.ListingReserved
	reserved.RelatedRequestID = ptr(req.ID)
	if err := tx.SaveListing(reserved); err != nil {
		return nil, err
	}

	if g != nil {
		g.TotalAvailable -= qty
		g.TotalReserved += qty
		if err := l.commitGroup(tx, g); err != nil {
			return nil, err
		}
	}
	return reserved, nil
}

// mergeOnCancel returns a released reservation to the available pool. The
// lowest-id open sibling describing the same stock absorbs the quantity and
// the shard is deleted; otherwise the shard itself reopens, as expired if its
// expiry day has passed. The owning request must already be detached.
// Returns the listing now holding the quantity and whether shard was
// deleted.
func (l *Ledger) mergeOnCancel(tx Tx, shard *model.Listing, g *model.ListingGroup) (*model.Listing, bool, error) {
	if shard.Status != model.ListingReserved {
		return nil, false, invariantf("listing %d is %s, expected reserved", shard.ID, shard.Status)
	}
	qty := shard.Quantity

	var target *model.Listing
	if shard.GroupID != nil {
		siblings, err := tx.OpenSiblings(*shard.GroupID, shard.ID)
		if err != nil {
			return nil, false, err
		}
		for i := range siblings {
			if sameStock(&siblings[i], shard) {
				target = &siblings[i]
				break
			}
		}
	}

	deleted := false
	if target != nil {
		target.Quantity += qty
		target.SplitReason = model.SplitMerge
		if err := tx.SaveListing(target); err != nil {
			return nil, false, err
		}
		if err := tx.DeleteListing(shard); err != nil {
			return nil, false, err
		}
		deleted = true
	} else {
		shard.Status = model.ListingOpen
		if shard.ExpiryDate.Before(l.today()) {
			shard.Status = model.ListingExpired
		}
		shard.RelatedRequestID = nil
		shard.SplitReason = model.SplitCancelRestore
		if err := tx.SaveListing(shard); err != nil {
			return nil, false, err
		}
		target = shard
	}

	if g != nil {
		g.TotalReserved -= qty
		g.TotalAvailable += qty
		if err := l.commitGroup(tx, g); err != nil {
			return nil, false, err
		}
	}
	return target, deleted, nil
}

// sameStock reports whether two shards describe the same product, category,
// unit and expiry, so their quantities may be added.
func sameStock(a, b *model.Listing) bool {
	return a.ProductName == b.ProductName &&
		a.Category == b.Category &&
		a.Unit == b.Unit &&
		a.ExpiryDate.Equal(b.ExpiryDate)
}

// completePickup hands the reserved shard over to the requesting NGO.
//
// It runs in two phases: first the request is detached from the shard
// (listing_id cleared and saved), then the shard and, if nothing is left,
// the group are deleted. Reversing the phases would leave the request
// pointing at a deleted listing. Returns the NGO inventory record and
// whether the group was deleted.
func (l *Ledger) completePickup(tx Tx, shard *model.Listing, g *model.ListingGroup, req *model.PickupRequest) (*model.InventoryItem, bool, error) {
	if shard.Status != model.ListingReserved || shard.RelatedRequestID == nil || *shard.RelatedRequestID != req.ID {
		return nil, false, invariantf("listing %d is not reserved by request %d", shard.ID, req.ID)
	}
	qty := shard.Quantity
	if qty != req.RequestedQuantity {
		return nil, false, invariantf("listing %d holds %d but request %d claims %d", shard.ID, qty, req.ID, req.RequestedQuantity)
	}
	now := l.now()

	item := &model.InventoryItem{
		NgoID:           req.NgoID,
		SourceRequestID: req.ID,
		ProductName:     shard.ProductName,
		Category:        shard.Category,
		Unit:            shard.Unit,
		Quantity:        qty,
		ExpiryDate:      shard.ExpiryDate,
		ReceivedAt:      now,
	}
	if err := tx.CreateInventoryItem(item); err != nil {
		return nil, false, err
	}

	// Phase 1: detach.
	req.ListingID = nil
	req.Status = model.RequestCompleted
	req.CompletedAt = &now
	if err := tx.SaveRequest(req); err != nil {
		return nil, false, err
	}

	if g != nil {
		g.TotalReserved -= qty
		g.TotalCompleted += qty
		g.RefreshConsumed()
	}

	// Phase 2: delete.
	if err := tx.DeleteListing(shard); err != nil {
		return nil, false, err
	}
	if g == nil {
		return item, false, nil
	}
	groupDeleted, err := l.retireGroupIfEmpty(tx, g, true)
	if err != nil {
		return nil, false, err
	}
	return item, groupDeleted, nil
}

// releaseOnDelete withdraws an open or expired shard that no request holds.
// The withdrawn quantity leaves the batch, so OriginalQuantity shrinks with
// TotalAvailable. The group is deleted once no shard references it.
func (l *Ledger) releaseOnDelete(tx Tx, shard *model.Listing, g *model.ListingGroup) (bool, error) {
	if shard.Status == model.ListingReserved {
		return false, validationf("%s", ErrMsgListingReserved)
	}
	if err := tx.DeleteListing(shard); err != nil {
		return false, err
	}
	if g == nil {
		return false, nil
	}
	g.TotalAvailable -= shard.Quantity
	g.OriginalQuantity -= shard.Quantity
	g.RefreshConsumed()
	return l.retireGroupIfEmpty(tx, g, false)
}

// adjustQuantity applies a grocery correction to an open shard.
func (l *Ledger) adjustQuantity(tx Tx, shard *model.Listing, g *model.ListingGroup, qty int) (int, error) {
	if shard.Status != model.ListingOpen {
		return 0, validationf("%s", ErrMsgListingNotOpen)
	}
	if qty <= 0 {
		return 0, validationf("%s", ErrMsgQuantityPositive)
	}
	delta := qty - shard.Quantity
	shard.Quantity = qty
	if g != nil {
		g.TotalAvailable += delta
		g.OriginalQuantity += delta
		g.RefreshConsumed()
		if err := l.commitGroup(tx, g); err != nil {
			return 0, err
		}
	}
	return delta, nil
}

// retireGroupIfEmpty deletes g when no shard references it (and, when
// requireConsumed is set, only if it is fully consumed); otherwise it
// writes g back.
func (l *Ledger) retireGroupIfEmpty(tx Tx, g *model.ListingGroup, requireConsumed bool) (bool, error) {
	if err := g.CheckConservation(); err != nil {
		return false, invariantf("%v", err)
	}
	remaining, err := tx.CountListings(g.ID)
	if err != nil {
		return false, fmt.Errorf("counting listings of group %d: %w", g.ID, err)
	}
	if remaining == 0 && (g.FullyConsumed || !requireConsumed) {
		return true, tx.DeleteGroup(g)
	}
	return false, tx.SaveGroup(g)
}
