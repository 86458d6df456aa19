package ledger

import (
	"context"
	"strings"
	"time"

	"food_rescue/internal/model"
)

// RequestMeta carries the NGO-supplied details of a pickup request.
type RequestMeta struct {
	PickupDate time.Time
	Notes      string
}

// Reservation is the result of a successful Reserve.
type Reservation struct {
	Request  *model.PickupRequest `json:"request"`
	Reserved *model.Listing       `json:"reserved_listing"`
	// Source is the open shard the reservation was split from; nil when the
	// whole shard was reserved.
	Source *model.Listing `json:"source_listing,omitempty"`
}

// Reserve claims qty of an open listing for an NGO and opens a pending
// pickup request on the reserved portion.
func (l *Ledger) Reserve(ctx context.Context, ngoID, listingID uint, qty int, meta RequestMeta) (*Reservation, error) {
	if _, err := l.authorize(ctx, ngoID, model.OrgTypeNGO); err != nil {
		return nil, err
	}
	if qty <= 0 {
		return nil, validationf("%s", ErrMsgQuantityPositive)
	}
	if meta.PickupDate.IsZero() {
		return nil, validationf("pickup date is required")
	}
	peek, err := l.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}

	var res *Reservation
	err = l.mutate(ctx, groupLockKey(peek.GroupID, peek.ID), func(tx Tx) error {
		src, err := tx.GetListing(listingID)
		if err != nil {
			return err
		}
		if src.Status != model.ListingOpen {
			return validationf("%s", ErrMsgListingNotOpen)
		}
		if qty > src.Quantity {
			return validationf("requested quantity %d exceeds available quantity %d", qty, src.Quantity)
		}
		pickupDay := startOfDay(meta.PickupDate)
		if pickupDay.Before(l.today()) || pickupDay.After(startOfDay(src.ExpiryDate)) {
			return validationf("%s", ErrMsgPickupDate)
		}
		g, err := l.loadGroup(tx, src.GroupID)
		if err != nil {
			return err
		}

		req := &model.PickupRequest{
			NgoID:      ngoID,
			PickupDate: meta.PickupDate,
			Notes:      strings.TrimSpace(meta.Notes),
		}
		reserved, err := l.reserve(tx, src, g, qty, req)
		if err != nil {
			return err
		}
		res = &Reservation{Request: req, Reserved: reserved}
		if reserved.ID != src.ID {
			res.Source = src
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	req := res.Request
	l.log.Info().Uint("request", req.ID).Uint("ngo", ngoID).Uint("listing", res.Reserved.ID).
		Int("quantity", qty).Bool("split", res.Source != nil).Msg("listing reserved")

	events := []Event{l.newEvent(EventRequestCreated, req.GroupID, req.ListingID, ptr(req.ID), map[string]any{
		"ngo_id":     req.NgoID,
		"grocery_id": req.GroceryID,
		"quantity":   req.RequestedQuantity,
		"status":     req.Status,
	})}
	if res.Source != nil {
		events = append(events, l.newEvent(EventListingSplit, req.GroupID, ptr(res.Source.ID), ptr(req.ID), map[string]any{
			"source_listing_id":   res.Source.ID,
			"source_quantity":     res.Source.Quantity,
			"reserved_listing_id": res.Reserved.ID,
			"reserved_quantity":   res.Reserved.Quantity,
		}))
	} else {
		events = append(events, l.newEvent(EventListingUpdated, req.GroupID, ptr(res.Reserved.ID), ptr(req.ID), map[string]any{
			"status":   res.Reserved.Status,
			"quantity": res.Reserved.Quantity,
		}))
	}
	l.emit(ctx, events...)
	return res, nil
}

// Approve moves a pending request to approved. Owning grocery only.
func (l *Ledger) Approve(ctx context.Context, groceryID, requestID uint) (*model.PickupRequest, error) {
	return l.advance(ctx, groceryID, requestID, model.RequestApproved, model.OrgTypeGrocery)
}

// MarkReady moves an approved request to ready. Owning grocery only.
func (l *Ledger) MarkReady(ctx context.Context, groceryID, requestID uint) (*model.PickupRequest, error) {
	return l.advance(ctx, groceryID, requestID, model.RequestReady, model.OrgTypeGrocery)
}

// Completion is the result of a successful Complete.
type Completion struct {
	Request      *model.PickupRequest `json:"request"`
	Inventory    *model.InventoryItem `json:"inventory_item"`
	GroupDeleted bool                 `json:"group_deleted"`
}

// Complete records the physical handover of a ready request. Either the
// owning grocery or the requesting NGO may complete it.
func (l *Ledger) Complete(ctx context.Context, orgID, requestID uint) (*Completion, error) {
	org, err := l.authorize(ctx, orgID, model.OrgTypeGrocery, model.OrgTypeNGO)
	if err != nil {
		return nil, err
	}
	peek, err := l.visibleRequest(ctx, org, requestID)
	if err != nil {
		return nil, err
	}

	var out *Completion
	var listingID uint
	err = l.mutate(ctx, requestLockKey(peek), func(tx Tx) error {
		req, err := l.loadTransition(tx, org, requestID, model.RequestCompleted)
		if err != nil {
			return err
		}
		shard, g, err := l.loadReservedShard(tx, req)
		if err != nil {
			return err
		}
		listingID = shard.ID
		item, groupDeleted, err := l.completePickup(tx, shard, g, req)
		if err != nil {
			return err
		}
		out = &Completion{Request: req, Inventory: item, GroupDeleted: groupDeleted}
		return nil
	})
	if err != nil {
		return nil, err
	}

	req := out.Request
	l.log.Info().Uint("request", req.ID).Uint("ngo", req.NgoID).Int("quantity", req.RequestedQuantity).
		Bool("group_deleted", out.GroupDeleted).Msg("pickup completed")
	l.emit(ctx,
		l.newEvent(EventRequestStatusChanged, req.GroupID, ptr(listingID), ptr(req.ID), map[string]any{
			"status":   req.Status,
			"quantity": req.RequestedQuantity,
		}),
		l.newEvent(EventListingDeleted, req.GroupID, ptr(listingID), ptr(req.ID), map[string]any{
			"quantity":      req.RequestedQuantity,
			"group_deleted": out.GroupDeleted,
		}),
	)
	return out, nil
}

// Cancel withdraws a live request. Requesting NGO only.
func (l *Ledger) Cancel(ctx context.Context, ngoID, requestID uint) (*model.PickupRequest, error) {
	return l.release(ctx, ngoID, requestID, model.RequestCancelled, model.OrgTypeNGO)
}

// Reject declines a pending request. Owning grocery only.
func (l *Ledger) Reject(ctx context.Context, groceryID, requestID uint) (*model.PickupRequest, error) {
	return l.release(ctx, groceryID, requestID, model.RequestRejected, model.OrgTypeGrocery)
}

// release closes a request as cancelled or rejected and merges its
// reserved quantity back into the available pool. The request row is kept
// with its terminal status; it is detached from the shard first so the
// merge may delete the shard.
func (l *Ledger) release(ctx context.Context, orgID, requestID uint, status model.RequestStatus, orgType model.OrgType) (*model.PickupRequest, error) {
	org, err := l.authorize(ctx, orgID, orgType)
	if err != nil {
		return nil, err
	}
	peek, err := l.visibleRequest(ctx, org, requestID)
	if err != nil {
		return nil, err
	}

	var req *model.PickupRequest
	var released, holder *model.Listing
	var shardDeleted bool
	err = l.mutate(ctx, requestLockKey(peek), func(tx Tx) error {
		req, err = l.loadTransition(tx, org, requestID, status)
		if err != nil {
			return err
		}
		shard, g, err := l.loadReservedShard(tx, req)
		if err != nil {
			return err
		}
		released = shard

		now := l.now()
		req.ListingID = nil
		req.Status = status
		req.ClosedAt = &now
		if err := tx.SaveRequest(req); err != nil {
			return err
		}

		holder, shardDeleted, err = l.mergeOnCancel(tx, shard, g)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.log.Info().Uint("request", req.ID).Str("status", string(req.Status)).Uint("released_listing", released.ID).
		Uint("into_listing", holder.ID).Int("quantity", req.RequestedQuantity).Msg("reservation released")

	events := []Event{l.newEvent(EventRequestStatusChanged, req.GroupID, ptr(released.ID), ptr(req.ID), map[string]any{
		"status":   req.Status,
		"quantity": req.RequestedQuantity,
	})}
	if shardDeleted {
		events = append(events, l.newEvent(EventListingDeleted, req.GroupID, ptr(released.ID), ptr(req.ID), map[string]any{
			"merged_into": holder.ID,
			"quantity":    req.RequestedQuantity,
		}))
	}
	events = append(events, l.newEvent(EventListingUpdated, req.GroupID, ptr(holder.ID), nil, map[string]any{
		"status":       holder.Status,
		"quantity":     holder.Quantity,
		"split_reason": holder.SplitReason,
	}))
	l.emit(ctx, events...)
	return req, nil
}

// advance applies a transition that touches only the request row.
func (l *Ledger) advance(ctx context.Context, orgID, requestID uint, next model.RequestStatus, orgType model.OrgType) (*model.PickupRequest, error) {
	org, err := l.authorize(ctx, orgID, orgType)
	if err != nil {
		return nil, err
	}
	peek, err := l.visibleRequest(ctx, org, requestID)
	if err != nil {
		return nil, err
	}

	var req *model.PickupRequest
	err = l.mutate(ctx, requestLockKey(peek), func(tx Tx) error {
		req, err = l.loadTransition(tx, org, requestID, next)
		if err != nil {
			return err
		}
		now := l.now()
		req.Status = next
		switch next {
		case model.RequestApproved:
			req.ApprovedAt = &now
		case model.RequestReady:
			req.ReadyAt = &now
		}
		return tx.SaveRequest(req)
	})
	if err != nil {
		return nil, err
	}

	l.log.Info().Uint("request", req.ID).Str("status", string(req.Status)).Msg("request status changed")
	l.emit(ctx, l.newEvent(EventRequestStatusChanged, req.GroupID, req.ListingID, ptr(req.ID), map[string]any{
		"status": req.Status,
	}))
	return req, nil
}

// loadTransition re-reads a request inside the transaction and checks the
// caller may move it to next.
func (l *Ledger) loadTransition(tx Tx, org *model.Organization, requestID uint, next model.RequestStatus) (*model.PickupRequest, error) {
	req, err := tx.GetRequest(requestID)
	if err != nil {
		return nil, err
	}
	if !canSee(org, req) {
		return nil, notFoundf("pickup request %d not found", requestID)
	}
	if !req.Status.CanTransitionTo(next) {
		return nil, validationf("pickup request %d is %s and cannot become %s", req.ID, req.Status, next)
	}
	return req, nil
}

func (l *Ledger) loadReservedShard(tx Tx, req *model.PickupRequest) (*model.Listing, *model.ListingGroup, error) {
	if req.ListingID == nil {
		return nil, nil, invariantf("live pickup request %d has no listing", req.ID)
	}
	shard, err := tx.GetListing(*req.ListingID)
	if err != nil {
		return nil, nil, err
	}
	g, err := l.loadGroup(tx, shard.GroupID)
	if err != nil {
		return nil, nil, err
	}
	return shard, g, nil
}

// visibleRequest reads a request outside the lock to pick its lock key.
func (l *Ledger) visibleRequest(ctx context.Context, org *model.Organization, requestID uint) (*model.PickupRequest, error) {
	req, err := l.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !canSee(org, req) {
		return nil, notFoundf("pickup request %d not found", requestID)
	}
	return req, nil
}

// canSee reports whether org is a party to req in the role its type allows.
func canSee(org *model.Organization, req *model.PickupRequest) bool {
	switch org.Type {
	case model.OrgTypeGrocery:
		return req.GroceryID == org.ID
	case model.OrgTypeNGO:
		return req.NgoID == org.ID
	}
	return false
}

func requestLockKey(req *model.PickupRequest) string {
	var listingID uint
	if req.ListingID != nil {
		listingID = *req.ListingID
	}
	return groupLockKey(req.GroupID, listingID)
}
