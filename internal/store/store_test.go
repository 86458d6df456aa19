package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"food_rescue/internal/database"
	"food_rescue/internal/ledger"
	"food_rescue/internal/model"

	"gorm.io/datatypes"
)

func seedGroup(t *testing.T, s *Store, quantities ...int) (*model.ListingGroup, []model.Listing) {
	t.Helper()
	ctx := context.Background()
	total := 0
	for _, q := range quantities {
		total += q
	}

	var group *model.ListingGroup
	var listings []model.Listing
	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		group = &model.ListingGroup{
			GroceryID:        1,
			ProductName:      "Bread",
			PostedQuantity:   total,
			OriginalQuantity: total,
			TotalAvailable:   total,
		}
		if err := tx.CreateGroup(group); err != nil {
			return err
		}
		for _, q := range quantities {
			l := model.Listing{
				GroupID:     &group.ID,
				GroceryID:   1,
				ProductName: "Bread",
				ExpiryDate:  time.Now().Add(48 * time.Hour),
				Quantity:    q,
				Status:      model.ListingOpen,
			}
			if err := tx.CreateListing(&l); err != nil {
				return err
			}
			listings = append(listings, l)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seeding group: %v", err)
	}
	return group, listings
}

func TestGetMissingRowsWrapNotFound(t *testing.T) {
	s := New(database.NewTestDB(t))
	ctx := context.Background()

	if _, err := s.GetListing(ctx, 42); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("GetListing() error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetRequest(ctx, 42); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("GetRequest() error = %v, want ErrNotFound", err)
	}
	if _, err := s.FindOrganization(ctx, 42); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("FindOrganization() error = %v, want ErrNotFound", err)
	}
	if _, err := s.VerifyOrganization(ctx, 42); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("VerifyOrganization() error = %v, want ErrNotFound", err)
	}
}

func TestSaveGroupDetectsStaleVersion(t *testing.T) {
	s := New(database.NewTestDB(t))
	ctx := context.Background()
	group, _ := seedGroup(t, s, 10)

	stale := *group
	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		group.TotalAvailable, group.TotalReserved = 6, 4
		return tx.SaveGroup(group)
	})
	if err != nil {
		t.Fatalf("SaveGroup() error = %v", err)
	}
	if group.Version != 1 {
		t.Errorf("expected version 1 after save, got %d", group.Version)
	}

	err = s.WithTx(ctx, func(tx ledger.Tx) error {
		stale.TotalAvailable, stale.TotalReserved = 0, 10
		return tx.SaveGroup(&stale)
	})
	if !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("stale SaveGroup() error = %v, want ErrConflict", err)
	}

	got, err := s.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup() error = %v", err)
	}
	if got.TotalAvailable != 6 || got.TotalReserved != 4 {
		t.Errorf("stale write leaked: available=%d reserved=%d", got.TotalAvailable, got.TotalReserved)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := New(database.NewTestDB(t))
	ctx := context.Background()
	_, listings := seedGroup(t, s, 5)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		l := listings[0]
		l.Quantity = 1
		if err := tx.SaveListing(&l); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx() error = %v, want boom", err)
	}

	got, err := s.GetListing(ctx, listings[0].ID)
	if err != nil {
		t.Fatalf("GetListing() error = %v", err)
	}
	if got.Quantity != 5 {
		t.Errorf("expected rollback to keep quantity 5, got %d", got.Quantity)
	}
}

func TestOpenSiblingsOrderAndFilter(t *testing.T) {
	s := New(database.NewTestDB(t))
	ctx := context.Background()
	group, listings := seedGroup(t, s, 3, 4, 5, 6)

	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		reserved := listings[1]
		reserved.Status = model.ListingReserved
		if err := tx.SaveListing(&reserved); err != nil {
			return err
		}

		siblings, err := tx.OpenSiblings(group.ID, listings[0].ID)
		if err != nil {
			return err
		}
		if len(siblings) != 2 {
			t.Fatalf("expected 2 open siblings, got %d", len(siblings))
		}
		if siblings[0].ID != listings[2].ID || siblings[1].ID != listings[3].ID {
			t.Errorf("expected siblings ordered by id, got %d, %d", siblings[0].ID, siblings[1].ID)
		}

		n, err := tx.CountListings(group.ID)
		if err != nil {
			return err
		}
		if n != 4 {
			t.Errorf("CountListings() = %d, want 4", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}
}

func TestListExpiredOpen(t *testing.T) {
	s := New(database.NewTestDB(t))
	ctx := context.Background()
	_, listings := seedGroup(t, s, 2, 3)

	cutoff := time.Now().Add(72 * time.Hour)
	got, err := s.ListExpiredOpen(ctx, cutoff)
	if err != nil {
		t.Fatalf("ListExpiredOpen() error = %v", err)
	}
	if len(got) != len(listings) {
		t.Errorf("expected %d listings before cutoff, got %d", len(listings), len(got))
	}

	got, err = s.ListExpiredOpen(ctx, time.Now())
	if err != nil {
		t.Fatalf("ListExpiredOpen() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no expired listings, got %d", len(got))
	}
}

func TestRecordEventIgnoresDuplicates(t *testing.T) {
	s := New(database.NewTestDB(t))
	ctx := context.Background()

	gid := uint(7)
	e := model.ListingEvent{
		EventID:    "evt-1",
		EventType:  "listing.created",
		GroupID:    &gid,
		EventData:  datatypes.JSON(`{"quantity":10}`),
		OccurredAt: time.Now(),
	}
	first := e
	written, err := s.RecordEvent(ctx, &first)
	if err != nil || !written {
		t.Fatalf("first RecordEvent() = %v, %v", written, err)
	}
	dup := e
	written, err = s.RecordEvent(ctx, &dup)
	if err != nil {
		t.Fatalf("duplicate RecordEvent() error = %v", err)
	}
	if written {
		t.Error("expected duplicate event to be skipped")
	}

	events, err := s.GroupEvents(ctx, gid)
	if err != nil {
		t.Fatalf("GroupEvents() error = %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 stored event, got %d", len(events))
	}
}

func TestListRequestsScopedToParty(t *testing.T) {
	db := database.NewTestDB(t)
	s := New(db)
	ctx := context.Background()

	for _, r := range []model.PickupRequest{
		{NgoID: 10, GroceryID: 1, RequestedQuantity: 1, Status: model.RequestPending, PickupDate: time.Now()},
		{NgoID: 11, GroceryID: 1, RequestedQuantity: 2, Status: model.RequestPending, PickupDate: time.Now()},
		{NgoID: 10, GroceryID: 2, RequestedQuantity: 3, Status: model.RequestCancelled, PickupDate: time.Now()},
	} {
		if err := db.Create(&r).Error; err != nil {
			t.Fatalf("creating request: %v", err)
		}
	}

	ngo := &model.Organization{ID: 10, Type: model.OrgTypeNGO}
	got, err := s.ListRequests(ctx, ngo, "", 0, 0)
	if err != nil {
		t.Fatalf("ListRequests() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 requests for ngo, got %d", len(got))
	}

	grocery := &model.Organization{ID: 1, Type: model.OrgTypeGrocery}
	got, err = s.ListRequests(ctx, grocery, model.RequestPending, 0, 0)
	if err != nil {
		t.Fatalf("ListRequests() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 pending requests for grocery, got %d", len(got))
	}
}
