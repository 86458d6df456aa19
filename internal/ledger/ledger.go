// Package ledger keeps a donation batch's quantity consistent while its
// listing is split into reserved shards by pickup requests and merged back
// when requests are cancelled or rejected.
package ledger

import (
	"context"
	"errors"
	"slices"
	"time"

	"food_rescue/internal/model"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Ledger runs every quantity-changing operation under a per-group lock and
// inside one store transaction, then emits events for what committed.
type Ledger struct {
	store  Store
	dir    Directory
	locker Locker
	sink   EventSink
	now    func() time.Time
	log    zerolog.Logger
}

type Option func(*Ledger)

func WithLocker(locker Locker) Option { return func(l *Ledger) { l.locker = locker } }

func WithEventSink(sink EventSink) Option { return func(l *Ledger) { l.sink = sink } }

func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

func WithLogger(logger zerolog.Logger) Option { return func(l *Ledger) { l.log = logger } }

func New(store Store, dir Directory, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		dir:    dir,
		locker: NewLocalLocker(),
		sink:   NopSink{},
		now:    time.Now,
		log:    log.Logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// authorize resolves the caller and checks it is a verified organization of
// one of the given types. It runs before any ledger state is read.
func (l *Ledger) authorize(ctx context.Context, orgID uint, types ...model.OrgType) (*model.Organization, error) {
	if orgID == 0 {
		return nil, forbiddenf("organization id is required")
	}
	org, err := l.dir.FindOrganization(ctx, orgID)
	if errors.Is(err, ErrNotFound) {
		return nil, forbiddenf("unknown organization %d", orgID)
	}
	if err != nil {
		return nil, err
	}
	if !slices.Contains(types, org.Type) {
		return nil, forbiddenf("organization %d (%s) may not perform this operation", org.ID, org.Type)
	}
	if !org.Verified {
		return nil, forbiddenf("organization %d is not verified", org.ID)
	}
	return org, nil
}

// mutate serializes fn with every other mutation of the same group.
func (l *Ledger) mutate(ctx context.Context, key string, fn func(tx Tx) error) error {
	unlock, err := l.locker.Lock(ctx, key)
	if err != nil {
		return conflictf("%s is busy: %v", key, err)
	}
	defer unlock()

	err = l.store.WithTx(ctx, fn)
	if errors.Is(err, ErrInvariant) {
		l.log.Error().Err(err).Str("lock", key).Msg("ledger invariant violated, transaction rolled back")
	}
	return err
}

// commitGroup checks conservation before writing the group back.
func (l *Ledger) commitGroup(tx Tx, g *model.ListingGroup) error {
	if err := g.CheckConservation(); err != nil {
		return invariantf("%v", err)
	}
	return tx.SaveGroup(g)
}

func (l *Ledger) loadGroup(tx Tx, groupID *uint) (*model.ListingGroup, error) {
	if groupID == nil {
		return nil, nil
	}
	g, err := tx.GetGroup(*groupID)
	if errors.Is(err, ErrNotFound) {
		return nil, invariantf("listing references missing group %d", *groupID)
	}
	return g, err
}

func (l *Ledger) today() time.Time {
	return startOfDay(l.now())
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func ptr[T any](v T) *T { return &v }
