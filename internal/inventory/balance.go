package inventory

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/erazemk/zaloga/internal/clock"
	"github.com/erazemk/zaloga/internal/lock"
	"github.com/erazemk/zaloga/internal/metrics"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
)

// BalanceStore answers stock level queries and owns the per-key locks that
// serialize every balance write.
type BalanceStore struct {
	db      *sql.DB
	dir     Directory
	locks   *lock.Table[model.BalanceKey]
	clock   clock.Clock
	metrics *metrics.Metrics
}

// NewBalanceStore returns a balance store over db.
func NewBalanceStore(db *sql.DB, dir Directory, locks *lock.Table[model.BalanceKey], clk clock.Clock, m *metrics.Metrics) *BalanceStore {
	return &BalanceStore{db: db, dir: dir, locks: locks, clock: clk, metrics: m}
}

// Get returns the balance of an item at a location. A pair that never held
// stock has a zero balance.
func (s *BalanceStore) Get(ctx context.Context, itemID, locationID int64) (model.Balance, error) {
	return store.GetBalance(ctx, s.db, model.BalanceKey{ItemID: itemID, LocationID: locationID})
}

// Total returns the quantity of an item summed over all locations.
func (s *BalanceStore) Total(ctx context.Context, itemID int64) (int, error) {
	return store.TotalStock(ctx, s.db, itemID)
}

// List returns balances filtered by item and/or location; zero matches any.
func (s *BalanceStore) List(ctx context.Context, itemID, locationID int64) ([]model.Balance, error) {
	return store.ListBalances(ctx, s.db, itemID, locationID)
}

// Valuation returns the value of the stock held for an item, optionally at
// one location, at the item's current unit cost.
func (s *BalanceStore) Valuation(ctx context.Context, itemID, locationID int64) (decimal.Decimal, error) {
	item, err := s.dir.Item(ctx, itemID)
	if err != nil {
		return decimal.Zero, err
	}
	balances, err := s.List(ctx, itemID, locationID)
	if err != nil {
		return decimal.Zero, err
	}

	units := int64(0)
	for _, b := range balances {
		units += int64(b.Quantity)
	}
	return item.UnitCost.Mul(decimal.NewFromInt(units)), nil
}

// Reserve earmarks quantity units at a location. Reserved units stay on hand
// but cannot be moved out until released.
func (s *BalanceStore) Reserve(ctx context.Context, itemID, locationID int64, quantity int) (model.Balance, error) {
	return s.changeReservation(ctx, itemID, locationID, quantity)
}

// Release returns quantity reserved units to the available pool.
func (s *BalanceStore) Release(ctx context.Context, itemID, locationID int64, quantity int) (model.Balance, error) {
	return s.changeReservation(ctx, itemID, locationID, -quantity)
}

func (s *BalanceStore) changeReservation(ctx context.Context, itemID, locationID int64, delta int) (model.Balance, error) {
	if delta == 0 {
		return model.Balance{}, &model.InvalidTransferError{Reason: "quantity must be positive"}
	}
	if _, err := s.dir.Item(ctx, itemID); err != nil {
		return model.Balance{}, err
	}
	if _, err := s.dir.Location(ctx, locationID); err != nil {
		return model.Balance{}, err
	}

	key := model.BalanceKey{ItemID: itemID, LocationID: locationID}
	unlock, err := s.lock(ctx, key)
	if err != nil {
		return model.Balance{}, err
	}
	defer unlock()

	var out model.Balance
	err = store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		b, err := store.GetBalance(ctx, tx, key)
		if err != nil {
			return err
		}
		switch {
		case delta > 0 && b.Available() < delta:
			return &model.InsufficientStockError{
				ItemID: itemID, LocationID: locationID, Available: b.Available(), Requested: delta,
			}
		case delta < 0 && b.Reserved < -delta:
			return &model.InvalidTransferError{
				Reason: fmt.Sprintf("cannot release %d units, only %d reserved", -delta, b.Reserved),
			}
		}
		b.Reserved += delta
		b.UpdatedAt = s.clock.Now()
		out = b
		return store.PutBalance(ctx, tx, b, b.UpdatedAt)
	})
	return out, err
}

// lock acquires the balance locks for keys and records the wait.
func (s *BalanceStore) lock(ctx context.Context, keys ...model.BalanceKey) (func(), error) {
	start := time.Now()
	unlock, err := s.locks.Acquire(ctx, keys...)
	s.metrics.ObserveLockWait(start)
	return unlock, err
}

// apply adds delta to the quantity of a balance. A debit larger than the
// available quantity, or a credit the quantity cannot hold, fails and leaves
// the balance untouched. The caller must hold the key's lock and pass the
// enclosing transaction.
func (s *BalanceStore) apply(ctx context.Context, tx *sql.Tx, d model.BalanceDelta, now time.Time) error {
	b, err := store.GetBalance(ctx, tx, d.Key)
	if err != nil {
		return err
	}
	if d.Delta < 0 && b.Available() < -d.Delta {
		return &model.InsufficientStockError{
			ItemID:     d.Key.ItemID,
			LocationID: d.Key.LocationID,
			Available:  b.Available(),
			Requested:  -d.Delta,
		}
	}
	if d.Delta > 0 && b.Quantity > math.MaxInt64-d.Delta {
		return &model.InvalidTransferError{
			Reason: fmt.Sprintf("adding %d to item %d at location %d would overflow the balance of %d",
				d.Delta, d.Key.ItemID, d.Key.LocationID, b.Quantity),
		}
	}
	b.Quantity += d.Delta
	return store.PutBalance(ctx, tx, b, now)
}
