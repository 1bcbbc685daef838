package inventory

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/erazemk/zaloga/internal/clock"
	"github.com/erazemk/zaloga/internal/db"
	"github.com/erazemk/zaloga/internal/metrics"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
)

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	db       *sql.DB
	inv      *Inventory
	metrics  *metrics.Metrics
	item     *model.Item
	store    *model.Location
	facility *model.Location
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()
	database := db.NewTestDB(t)

	item, err := store.CreateItem(ctx, database, model.Item{
		SKU: "GLV-01", Name: "Gloves", UnitCost: decimal.RequireFromString("2.50"),
	}, testNow)
	require.NoError(t, err)
	st, err := store.CreateLocation(ctx, database, "Central store", model.LocationKindStore, testNow)
	require.NoError(t, err)
	fac, err := store.CreateLocation(ctx, database, "Clinic A", model.LocationKindFacility, testNow)
	require.NoError(t, err)

	m := metrics.New(nil)
	return &fixture{
		db:       database,
		inv:      New(database, cfg, clock.NewManual(testNow), m),
		metrics:  m,
		item:     item,
		store:    st,
		facility: fac,
	}
}

func (f *fixture) stockIn(t *testing.T, qty int) {
	t.Helper()
	_, err := f.inv.Coordinator.StockIn(context.Background(), f.item.ID, f.store.ID, qty, model.Batch{}, "tester", "")
	require.NoError(t, err)
}

func (f *fixture) quantity(t *testing.T, locationID int64) int {
	t.Helper()
	b, err := f.inv.Balances.Get(context.Background(), f.item.ID, locationID)
	require.NoError(t, err)
	return b.Quantity
}

func TestTransferMovesStock(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.stockIn(t, 100)

	rec, err := f.inv.Coordinator.Transfer(ctx, Movement{
		ItemID: f.item.ID, From: f.store.ID, To: f.facility.ID, Quantity: 30, Actor: "nurse",
	})
	require.NoError(t, err)

	assert.Equal(t, 70, f.quantity(t, f.store.ID))
	assert.Equal(t, 30, f.quantity(t, f.facility.ID))
	assert.Equal(t, model.TxTransfer, rec.Type)
	assert.Equal(t, 30, rec.Quantity)
	assert.NotEmpty(t, rec.Reference)
	assert.Equal(t, testNow, rec.CreatedAt)

	records, err := f.inv.Ledger.Replay(ctx, f.item.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, rec.ID, records[1].ID)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Movements.WithLabelValues("transfer", "ok")))
}

func TestTransferInsufficientStockChangesNothing(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.stockIn(t, 10)

	_, err := f.inv.Coordinator.Transfer(ctx, Movement{
		ItemID: f.item.ID, From: f.store.ID, To: f.facility.ID, Quantity: 15, Actor: "nurse",
	})

	var ise *model.InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, 10, ise.Available)
	assert.Equal(t, 15, ise.Requested)
	assert.Equal(t, 10, f.quantity(t, f.store.ID))
	assert.Equal(t, 0, f.quantity(t, f.facility.ID))

	records, err := f.inv.Ledger.Replay(ctx, f.item.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Movements.WithLabelValues("transfer", "insufficient_stock")))
}

func TestTransferValidation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.stockIn(t, 10)

	tests := []struct {
		name string
		m    Movement
		want error
	}{
		{"zero quantity", Movement{ItemID: f.item.ID, From: f.store.ID, To: f.facility.ID}, model.ErrInvalidTransfer},
		{"negative quantity", Movement{ItemID: f.item.ID, From: f.store.ID, To: f.facility.ID, Quantity: -1}, model.ErrInvalidTransfer},
		{"same location", Movement{ItemID: f.item.ID, From: f.store.ID, To: f.store.ID, Quantity: 1}, model.ErrInvalidTransfer},
		{"unknown item", Movement{ItemID: 999, From: f.store.ID, To: f.facility.ID, Quantity: 1}, model.ErrNotFound},
		{"unknown destination", Movement{ItemID: f.item.ID, From: f.store.ID, To: 999, Quantity: 1}, model.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.inv.Coordinator.Transfer(ctx, tt.m)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, 10, f.quantity(t, f.store.ID))
}

func TestStockInOnlyIntoStores(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.inv.Coordinator.StockIn(ctx, f.item.ID, f.facility.ID, 5, model.Batch{}, "tester", "")
	assert.ErrorIs(t, err, model.ErrInvalidTransfer)

	f = newFixture(t, Config{StockInAnywhere: true})
	_, err = f.inv.Coordinator.StockIn(ctx, f.item.ID, f.facility.ID, 5, model.Batch{}, "tester", "")
	require.NoError(t, err)
	assert.Equal(t, 5, f.quantity(t, f.facility.ID))
}

func TestCreditOverflowIsRejected(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.stockIn(t, math.MaxInt64-1)

	_, err := f.inv.Coordinator.StockIn(ctx, f.item.ID, f.store.ID, 2, model.Batch{}, "tester", "")
	assert.ErrorIs(t, err, model.ErrInvalidTransfer)

	_, err = f.inv.Coordinator.Adjust(ctx, f.item.ID, f.store.ID, 5, "tester", "count")
	assert.ErrorIs(t, err, model.ErrInvalidTransfer)

	// The last unit still fits.
	_, err = f.inv.Coordinator.StockIn(ctx, f.item.ID, f.store.ID, 1, model.Batch{}, "tester", "")
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt64, f.quantity(t, f.store.ID))

	records, err := f.inv.Ledger.Replay(ctx, f.item.ID)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestStockInKeepsBatch(t *testing.T) {
	f := newFixture(t, Config{})
	expires := testNow.AddDate(1, 0, 0)

	rec, err := f.inv.Coordinator.StockIn(context.Background(), f.item.ID, f.store.ID, 12,
		model.Batch{Number: "LOT-7", ExpiresAt: &expires}, "tester", "delivery")
	require.NoError(t, err)

	got, err := f.inv.Ledger.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "LOT-7", got.BatchNumber)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, expires.Equal(*got.ExpiresAt))
}

func TestStockOutAndAdjust(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.stockIn(t, 20)

	_, err := f.inv.Coordinator.StockOut(ctx, f.item.ID, f.store.ID, 5, "tester", "expired")
	require.NoError(t, err)
	_, err = f.inv.Coordinator.Adjust(ctx, f.item.ID, f.store.ID, -3, "tester", "count")
	require.NoError(t, err)
	_, err = f.inv.Coordinator.Adjust(ctx, f.item.ID, f.store.ID, 1, "tester", "found one")
	require.NoError(t, err)
	assert.Equal(t, 13, f.quantity(t, f.store.ID))

	_, err = f.inv.Coordinator.StockOut(ctx, f.item.ID, f.store.ID, 14, "tester", "")
	assert.ErrorIs(t, err, model.ErrInsufficientStock)
	_, err = f.inv.Coordinator.Adjust(ctx, f.item.ID, f.store.ID, 0, "tester", "")
	assert.ErrorIs(t, err, model.ErrInvalidTransfer)
}

func TestReservationsLimitAvailability(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.stockIn(t, 10)

	b, err := f.inv.Balances.Reserve(ctx, f.item.ID, f.store.ID, 6)
	require.NoError(t, err)
	assert.Equal(t, 4, b.Available())

	_, err = f.inv.Coordinator.Transfer(ctx, Movement{
		ItemID: f.item.ID, From: f.store.ID, To: f.facility.ID, Quantity: 5, Actor: "nurse",
	})
	assert.ErrorIs(t, err, model.ErrInsufficientStock)

	_, err = f.inv.Balances.Reserve(ctx, f.item.ID, f.store.ID, 5)
	assert.ErrorIs(t, err, model.ErrInsufficientStock)

	_, err = f.inv.Balances.Release(ctx, f.item.ID, f.store.ID, 7)
	assert.ErrorIs(t, err, model.ErrInvalidTransfer)

	b, err = f.inv.Balances.Release(ctx, f.item.ID, f.store.ID, 6)
	require.NoError(t, err)
	assert.Equal(t, 10, b.Available())

	records, err := f.inv.Ledger.Replay(ctx, f.item.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1, "reservations are not ledger movements")
}

func TestValuation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.stockIn(t, 10)
	_, err := f.inv.Coordinator.Transfer(ctx, Movement{
		ItemID: f.item.ID, From: f.store.ID, To: f.facility.ID, Quantity: 4, Actor: "nurse",
	})
	require.NoError(t, err)

	total, err := f.inv.Balances.Valuation(ctx, f.item.ID, 0)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("25").Equal(total), "got %s", total)

	atFacility, err := f.inv.Balances.Valuation(ctx, f.item.ID, f.facility.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("10").Equal(atFacility), "got %s", atFacility)
}

func TestConservationAndReplay(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	transit, err := store.CreateLocation(ctx, f.db, "Van 1", model.LocationKindTransit, testNow)
	require.NoError(t, err)

	f.stockIn(t, 50)
	steps := []func() error{
		func() error {
			_, err := f.inv.Coordinator.Transfer(ctx, Movement{ItemID: f.item.ID, From: f.store.ID, To: transit.ID, Quantity: 20})
			return err
		},
		func() error {
			_, err := f.inv.Coordinator.Transfer(ctx, Movement{ItemID: f.item.ID, From: transit.ID, To: f.facility.ID, Quantity: 15})
			return err
		},
		func() error {
			_, err := f.inv.Coordinator.StockOut(ctx, f.item.ID, f.facility.ID, 5, "", "used")
			return err
		},
		func() error {
			_, err := f.inv.Coordinator.Adjust(ctx, f.item.ID, transit.ID, -5, "", "lost")
			return err
		},
		func() error {
			_, err := f.inv.Coordinator.Transfer(ctx, Movement{ItemID: f.item.ID, From: f.facility.ID, To: f.store.ID, Quantity: 100})
			return err
		},
	}
	for _, step := range steps {
		_ = step()
	}

	records, err := f.inv.Ledger.Replay(ctx, f.item.ID)
	require.NoError(t, err)

	flow := 0
	for _, r := range records {
		flow += r.ExternalFlow()
	}
	total, err := f.inv.Balances.Total(ctx, f.item.ID)
	require.NoError(t, err)
	assert.Equal(t, flow, total)
	assert.Equal(t, 40, total)

	folded := Fold(records)
	assert.Equal(t, map[int64]int{f.store.ID: 30, transit.ID: 0, f.facility.ID: 10}, folded)

	diffs, err := f.inv.Ledger.Reconcile(ctx, f.item.ID)
	require.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestReconcileReportsDrift(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.stockIn(t, 10)

	// Corrupt the cache directly, bypassing the ledger.
	err := store.PutBalance(ctx, f.db, model.Balance{ItemID: f.item.ID, LocationID: f.store.ID, Quantity: 8}, testNow)
	require.NoError(t, err)

	diffs, err := f.inv.Ledger.Reconcile(ctx, f.item.ID)
	require.NoError(t, err)
	assert.Equal(t, []Discrepancy{{LocationID: f.store.ID, Ledger: 10, Balance: 8}}, diffs)
}

func TestListFiltersByLocation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.stockIn(t, 10)
	_, err := f.inv.Coordinator.Transfer(ctx, Movement{ItemID: f.item.ID, From: f.store.ID, To: f.facility.ID, Quantity: 2})
	require.NoError(t, err)

	recs, err := f.inv.Ledger.List(ctx, model.TxFilter{LocationID: f.facility.ID})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.TxTransfer, recs[0].Type)

	recs, err = f.inv.Ledger.List(ctx, model.TxFilter{ItemID: f.item.ID})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, model.TxTransfer, recs[0].Type, "newest first")
}

func TestConcurrentOppositeTransfers(t *testing.T) {
	f := newFixture(t, Config{LockTimeout: 10 * time.Second, StockInAnywhere: true})
	ctx := context.Background()
	f.stockIn(t, 100)
	_, err := f.inv.Coordinator.StockIn(ctx, f.item.ID, f.facility.ID, 100, model.Batch{}, "", "")
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		from, to := f.store.ID, f.facility.ID
		if i%2 == 1 {
			from, to = to, from
		}
		g.Go(func() error {
			_, err := f.inv.Coordinator.Transfer(ctx, Movement{ItemID: f.item.ID, From: from, To: to, Quantity: 3})
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 100, f.quantity(t, f.store.ID))
	assert.Equal(t, 100, f.quantity(t, f.facility.ID))
	assert.Equal(t, 0, f.inv.Balances.locks.Len())
}

func TestConcurrentDrainNeverGoesNegative(t *testing.T) {
	f := newFixture(t, Config{LockTimeout: 10 * time.Second})
	ctx := context.Background()
	f.stockIn(t, 10)

	var g errgroup.Group
	results := make([]error, 15)
	for i := range results {
		g.Go(func() error {
			_, results[i] = f.inv.Coordinator.Transfer(ctx, Movement{
				ItemID: f.item.ID, From: f.store.ID, To: f.facility.ID, Quantity: 1,
			})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	ok, short := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, model.ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 10, ok)
	assert.Equal(t, 5, short)
	assert.Equal(t, 0, f.quantity(t, f.store.ID))
	assert.Equal(t, 10, f.quantity(t, f.facility.ID))
}

func TestTransferWithinRollsBack(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.stockIn(t, 10)
	boom := errors.New("boom")

	_, err := f.inv.Coordinator.TransferWithin(ctx, Movement{
		ItemID: f.item.ID, From: f.store.ID, To: f.facility.ID, Quantity: 4,
	}, func(ctx context.Context, tx *sql.Tx, rec model.TransactionRecord) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 10, f.quantity(t, f.store.ID))

	records, err := f.inv.Ledger.Replay(ctx, f.item.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestTransferTimesOutOnHeldLock(t *testing.T) {
	f := newFixture(t, Config{LockTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	f.stockIn(t, 10)

	unlock, err := f.inv.Balances.lock(ctx, model.BalanceKey{ItemID: f.item.ID, LocationID: f.store.ID})
	require.NoError(t, err)
	defer unlock()

	_, err = f.inv.Coordinator.Transfer(ctx, Movement{ItemID: f.item.ID, From: f.store.ID, To: f.facility.ID, Quantity: 1})
	assert.ErrorIs(t, err, model.ErrContention)
	assert.True(t, model.IsRetryable(err))
}
