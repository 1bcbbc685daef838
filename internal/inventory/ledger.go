package inventory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/erazemk/zaloga/internal/clock"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
)

// Ledger is the append-only record of every stock movement.
type Ledger struct {
	db       *sql.DB
	balances *BalanceStore
	clock    clock.Clock
}

// NewLedger returns a ledger whose appends update balances.
func NewLedger(db *sql.DB, balances *BalanceStore, clk clock.Clock) *Ledger {
	return &Ledger{db: db, balances: balances, clock: clk}
}

// append stamps rec, applies its balance deltas and inserts it, all within
// tx. The caller must hold the locks on every key rec touches. If any delta
// fails nothing is written, since the transaction is rolled back.
func (l *Ledger) append(ctx context.Context, tx *sql.Tx, rec model.TransactionRecord) (model.TransactionRecord, error) {
	if err := rec.Validate(); err != nil {
		return rec, err
	}
	if rec.Reference == "" {
		rec.Reference = uuid.NewString()
	}
	rec.CreatedAt = l.clock.Now()

	for _, d := range rec.Deltas() {
		if err := l.balances.apply(ctx, tx, d, rec.CreatedAt); err != nil {
			return rec, err
		}
	}

	id, err := store.InsertTransaction(ctx, tx, rec)
	if err != nil {
		return rec, err
	}
	rec.ID = id
	return rec, nil
}

// Get returns one ledger record.
func (l *Ledger) Get(ctx context.Context, id int64) (*model.TransactionRecord, error) {
	rec, err := store.GetTransaction(ctx, l.db, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &model.NotFoundError{Entity: "transaction", ID: id}
	}
	return rec, nil
}

// List returns records matching f, newest first.
func (l *Ledger) List(ctx context.Context, f model.TxFilter) ([]model.TransactionRecord, error) {
	return store.ListTransactions(ctx, l.db, f)
}

// Replay returns every record for an item in append order.
func (l *Ledger) Replay(ctx context.Context, itemID int64) ([]model.TransactionRecord, error) {
	return store.ItemTransactions(ctx, l.db, itemID)
}

// Fold computes per-location quantities from records. Locations whose
// records net to zero are kept with a zero quantity.
func Fold(records []model.TransactionRecord) map[int64]int {
	out := make(map[int64]int)
	for _, r := range records {
		for _, d := range r.Deltas() {
			out[d.Key.LocationID] += d.Delta
		}
	}
	return out
}

// Discrepancy is a location where the stored balance disagrees with the
// ledger.
type Discrepancy struct {
	LocationID int64 `json:"location_id"`
	Ledger     int   `json:"ledger"`
	Balance    int   `json:"balance"`
}

// Reconcile replays the ledger for an item and compares the result with the
// stored balances. An empty result means they agree.
func (l *Ledger) Reconcile(ctx context.Context, itemID int64) ([]Discrepancy, error) {
	var (
		records  []model.TransactionRecord
		balances []model.Balance
	)
	// Both reads run in one transaction so a concurrent append cannot land
	// between them.
	err := store.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		var err error
		if records, err = store.ItemTransactions(ctx, tx, itemID); err != nil {
			return err
		}
		balances, err = store.ListBalances(ctx, tx, itemID, 0)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reconciling item %d: %w", itemID, err)
	}

	want := Fold(records)
	have := make(map[int64]int, len(balances))
	for _, b := range balances {
		have[b.LocationID] = b.Quantity
	}

	var out []Discrepancy
	for loc, q := range want {
		if have[loc] != q {
			out = append(out, Discrepancy{LocationID: loc, Ledger: q, Balance: have[loc]})
		}
	}
	for loc, q := range have {
		if _, ok := want[loc]; !ok && q != 0 {
			out = append(out, Discrepancy{LocationID: loc, Balance: q})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocationID < out[j].LocationID })
	return out, nil
}
