package inventory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/zaloga/internal/metrics"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
)

// Coordinator performs stock movements. Each movement locks the affected
// balances, appends one ledger record and updates the balances in a single
// transaction, so it either happens completely or not at all.
type Coordinator struct {
	db      *sql.DB
	ledger  *Ledger
	dir     Directory
	cfg     Config
	metrics *metrics.Metrics
}

// NewCoordinator returns a coordinator that records movements in ledger.
func NewCoordinator(db *sql.DB, ledger *Ledger, dir Directory, cfg Config, m *metrics.Metrics) *Coordinator {
	return &Coordinator{db: db, ledger: ledger, dir: dir, cfg: cfg, metrics: m}
}

// Movement describes a transfer of one item between two locations.
type Movement struct {
	ItemID   int64
	From     int64
	To       int64
	Quantity int
	Actor    string
	Note     string
}

// Within is extra work run in a movement's transaction after the ledger
// record is appended. Returning an error rolls the movement back.
type Within func(ctx context.Context, tx *sql.Tx, rec model.TransactionRecord) error

// Transfer moves stock between two locations. The source must have at least
// the requested quantity available.
func (c *Coordinator) Transfer(ctx context.Context, m Movement) (*model.TransactionRecord, error) {
	return c.TransferWithin(ctx, m, nil)
}

// TransferWithin is Transfer with additional work committed atomically with
// the movement.
func (c *Coordinator) TransferWithin(ctx context.Context, m Movement, within Within) (*model.TransactionRecord, error) {
	rec, err := model.NewTransfer(m.ItemID, m.From, m.To, m.Quantity, m.Actor, m.Note)
	if err != nil {
		return nil, c.count(model.TxTransfer, err)
	}
	return c.post(ctx, rec, within)
}

// StockIn records stock entering the system at a location.
func (c *Coordinator) StockIn(ctx context.Context, itemID, locationID int64, quantity int, batch model.Batch, actor, note string) (*model.TransactionRecord, error) {
	rec, err := model.NewStockIn(itemID, locationID, quantity, actor, batch, note)
	if err != nil {
		return nil, c.count(model.TxStockIn, err)
	}
	if !c.cfg.StockInAnywhere {
		loc, err := c.dir.Location(ctx, locationID)
		if err != nil {
			return nil, c.count(model.TxStockIn, err)
		}
		if loc.Kind != model.LocationKindStore {
			return nil, c.count(model.TxStockIn, &model.InvalidTransferError{
				Reason: fmt.Sprintf("stock-in is only allowed into store locations, %q is a %s", loc.Name, loc.Kind),
			})
		}
	}
	return c.post(ctx, rec, nil)
}

// StockOut records stock leaving the system from a location.
func (c *Coordinator) StockOut(ctx context.Context, itemID, locationID int64, quantity int, actor, note string) (*model.TransactionRecord, error) {
	rec, err := model.NewStockOut(itemID, locationID, quantity, actor, note)
	if err != nil {
		return nil, c.count(model.TxStockOut, err)
	}
	return c.post(ctx, rec, nil)
}

// Adjust corrects the quantity at a location by delta, for example after a
// physical count.
func (c *Coordinator) Adjust(ctx context.Context, itemID, locationID int64, delta int, actor, note string) (*model.TransactionRecord, error) {
	rec, err := model.NewAdjustment(itemID, locationID, delta, actor, note)
	if err != nil {
		return nil, c.count(model.TxAdjustment, err)
	}
	return c.post(ctx, rec, nil)
}

func (c *Coordinator) post(ctx context.Context, rec model.TransactionRecord, within Within) (*model.TransactionRecord, error) {
	if _, err := c.dir.Item(ctx, rec.ItemID); err != nil {
		return nil, c.count(rec.Type, err)
	}

	deltas := rec.Deltas()
	keys := make([]model.BalanceKey, len(deltas))
	for i, d := range deltas {
		if _, err := c.dir.Location(ctx, d.Key.LocationID); err != nil {
			return nil, c.count(rec.Type, err)
		}
		keys[i] = d.Key
	}

	unlock, err := c.ledger.balances.lock(ctx, keys...)
	if err != nil {
		return nil, c.count(rec.Type, err)
	}
	defer unlock()

	err = store.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		var err error
		if rec, err = c.ledger.append(ctx, tx, rec); err != nil {
			return err
		}
		if within != nil {
			return within(ctx, tx, rec)
		}
		return nil
	})
	if err != nil {
		return nil, c.count(rec.Type, err)
	}
	c.count(rec.Type, nil)
	return &rec, nil
}

func (c *Coordinator) count(t model.TxType, err error) error {
	c.metrics.Movements.WithLabelValues(string(t), metrics.Result(err)).Inc()
	return err
}
