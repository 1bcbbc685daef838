// Package inventory keeps stock balances per item and location, the
// append-only ledger that explains them, and the coordinator that moves
// stock between locations.
//
// Balances are a cache of the ledger. The only code path that changes a
// balance's quantity is the ledger append, which runs inside the same
// database transaction as the balance write, under locks on every affected
// (item, location) key.
package inventory

import (
	"database/sql"
	"time"

	"github.com/erazemk/zaloga/internal/clock"
	"github.com/erazemk/zaloga/internal/lock"
	"github.com/erazemk/zaloga/internal/metrics"
	"github.com/erazemk/zaloga/internal/model"
)

// Config holds stock policy settings.
type Config struct {
	// LockTimeout bounds how long an operation waits for balance locks
	// before failing with *model.ContentionError.
	LockTimeout time.Duration

	// StockInAnywhere allows stock-in to any location kind. By default only
	// store locations receive stock from outside the system.
	StockInAnywhere bool
}

// DefaultLockTimeout is used when Config.LockTimeout is zero.
const DefaultLockTimeout = 2 * time.Second

// Inventory bundles the components built over one database.
type Inventory struct {
	Directory   Directory
	Balances    *BalanceStore
	Ledger      *Ledger
	Coordinator *Coordinator
}

// New wires a balance store, ledger and coordinator over db. A nil clock
// uses the system clock; nil metrics are created unregistered.
func New(db *sql.DB, cfg Config, clk clock.Clock, m *metrics.Metrics) *Inventory {
	if clk == nil {
		clk = clock.System{}
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}

	dir := NewDirectory(db)
	locks := lock.NewTable(compareKeys, cfg.LockTimeout)
	balances := NewBalanceStore(db, dir, locks, clk, m)
	ledger := NewLedger(db, balances, clk)

	return &Inventory{
		Directory:   dir,
		Balances:    balances,
		Ledger:      ledger,
		Coordinator: NewCoordinator(db, ledger, dir, cfg, m),
	}
}

func compareKeys(a, b model.BalanceKey) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}
