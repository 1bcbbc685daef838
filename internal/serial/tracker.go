// Package serial tracks individually identified assets. Every change to an
// asset appends one event to its history, and the asset's location, status
// and custodian always equal the fold of that history.
package serial

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/zaloga/internal/clock"
	"github.com/erazemk/zaloga/internal/inventory"
	"github.com/erazemk/zaloga/internal/lock"
	"github.com/erazemk/zaloga/internal/metrics"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
)

// Tracker registers serialized assets and records their movements.
type Tracker struct {
	db      *sql.DB
	dir     inventory.Directory
	locks   *lock.Table[int64]
	clock   clock.Clock
	metrics *metrics.Metrics
}

// NewTracker returns a tracker. Operations on one asset wait at most
// lockTimeout for each other.
func NewTracker(db *sql.DB, dir inventory.Directory, clk clock.Clock, m *metrics.Metrics, lockTimeout time.Duration) *Tracker {
	if clk == nil {
		clk = clock.System{}
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if lockTimeout <= 0 {
		lockTimeout = inventory.DefaultLockTimeout
	}
	return &Tracker{
		db:      db,
		dir:     dir,
		locks:   lock.NewTable(cmp.Compare[int64], lockTimeout),
		clock:   clk,
		metrics: m,
	}
}

// Registration describes a new asset.
type Registration struct {
	ItemID     int64
	LocationID int64
	// SerialCode is generated when empty.
	SerialCode        string
	Condition         string
	WarrantyExpiresAt *time.Time
	Actor             string
	Note              string
}

// Register creates an asset at its initial location with a created event.
func (t *Tracker) Register(ctx context.Context, reg Registration) (*model.SerialAsset, error) {
	asset, err := t.register(ctx, reg)
	t.count(model.ActionCreated, err)
	return asset, err
}

func (t *Tracker) register(ctx context.Context, reg Registration) (*model.SerialAsset, error) {
	item, err := t.dir.Item(ctx, reg.ItemID)
	if err != nil {
		return nil, err
	}
	if _, err := t.dir.Location(ctx, reg.LocationID); err != nil {
		return nil, err
	}
	if reg.Condition == "" {
		reg.Condition = item.Condition
	}
	if !model.ValidCondition(reg.Condition) {
		return nil, &model.InvalidTransferError{Reason: fmt.Sprintf("unknown condition %q", reg.Condition)}
	}
	if reg.SerialCode == "" {
		reg.SerialCode = newSerialCode(item.SKU)
	}

	now := t.clock.Now()
	var id int64
	err = store.WithTx(ctx, t.db, func(tx *sql.Tx) error {
		var err error
		id, err = store.InsertAsset(ctx, tx, model.SerialAsset{
			ItemID:            reg.ItemID,
			SerialCode:        reg.SerialCode,
			LocationID:        reg.LocationID,
			Status:            model.AssetAvailable,
			Condition:         reg.Condition,
			WarrantyExpiresAt: reg.WarrantyExpiresAt,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
		if err != nil {
			return err
		}
		_, err = store.AppendTrackingEvent(ctx, tx, model.TrackingEvent{
			AssetID:      id,
			Action:       model.ActionCreated,
			ToLocationID: &reg.LocationID,
			Actor:        reg.Actor,
			Note:         reg.Note,
			CreatedAt:    now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return t.Get(ctx, id)
}

// Move relocates an asset. With inTransit set the asset is marked in
// transit, otherwise available at the destination. Damaged assets may be
// moved and stay damaged; assigned assets must be released first.
func (t *Tracker) Move(ctx context.Context, assetID, to int64, inTransit bool, actor, note string) (*model.SerialAsset, error) {
	if _, err := t.dir.Location(ctx, to); err != nil {
		t.count(model.ActionMoved, err)
		return nil, err
	}
	return t.mutate(ctx, assetID, model.ActionMoved, func(a *model.SerialAsset) (model.TrackingEvent, error) {
		switch a.Status {
		case model.AssetRetired, model.AssetAssigned:
			return model.TrackingEvent{}, stateError(a, "move")
		}
		if a.LocationID == to && a.Status != model.AssetInTransit {
			return model.TrackingEvent{}, &model.InvalidTransferError{
				Reason: fmt.Sprintf("asset %s is already at location %d", a.SerialCode, to),
			}
		}
		from := a.LocationID
		return model.TrackingEvent{
			FromLocationID: &from,
			ToLocationID:   &to,
			InTransit:      inTransit,
			Actor:          actor,
			Note:           note,
		}, nil
	})
}

// Assign hands an available asset to a custodian.
func (t *Tracker) Assign(ctx context.Context, assetID int64, custodian, actor, note string) (*model.SerialAsset, error) {
	custodian = strings.TrimSpace(custodian)
	return t.mutate(ctx, assetID, model.ActionAssigned, func(a *model.SerialAsset) (model.TrackingEvent, error) {
		if a.Status != model.AssetAvailable {
			return model.TrackingEvent{}, stateError(a, "assign")
		}
		if custodian == "" {
			return model.TrackingEvent{}, &model.InvalidTransferError{Reason: "custodian is required"}
		}
		return model.TrackingEvent{Custodian: &custodian, Actor: actor, Note: note}, nil
	})
}

// Release takes an assigned asset back from its custodian.
func (t *Tracker) Release(ctx context.Context, assetID int64, actor, note string) (*model.SerialAsset, error) {
	return t.mutate(ctx, assetID, model.ActionReleased, func(a *model.SerialAsset) (model.TrackingEvent, error) {
		if a.Status != model.AssetAssigned {
			return model.TrackingEvent{}, stateError(a, "release")
		}
		return model.TrackingEvent{Custodian: a.Custodian, Actor: actor, Note: note}, nil
	})
}

// MarkDamaged flags an asset as damaged. There is no way back to available
// other than retiring and registering a replacement.
func (t *Tracker) MarkDamaged(ctx context.Context, assetID int64, actor, note string) (*model.SerialAsset, error) {
	return t.mutate(ctx, assetID, model.ActionDamaged, func(a *model.SerialAsset) (model.TrackingEvent, error) {
		switch a.Status {
		case model.AssetDamaged, model.AssetRetired:
			return model.TrackingEvent{}, stateError(a, "mark damaged")
		}
		return model.TrackingEvent{Actor: actor, Note: note}, nil
	})
}

// Retire takes an asset out of service for good.
func (t *Tracker) Retire(ctx context.Context, assetID int64, actor, note string) (*model.SerialAsset, error) {
	return t.mutate(ctx, assetID, model.ActionRetired, func(a *model.SerialAsset) (model.TrackingEvent, error) {
		if a.Status == model.AssetRetired {
			return model.TrackingEvent{}, stateError(a, "retire")
		}
		return model.TrackingEvent{Actor: actor, Note: note}, nil
	})
}

// Get returns an asset by ID.
func (t *Tracker) Get(ctx context.Context, assetID int64) (*model.SerialAsset, error) {
	return getAsset(ctx, t.db, assetID)
}

// GetBySerial returns an asset by serial code.
func (t *Tracker) GetBySerial(ctx context.Context, code string) (*model.SerialAsset, error) {
	a, err := store.GetAssetBySerial(ctx, t.db, code)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, &model.NotFoundError{Entity: "asset", Key: code}
	}
	return a, nil
}

// List returns assets filtered by item, location and status; zero values
// match anything.
func (t *Tracker) List(ctx context.Context, itemID, locationID int64, status model.AssetStatus) ([]model.SerialAsset, error) {
	return store.ListAssets(ctx, t.db, itemID, locationID, status)
}

// History returns an asset's events, oldest first.
func (t *Tracker) History(ctx context.Context, assetID int64) ([]model.TrackingEvent, error) {
	if _, err := getAsset(ctx, t.db, assetID); err != nil {
		return nil, err
	}
	return store.ListTrackingEvents(ctx, t.db, assetID)
}

// Verify replays an asset's history and reports an error if the stored
// state differs from the fold.
func (t *Tracker) Verify(ctx context.Context, assetID int64) error {
	a, err := getAsset(ctx, t.db, assetID)
	if err != nil {
		return err
	}
	events, err := store.ListTrackingEvents(ctx, t.db, assetID)
	if err != nil {
		return err
	}
	want, err := model.FoldHistory(events)
	if err != nil {
		return fmt.Errorf("asset %d: %w", assetID, err)
	}
	if !sameState(want, a.State()) {
		return fmt.Errorf("asset %d: stored state %+v differs from history %+v", assetID, a.State(), want)
	}
	return nil
}

// mutate runs one state change under the asset's lock. check inspects the
// current asset and returns the event to append, without action, asset or
// timestamp set.
func (t *Tracker) mutate(ctx context.Context, assetID int64, action model.TrackingAction,
	check func(a *model.SerialAsset) (model.TrackingEvent, error)) (*model.SerialAsset, error) {
	asset, err := t.apply(ctx, assetID, action, check)
	t.count(action, err)
	return asset, err
}

func (t *Tracker) apply(ctx context.Context, assetID int64, action model.TrackingAction,
	check func(a *model.SerialAsset) (model.TrackingEvent, error)) (*model.SerialAsset, error) {
	start := time.Now()
	unlock, err := t.locks.Acquire(ctx, assetID)
	t.metrics.ObserveLockWait(start)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out *model.SerialAsset
	err = store.WithTx(ctx, t.db, func(tx *sql.Tx) error {
		a, err := getAsset(ctx, tx, assetID)
		if err != nil {
			return err
		}
		e, err := check(a)
		if err != nil {
			return err
		}
		e.AssetID = a.ID
		e.Action = action
		e.CreatedAt = t.clock.Now()

		next, err := a.State().Apply(e)
		if err != nil {
			return err
		}
		if err := store.UpdateAssetState(ctx, tx, a.ID, next, e.CreatedAt); err != nil {
			return err
		}
		if _, err := store.AppendTrackingEvent(ctx, tx, e); err != nil {
			return err
		}

		a.LocationID, a.Status, a.Custodian = next.LocationID, next.Status, next.Custodian
		a.UpdatedAt = e.CreatedAt
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Tracker) count(action model.TrackingAction, err error) {
	t.metrics.SerialEvents.WithLabelValues(string(action), metrics.Result(err)).Inc()
}

func getAsset(ctx context.Context, q store.Querier, id int64) (*model.SerialAsset, error) {
	a, err := store.GetAsset(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, &model.NotFoundError{Entity: "asset", ID: id}
	}
	return a, nil
}

func stateError(a *model.SerialAsset, op string) error {
	return &model.InvalidStateError{Entity: "asset", ID: a.ID, State: string(a.Status), Op: op}
}

func sameState(a, b model.AssetState) bool {
	if a.LocationID != b.LocationID || a.Status != b.Status {
		return false
	}
	if a.Custodian == nil || b.Custodian == nil {
		return a.Custodian == nil && b.Custodian == nil
	}
	return *a.Custodian == *b.Custodian
}

// newSerialCode derives a code like GLV-9F8E7D6C5B4A from the item's SKU.
func newSerialCode(sku string) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return sku + "-" + id[:12]
}
