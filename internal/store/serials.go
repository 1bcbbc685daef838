package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/zaloga/internal/model"
)

const assetColumns = `id, item_id, serial_code, location_id, custodian, status, condition,
	warranty_expires_at, created_at, updated_at`

func scanAsset(row interface{ Scan(...any) error }, a *model.SerialAsset) error {
	var status string
	var custodian sql.NullString
	if err := row.Scan(&a.ID, &a.ItemID, &a.SerialCode, &a.LocationID, &custodian, &status,
		&a.Condition, &a.WarrantyExpiresAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return err
	}
	s, err := model.ParseAssetStatus(status)
	if err != nil {
		return err
	}
	a.Status = s
	if custodian.Valid {
		a.Custodian = &custodian.String
	}
	return nil
}

// InsertAsset registers a serialized asset and returns its ID. Returns
// ErrDuplicate if the serial code is taken.
func InsertAsset(ctx context.Context, q Querier, a model.SerialAsset) (int64, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO serial_assets (item_id, serial_code, location_id, custodian, status, condition,
		                            warranty_expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ItemID, a.SerialCode, a.LocationID, a.Custodian, string(a.Status), a.Condition,
		a.WarrantyExpiresAt, a.CreatedAt, a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("registering serial %q: %w", a.SerialCode, ErrDuplicate)
	}
	if err != nil {
		return 0, fmt.Errorf("registering asset: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting asset id: %w", err)
	}
	return id, nil
}

// GetAsset returns an asset by ID, or nil if it does not exist.
func GetAsset(ctx context.Context, q Querier, id int64) (*model.SerialAsset, error) {
	a := &model.SerialAsset{}
	err := scanAsset(q.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM serial_assets WHERE id = ?`, id,
	), a)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting asset: %w", err)
	}
	return a, nil
}

// GetAssetBySerial returns an asset by serial code, or nil if it does not exist.
func GetAssetBySerial(ctx context.Context, q Querier, serial string) (*model.SerialAsset, error) {
	a := &model.SerialAsset{}
	err := scanAsset(q.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM serial_assets WHERE serial_code = ?`, serial,
	), a)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting asset by serial: %w", err)
	}
	return a, nil
}

// ListAssets returns assets filtered by item, location and status (zero
// values mean any).
func ListAssets(ctx context.Context, q Querier, itemID, locationID int64, status model.AssetStatus) ([]model.SerialAsset, error) {
	query := `SELECT ` + assetColumns + ` FROM serial_assets WHERE 1=1`
	var args []any

	if itemID > 0 {
		query += ` AND item_id = ?`
		args = append(args, itemID)
	}
	if locationID > 0 {
		query += ` AND location_id = ?`
		args = append(args, locationID)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY serial_code`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	defer rows.Close()

	var assets []model.SerialAsset
	for rows.Next() {
		var a model.SerialAsset
		if err := scanAsset(rows, &a); err != nil {
			return nil, fmt.Errorf("scanning asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// UpdateAssetState writes the derivable state of an asset.
func UpdateAssetState(ctx context.Context, q Querier, id int64, s model.AssetState, now time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE serial_assets SET location_id = ?, status = ?, custodian = ?, updated_at = ? WHERE id = ?`,
		s.LocationID, string(s.Status), s.Custodian, now, id,
	)
	if err != nil {
		return fmt.Errorf("updating asset: %w", err)
	}
	return nil
}

// AppendTrackingEvent adds the next event to an asset's history, assigning
// the next sequence number.
func AppendTrackingEvent(ctx context.Context, q Querier, e model.TrackingEvent) (model.TrackingEvent, error) {
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM tracking_events WHERE asset_id = ?`, e.AssetID,
	).Scan(&e.Seq)
	if err != nil {
		return e, fmt.Errorf("sequencing tracking event: %w", err)
	}

	result, err := q.ExecContext(ctx,
		`INSERT INTO tracking_events (asset_id, seq, action, from_location_id, to_location_id, in_transit,
		                              custodian, actor, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.AssetID, e.Seq, string(e.Action), e.FromLocationID, e.ToLocationID, e.InTransit,
		e.Custodian, e.Actor, nullString(e.Note), e.CreatedAt,
	)
	if err != nil {
		return e, fmt.Errorf("recording tracking event: %w", err)
	}

	if e.ID, err = result.LastInsertId(); err != nil {
		return e, fmt.Errorf("getting tracking event id: %w", err)
	}
	return e, nil
}

// ListTrackingEvents returns an asset's history, oldest first.
func ListTrackingEvents(ctx context.Context, q Querier, assetID int64) ([]model.TrackingEvent, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, asset_id, seq, action, from_location_id, to_location_id, in_transit,
		        custodian, actor, note, created_at
		 FROM tracking_events WHERE asset_id = ? ORDER BY seq`, assetID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing tracking events: %w", err)
	}
	defer rows.Close()

	var events []model.TrackingEvent
	for rows.Next() {
		var e model.TrackingEvent
		var action string
		var custodian, note sql.NullString
		if err := rows.Scan(&e.ID, &e.AssetID, &e.Seq, &action, &e.FromLocationID, &e.ToLocationID,
			&e.InTransit, &custodian, &e.Actor, &note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning tracking event: %w", err)
		}
		e.Action = model.TrackingAction(action)
		if custodian.Valid {
			e.Custodian = &custodian.String
		}
		e.Note = note.String
		events = append(events, e)
	}
	return events, rows.Err()
}
