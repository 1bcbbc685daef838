package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/zaloga/internal/model"
)

// GetBalance returns the balance for a key. A key that never held stock
// returns a zero balance, not an error.
func GetBalance(ctx context.Context, q Querier, key model.BalanceKey) (model.Balance, error) {
	b := model.Balance{ItemID: key.ItemID, LocationID: key.LocationID}
	err := q.QueryRowContext(ctx,
		`SELECT quantity, reserved, updated_at FROM balances WHERE item_id = ? AND location_id = ?`,
		key.ItemID, key.LocationID,
	).Scan(&b.Quantity, &b.Reserved, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return b, nil
	}
	if err != nil {
		return b, fmt.Errorf("getting balance: %w", err)
	}
	return b, nil
}

// PutBalance writes the absolute quantity and reservation of a balance,
// creating the row on first use. Rows are never deleted.
func PutBalance(ctx context.Context, q Querier, b model.Balance, now time.Time) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO balances (item_id, location_id, quantity, reserved, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (item_id, location_id) DO UPDATE
		 SET quantity = excluded.quantity, reserved = excluded.reserved, updated_at = excluded.updated_at`,
		b.ItemID, b.LocationID, b.Quantity, b.Reserved, now,
	)
	if err != nil {
		return fmt.Errorf("writing balance: %w", err)
	}
	return nil
}

// ListBalances returns balances filtered by item and/or location (zero means
// any), ordered by item then location.
func ListBalances(ctx context.Context, q Querier, itemID, locationID int64) ([]model.Balance, error) {
	query := `SELECT item_id, location_id, quantity, reserved, updated_at FROM balances WHERE 1=1`
	var args []any

	if itemID > 0 {
		query += ` AND item_id = ?`
		args = append(args, itemID)
	}
	if locationID > 0 {
		query += ` AND location_id = ?`
		args = append(args, locationID)
	}
	query += ` ORDER BY item_id, location_id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing balances: %w", err)
	}
	defer rows.Close()

	var balances []model.Balance
	for rows.Next() {
		var b model.Balance
		if err := rows.Scan(&b.ItemID, &b.LocationID, &b.Quantity, &b.Reserved, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning balance: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// TotalStock returns the quantity of an item summed over all locations.
func TotalStock(ctx context.Context, q Querier, itemID int64) (int, error) {
	var total int
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM balances WHERE item_id = ?`, itemID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing stock: %w", err)
	}
	return total, nil
}
