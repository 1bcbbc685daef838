package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/zaloga/internal/model"
)

const itemColumns = `id, sku, name, category, unit_cost, unit_of_measure, condition, created_at, updated_at`

func scanItem(row interface{ Scan(...any) error }, item *model.Item) error {
	return row.Scan(&item.ID, &item.SKU, &item.Name, &item.Category, &item.UnitCost,
		&item.UnitOfMeasure, &item.Condition, &item.CreatedAt, &item.UpdatedAt)
}

// CreateItem adds a catalog entry. Returns ErrDuplicate if the SKU exists.
func CreateItem(ctx context.Context, q Querier, item model.Item, now time.Time) (*model.Item, error) {
	if item.UnitOfMeasure == "" {
		item.UnitOfMeasure = "unit"
	}
	if item.Condition == "" {
		item.Condition = model.ConditionNew
	}

	result, err := q.ExecContext(ctx,
		`INSERT INTO items (sku, name, category, unit_cost, unit_of_measure, condition, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.SKU, item.Name, item.Category, item.UnitCost, item.UnitOfMeasure, item.Condition, now, now,
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("creating item %q: %w", item.SKU, ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting item id: %w", err)
	}

	return GetItem(ctx, q, id)
}

// GetItem returns an item by ID, or nil if it does not exist.
func GetItem(ctx context.Context, q Querier, id int64) (*model.Item, error) {
	item := &model.Item{}
	err := scanItem(q.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id,
	), item)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

// GetItemBySKU returns an item by SKU, or nil if it does not exist.
func GetItemBySKU(ctx context.Context, q Querier, sku string) (*model.Item, error) {
	item := &model.Item{}
	err := scanItem(q.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE sku = ?`, sku,
	), item)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item by sku: %w", err)
	}
	return item, nil
}

// ListItems returns all items, optionally filtered by category.
func ListItems(ctx context.Context, q Querier, category string) ([]model.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items`
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY name`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var item model.Item
		if err := scanItem(rows, &item); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateItemDetails changes the mutable fields of an item. The SKU and
// identity never change once stock references them.
func UpdateItemDetails(ctx context.Context, q Querier, item model.Item, now time.Time) error {
	result, err := q.ExecContext(ctx,
		`UPDATE items SET name = ?, category = ?, unit_cost = ?, unit_of_measure = ?, condition = ?, updated_at = ?
		 WHERE id = ?`,
		item.Name, item.Category, item.UnitCost, item.UnitOfMeasure, item.Condition, now, item.ID,
	)
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &model.NotFoundError{Entity: "item", ID: item.ID}
	}
	return nil
}
