package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/zaloga/internal/model"
)

// CreateLocation creates a new location.
func CreateLocation(ctx context.Context, q Querier, name, kind string, now time.Time) (*model.Location, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO locations (name, kind, created_at) VALUES (?, ?, ?)`,
		name, kind, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating location: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting location id: %w", err)
	}

	return GetLocation(ctx, q, id)
}

// GetLocation returns a location by ID, or nil if it does not exist.
func GetLocation(ctx context.Context, q Querier, id int64) (*model.Location, error) {
	l := &model.Location{}
	err := q.QueryRowContext(ctx,
		`SELECT id, name, kind, created_at FROM locations WHERE id = ?`, id,
	).Scan(&l.ID, &l.Name, &l.Kind, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting location: %w", err)
	}
	return l, nil
}

// ListLocations returns all locations, optionally filtered by kind.
func ListLocations(ctx context.Context, q Querier, kind string) ([]model.Location, error) {
	var rows *sql.Rows
	var err error

	if kind != "" {
		rows, err = q.QueryContext(ctx,
			`SELECT id, name, kind, created_at FROM locations WHERE kind = ? ORDER BY name`, kind,
		)
	} else {
		rows, err = q.QueryContext(ctx,
			`SELECT id, name, kind, created_at FROM locations ORDER BY name`,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("listing locations: %w", err)
	}
	defer rows.Close()

	var locations []model.Location
	for rows.Next() {
		var l model.Location
		if err := rows.Scan(&l.ID, &l.Name, &l.Kind, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning location: %w", err)
		}
		locations = append(locations, l)
	}
	return locations, rows.Err()
}

// RenameLocation updates a location's name.
func RenameLocation(ctx context.Context, q Querier, id int64, name string) error {
	result, err := q.ExecContext(ctx,
		`UPDATE locations SET name = ? WHERE id = ?`, name, id,
	)
	if err != nil {
		return fmt.Errorf("renaming location: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &model.NotFoundError{Entity: "location", ID: id}
	}
	return nil
}
