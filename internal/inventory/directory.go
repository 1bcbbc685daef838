package inventory

import (
	"context"
	"database/sql"

	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
)

// Directory resolves catalog items and locations. It is the narrow view of
// the catalog and location registry the stock components depend on.
type Directory interface {
	Item(ctx context.Context, id int64) (*model.Item, error)
	Location(ctx context.Context, id int64) (*model.Location, error)
}

// NewDirectory returns a Directory reading from the database.
func NewDirectory(db *sql.DB) Directory {
	return sqlDirectory{db: db}
}

type sqlDirectory struct {
	db *sql.DB
}

// Item returns the item or *model.NotFoundError.
func (d sqlDirectory) Item(ctx context.Context, id int64) (*model.Item, error) {
	item, err := store.GetItem(ctx, d.db, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, &model.NotFoundError{Entity: "item", ID: id}
	}
	return item, nil
}

// Location returns the location or *model.NotFoundError.
func (d sqlDirectory) Location(ctx context.Context, id int64) (*model.Location, error) {
	loc, err := store.GetLocation(ctx, d.db, id)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		return nil, &model.NotFoundError{Entity: "location", ID: id}
	}
	return loc, nil
}
