// Package store holds the SQL access functions. Every function takes a
// Querier so it can run on the pool or inside a transaction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/erazemk/zaloga/internal/model"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside a write transaction. The transaction is committed if
// fn returns nil and rolled back otherwise. Lock errors from SQLite are
// reported as *model.ContentionError.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", Translate(err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return Translate(err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", Translate(err))
	}
	return nil
}

// Translate converts SQLite busy/locked results into *model.ContentionError
// and leaves every other error untouched.
func Translate(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return &model.ContentionError{Resource: "database", Err: err}
	}
	return err
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		(se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE"))
}

// ErrDuplicate is returned when a unique key (SKU, serial code, request line
// item) already exists.
var ErrDuplicate = errors.New("duplicate entry")

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
