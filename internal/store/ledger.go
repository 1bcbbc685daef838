package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/zaloga/internal/model"
)

const ledgerColumns = `id, reference, type, item_id, source_location_id, destination_location_id,
	quantity, actor, batch_number, expires_at, note, created_at`

// InsertTransaction appends a record to the ledger and returns its ID. The
// record must already be validated; the table itself rejects updates and
// deletes.
func InsertTransaction(ctx context.Context, q Querier, r model.TransactionRecord) (int64, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO ledger (reference, type, item_id, source_location_id, destination_location_id,
		                     quantity, actor, batch_number, expires_at, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Reference, string(r.Type), r.ItemID, r.SourceLocationID, r.DestinationLocationID,
		r.Quantity, r.Actor, nullString(r.BatchNumber), r.ExpiresAt, nullString(r.Note), r.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("recording transaction: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting transaction id: %w", err)
	}
	return id, nil
}

// GetTransaction returns a ledger record by ID, or nil if it does not exist.
func GetTransaction(ctx context.Context, q Querier, id int64) (*model.TransactionRecord, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+ledgerColumns+` FROM ledger WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("getting transaction: %w", err)
	}
	defer rows.Close()

	records, err := scanTransactions(rows)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return &records[0], nil
}

// ListTransactions returns ledger records matching the filter, newest first.
// A location matches either side of a record.
func ListTransactions(ctx context.Context, q Querier, f model.TxFilter) ([]model.TransactionRecord, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger WHERE 1=1`
	var args []any

	if f.ItemID > 0 {
		query += ` AND item_id = ?`
		args = append(args, f.ItemID)
	}
	if f.LocationID > 0 {
		query += ` AND (source_location_id = ? OR destination_location_id = ?)`
		args = append(args, f.LocationID, f.LocationID)
	}
	if !f.From.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, f.To)
	}

	query += ` ORDER BY id DESC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// ItemTransactions returns every ledger record for an item in append order.
func ItemTransactions(ctx context.Context, q Querier, itemID int64) ([]model.TransactionRecord, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger WHERE item_id = ? ORDER BY id`, itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("replaying transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func scanTransactions(rows *sql.Rows) ([]model.TransactionRecord, error) {
	var records []model.TransactionRecord
	for rows.Next() {
		var r model.TransactionRecord
		var txType string
		var batch, note sql.NullString
		if err := rows.Scan(&r.ID, &r.Reference, &txType, &r.ItemID, &r.SourceLocationID, &r.DestinationLocationID,
			&r.Quantity, &r.Actor, &batch, &r.ExpiresAt, &note, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		t, err := model.ParseTxType(txType)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction %d: %w", r.ID, err)
		}
		r.Type = t
		r.BatchNumber = batch.String
		r.Note = note.String
		records = append(records, r)
	}
	return records, rows.Err()
}
