package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/zaloga/internal/model"
)

const requestColumns = `id, reference, requesting_location_id, supplying_location_id, phase,
	created_by, created_at, submitted_at, cancelled_at, updated_at`

// CreateRequest inserts a draft request header. Returns ErrDuplicate if the
// reference is taken.
func CreateRequest(ctx context.Context, q Querier, r model.StockRequest) (int64, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO stock_requests (reference, requesting_location_id, supplying_location_id, phase,
		                             created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Reference, r.RequestingLocationID, r.SupplyingLocationID, string(model.PhaseDraft),
		r.CreatedBy, r.CreatedAt, r.CreatedAt,
	)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("creating request %s: %w", r.Reference, ErrDuplicate)
	}
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting request id: %w", err)
	}
	return id, nil
}

// GetRequest returns a request with its lines, or nil if it does not exist.
func GetRequest(ctx context.Context, q Querier, id int64) (*model.StockRequest, error) {
	r := &model.StockRequest{}
	var phase string
	err := q.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM stock_requests WHERE id = ?`, id,
	).Scan(&r.ID, &r.Reference, &r.RequestingLocationID, &r.SupplyingLocationID, &phase,
		&r.CreatedBy, &r.CreatedAt, &r.SubmittedAt, &r.CancelledAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting request: %w", err)
	}
	r.Phase = model.RequestPhase(phase)

	lines, err := ListRequestLines(ctx, q, id)
	if err != nil {
		return nil, err
	}
	r.Lines = lines
	return r, nil
}

// ListRequests returns requests touching a location (as requester or
// supplier), newest first. Zero lists all requests. Lines are included.
func ListRequests(ctx context.Context, q Querier, locationID int64) ([]model.StockRequest, error) {
	query := `SELECT id FROM stock_requests`
	var args []any
	if locationID > 0 {
		query += ` WHERE requesting_location_id = ? OR supplying_location_id = ?`
		args = append(args, locationID, locationID)
	}
	query += ` ORDER BY id DESC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing requests: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning request: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing requests: %w", err)
	}

	requests := make([]model.StockRequest, 0, len(ids))
	for _, id := range ids {
		r, err := GetRequest(ctx, q, id)
		if err != nil {
			return nil, err
		}
		if r != nil {
			requests = append(requests, *r)
		}
	}
	return requests, nil
}

// SetRequestPhase moves a request to a new phase and stamps the matching
// timestamp.
func SetRequestPhase(ctx context.Context, q Querier, id int64, phase model.RequestPhase, now time.Time) error {
	var query string
	switch phase {
	case model.PhaseSubmitted:
		query = `UPDATE stock_requests SET phase = ?, submitted_at = ?, updated_at = ? WHERE id = ?`
	case model.PhaseCancelled:
		query = `UPDATE stock_requests SET phase = ?, cancelled_at = ?, updated_at = ? WHERE id = ?`
	default:
		return fmt.Errorf("cannot move request to phase %q", phase)
	}

	if _, err := q.ExecContext(ctx, query, string(phase), now, now, id); err != nil {
		return fmt.Errorf("updating request phase: %w", err)
	}
	return nil
}

// InsertRequestLine adds a line to a request. Returns ErrDuplicate if the
// request already has a line for the item.
func InsertRequestLine(ctx context.Context, q Querier, l model.RequestLine) (int64, error) {
	result, err := q.ExecContext(ctx,
		`INSERT INTO request_lines (request_id, item_id, quantity_requested, urgency, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		l.RequestID, l.ItemID, l.QuantityRequested, l.Urgency, l.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("adding line for item %d: %w", l.ItemID, ErrDuplicate)
	}
	if err != nil {
		return 0, fmt.Errorf("adding request line: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting request line id: %w", err)
	}
	return id, nil
}

// ListRequestLines returns the lines of a request in insertion order.
func ListRequestLines(ctx context.Context, q Querier, requestID int64) ([]model.RequestLine, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, request_id, item_id, quantity_requested, quantity_approved, quantity_fulfilled, urgency, updated_at
		 FROM request_lines WHERE request_id = ? ORDER BY id`, requestID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing request lines: %w", err)
	}
	defer rows.Close()

	var lines []model.RequestLine
	for rows.Next() {
		var l model.RequestLine
		if err := rows.Scan(&l.ID, &l.RequestID, &l.ItemID, &l.QuantityRequested, &l.QuantityApproved,
			&l.QuantityFulfilled, &l.Urgency, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning request line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// SetLineApproved records the approved quantity of a line.
func SetLineApproved(ctx context.Context, q Querier, lineID int64, approved int, now time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE request_lines SET quantity_approved = ?, updated_at = ? WHERE id = ?`,
		approved, now, lineID,
	)
	if err != nil {
		return fmt.Errorf("approving request line: %w", err)
	}
	return nil
}

// AddLineFulfilled increments the fulfilled quantity of a line. The update
// only applies while the result stays within the approved quantity, so it
// reports false instead of overshooting.
func AddLineFulfilled(ctx context.Context, q Querier, lineID int64, quantity int, now time.Time) (bool, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE request_lines SET quantity_fulfilled = quantity_fulfilled + ?, updated_at = ?
		 WHERE id = ? AND quantity_fulfilled + ? <= quantity_approved`,
		quantity, now, lineID, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("fulfilling request line: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("fulfilling request line: %w", err)
	}
	return n == 1, nil
}
