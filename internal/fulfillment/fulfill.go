package fulfillment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/erazemk/zaloga/internal/inventory"
	"github.com/erazemk/zaloga/internal/metrics"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
)

// Step is the outcome of one fulfillment attempt on a line.
type Step struct {
	LineID      int64                    `json:"line_id"`
	Quantity    int                      `json:"quantity"`
	Line        *model.RequestLine       `json:"line,omitempty"`
	Transaction *model.TransactionRecord `json:"transaction,omitempty"`
	Err         error                    `json:"-"`
}

// FulfillLine delivers quantity units of a line's pending quantity from the
// supplying to the requesting location. Zero delivers everything pending.
// The transfer and the line update commit together; if the transfer fails
// the line is unchanged.
func (s *Service) FulfillLine(ctx context.Context, requestID, lineID int64, quantity int, actor string) (*Step, error) {
	r, err := getRequest(ctx, s.db, requestID)
	if err != nil {
		return nil, s.count(err)
	}
	step := s.fulfill(ctx, r, lineID, quantity, actor)
	return step, step.Err
}

// FulfillAll delivers the pending quantity of every approved line. Lines are
// fulfilled concurrently, at most Config.FulfillConcurrency at a time, and
// independently: the returned steps carry a per-line error and a failed line
// does not affect the others. Only cancellation of ctx stops the remaining
// lines; it is returned alongside the steps attempted so far.
func (s *Service) FulfillAll(ctx context.Context, requestID int64, actor string) ([]Step, error) {
	r, err := getRequest(ctx, s.db, requestID)
	if err != nil {
		return nil, err
	}
	if r.Phase != model.PhaseSubmitted {
		return nil, s.stateError(r, "fulfill")
	}

	var lines []model.RequestLine
	for _, l := range r.Lines {
		if l.Pending() > 0 {
			lines = append(lines, l)
		}
	}

	steps := make([]Step, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FulfillConcurrency)
	for i, l := range lines {
		g.Go(func() error {
			steps[i] = *s.fulfill(gctx, r, l.ID, 0, actor)
			if err := steps[i].Err; errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return steps, fmt.Errorf("fulfilling request %d: %w", requestID, err)
	}
	return steps, nil
}

func (s *Service) fulfill(ctx context.Context, r *model.StockRequest, lineID int64, quantity int, actor string) *Step {
	step := &Step{LineID: lineID, Quantity: quantity}
	fail := func(err error) *Step {
		step.Err = s.count(err)
		return step
	}

	if r.Phase != model.PhaseSubmitted {
		return fail(s.stateError(r, "fulfill"))
	}
	l, ok := r.Line(lineID)
	if !ok {
		return fail(&model.NotFoundError{Entity: "request line", ID: lineID})
	}
	switch l.Status() {
	case model.StatusPendingApproval, model.StatusFulfilled:
		return fail(&model.InvalidStateError{Entity: "request line", ID: l.ID, State: l.Status().String(), Op: "fulfill"})
	}

	pending := l.Pending()
	switch {
	case quantity < 0:
		return fail(&model.InvalidTransferError{Reason: "fulfillment quantity cannot be negative"})
	case quantity == 0:
		quantity = pending
	case quantity > pending:
		return fail(&model.InvalidTransferError{
			Reason: fmt.Sprintf("cannot fulfill %d units, only %d pending", quantity, pending),
		})
	}
	step.Quantity = quantity

	var updated model.RequestLine
	rec, err := s.coord.TransferWithin(ctx, inventory.Movement{
		ItemID:   l.ItemID,
		From:     r.SupplyingLocationID,
		To:       r.RequestingLocationID,
		Quantity: quantity,
		Actor:    actor,
		Note:     fmt.Sprintf("%s line %d", r.Reference, l.ID),
	}, func(ctx context.Context, tx *sql.Tx, rec model.TransactionRecord) error {
		// The request may have been cancelled or the line fulfilled by a
		// concurrent caller since it was read.
		cur, err := getRequest(ctx, tx, r.ID)
		if err != nil {
			return err
		}
		if cur.Phase != model.PhaseSubmitted {
			return s.stateError(cur, "fulfill")
		}
		ok, err := store.AddLineFulfilled(ctx, tx, l.ID, quantity, rec.CreatedAt)
		if err != nil {
			return err
		}
		if !ok {
			return &model.InvalidTransferError{
				Reason: fmt.Sprintf("cannot fulfill %d units of line %d, exceeds pending quantity", quantity, l.ID),
			}
		}
		lines, err := store.ListRequestLines(ctx, tx, r.ID)
		if err != nil {
			return err
		}
		for _, nl := range lines {
			if nl.ID == l.ID {
				updated = nl
			}
		}
		return nil
	})
	if err != nil {
		return fail(err)
	}

	step.Line = &updated
	step.Transaction = rec
	s.count(nil)
	return step
}

func (s *Service) count(err error) error {
	s.metrics.Fulfillments.WithLabelValues(metrics.Result(err)).Inc()
	return err
}
