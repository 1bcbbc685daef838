// Package fulfillment runs the stock request lifecycle: a facility drafts a
// request, submits it, an approver sets approved quantities per line and
// the supplying location delivers them through inventory transfers.
package fulfillment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/erazemk/zaloga/internal/clock"
	"github.com/erazemk/zaloga/internal/inventory"
	"github.com/erazemk/zaloga/internal/metrics"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
)

// Config holds request approval policy.
type Config struct {
	// AllowOverApproval permits approving more than was requested.
	AllowOverApproval bool

	// MixedApproval lets the request header advance while some lines are
	// still pending approval.
	MixedApproval bool

	// FulfillConcurrency bounds how many lines FulfillAll delivers at once.
	// Zero means DefaultFulfillConcurrency.
	FulfillConcurrency int
}

// DefaultFulfillConcurrency is the FulfillAll line limit when none is set.
const DefaultFulfillConcurrency = 4

// Service manages stock requests.
type Service struct {
	db      *sql.DB
	coord   *inventory.Coordinator
	dir     inventory.Directory
	clock   clock.Clock
	metrics *metrics.Metrics
	cfg     Config
}

// NewService returns a request service that delivers stock through coord.
func NewService(db *sql.DB, coord *inventory.Coordinator, dir inventory.Directory, clk clock.Clock, m *metrics.Metrics, cfg Config) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if cfg.FulfillConcurrency <= 0 {
		cfg.FulfillConcurrency = DefaultFulfillConcurrency
	}
	return &Service{db: db, coord: coord, dir: dir, clock: clk, metrics: m, cfg: cfg}
}

// Status derives the header status of r under the service's policy.
func (s *Service) Status(r *model.StockRequest) model.RequestStatus {
	return r.Status(s.cfg.MixedApproval)
}

// Get returns a request with its lines.
func (s *Service) Get(ctx context.Context, id int64) (*model.StockRequest, error) {
	return getRequest(ctx, s.db, id)
}

// List returns requests where locationID is the requester or the supplier,
// newest first. Zero lists every request.
func (s *Service) List(ctx context.Context, locationID int64) ([]model.StockRequest, error) {
	return store.ListRequests(ctx, s.db, locationID)
}

// Create opens a draft request from requesting for stock held at supplying.
func (s *Service) Create(ctx context.Context, requesting, supplying int64, actor string) (*model.StockRequest, error) {
	if requesting == supplying {
		return nil, &model.InvalidTransferError{Reason: "requesting and supplying location are the same"}
	}
	if _, err := s.dir.Location(ctx, requesting); err != nil {
		return nil, err
	}
	if _, err := s.dir.Location(ctx, supplying); err != nil {
		return nil, err
	}

	r := model.StockRequest{
		RequestingLocationID: requesting,
		SupplyingLocationID:  supplying,
		Phase:                model.PhaseDraft,
		CreatedBy:            actor,
		CreatedAt:            s.clock.Now(),
	}

	// References are random; retry the rare collision.
	var id int64
	var err error
	for range 3 {
		r.Reference = newReference()
		id, err = store.CreateRequest(ctx, s.db, r)
		if !errors.Is(err, store.ErrDuplicate) {
			break
		}
	}
	if err != nil {
		return nil, store.Translate(err)
	}
	return s.Get(ctx, id)
}

// AddLine adds an item to a draft request.
func (s *Service) AddLine(ctx context.Context, requestID, itemID int64, quantity int, urgency string) (*model.RequestLine, error) {
	if quantity <= 0 {
		return nil, &model.InvalidTransferError{Reason: fmt.Sprintf("requested quantity must be positive, got %d", quantity)}
	}
	if urgency == "" {
		urgency = model.UrgencyRoutine
	}
	if !model.ValidUrgency(urgency) {
		return nil, &model.InvalidTransferError{Reason: fmt.Sprintf("unknown urgency %q", urgency)}
	}
	if _, err := s.dir.Item(ctx, itemID); err != nil {
		return nil, err
	}

	var line model.RequestLine
	err := store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		r, err := getRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if r.Phase != model.PhaseDraft {
			return s.stateError(r, "add a line to")
		}

		line = model.RequestLine{
			RequestID:         requestID,
			ItemID:            itemID,
			QuantityRequested: quantity,
			Urgency:           urgency,
			UpdatedAt:         s.clock.Now(),
		}
		line.ID, err = store.InsertRequestLine(ctx, tx, line)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &line, nil
}

// Submit sends a draft request for approval. It must have at least one line.
func (s *Service) Submit(ctx context.Context, requestID int64) (*model.StockRequest, error) {
	err := store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		r, err := getRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if r.Phase != model.PhaseDraft {
			return s.stateError(r, "submit")
		}
		if len(r.Lines) == 0 {
			return &model.InvalidStateError{Entity: "request", ID: r.ID, State: "draft without lines", Op: "submit"}
		}
		return store.SetRequestPhase(ctx, tx, requestID, model.PhaseSubmitted, s.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, requestID)
}

// ApproveLine sets the approved quantity of a line. Zero leaves the line
// pending. The approved quantity may not drop below what was already
// delivered, and may exceed the requested quantity only when the service
// allows over-approval. Fulfilled lines and fulfilled requests are closed
// and reject approval with *model.InvalidStateError.
func (s *Service) ApproveLine(ctx context.Context, requestID, lineID int64, approved int) (*model.RequestLine, error) {
	var line model.RequestLine
	err := store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		r, err := getRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if r.Phase != model.PhaseSubmitted || s.Status(r) == model.StatusFulfilled {
			return s.stateError(r, "approve")
		}
		l, ok := r.Line(lineID)
		if !ok {
			return &model.NotFoundError{Entity: "request line", ID: lineID}
		}
		if l.Status() == model.StatusFulfilled {
			return &model.InvalidStateError{Entity: "request line", ID: l.ID, State: l.Status().String(), Op: "approve"}
		}

		switch {
		case approved < 0:
			return &model.InvalidTransferError{Reason: "approved quantity cannot be negative"}
		case approved < l.QuantityFulfilled:
			return &model.InvalidTransferError{
				Reason: fmt.Sprintf("approved quantity %d is below the %d already fulfilled", approved, l.QuantityFulfilled),
			}
		case approved > l.QuantityRequested && !s.cfg.AllowOverApproval:
			return &model.InvalidTransferError{
				Reason: fmt.Sprintf("approved quantity %d exceeds the %d requested", approved, l.QuantityRequested),
			}
		}

		now := s.clock.Now()
		if err := store.SetLineApproved(ctx, tx, lineID, approved, now); err != nil {
			return err
		}
		line = *l
		line.QuantityApproved = approved
		line.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &line, nil
}

// Cancel cancels a request in any state except fulfilled.
func (s *Service) Cancel(ctx context.Context, requestID int64) (*model.StockRequest, error) {
	err := store.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		r, err := getRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		switch s.Status(r) {
		case model.StatusCancelled, model.StatusFulfilled:
			return s.stateError(r, "cancel")
		}
		return store.SetRequestPhase(ctx, tx, requestID, model.PhaseCancelled, s.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, requestID)
}

func (s *Service) stateError(r *model.StockRequest, op string) error {
	return &model.InvalidStateError{Entity: "request", ID: r.ID, State: s.Status(r).String(), Op: op}
}

func getRequest(ctx context.Context, q store.Querier, id int64) (*model.StockRequest, error) {
	r, err := store.GetRequest(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, &model.NotFoundError{Entity: "request", ID: id}
	}
	return r, nil
}

// newReference returns a short human-facing request code like REQ-1A2B3C4D.
func newReference() string {
	id := uuid.New()
	return "REQ-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
}
