package fulfillment

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/zaloga/internal/clock"
	"github.com/erazemk/zaloga/internal/db"
	"github.com/erazemk/zaloga/internal/inventory"
	"github.com/erazemk/zaloga/internal/metrics"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
)

var testNow = time.Date(2025, 4, 2, 8, 30, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	inv      *inventory.Inventory
	metrics  *metrics.Metrics
	store    *model.Location
	facility *model.Location
	gloves   *model.Item
	masks    *model.Item
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()
	database := db.NewTestDB(t)

	gloves, err := store.CreateItem(ctx, database, model.Item{SKU: "GLV", Name: "Gloves"}, testNow)
	require.NoError(t, err)
	masks, err := store.CreateItem(ctx, database, model.Item{SKU: "MSK", Name: "Masks"}, testNow)
	require.NoError(t, err)
	st, err := store.CreateLocation(ctx, database, "Central store", model.LocationKindStore, testNow)
	require.NoError(t, err)
	fac, err := store.CreateLocation(ctx, database, "Clinic A", model.LocationKindFacility, testNow)
	require.NoError(t, err)

	clk := clock.NewManual(testNow)
	m := metrics.New(nil)
	inv := inventory.New(database, inventory.Config{LockTimeout: 5 * time.Second}, clk, m)

	return &fixture{
		svc:      NewService(database, inv.Coordinator, inv.Directory, clk, m, cfg),
		inv:      inv,
		metrics:  m,
		store:    st,
		facility: fac,
		gloves:   gloves,
		masks:    masks,
	}
}

func (f *fixture) stock(t *testing.T, item *model.Item, qty int) {
	t.Helper()
	_, err := f.inv.Coordinator.StockIn(context.Background(), item.ID, f.store.ID, qty, model.Batch{}, "tester", "")
	require.NoError(t, err)
}

// submitted creates and submits a request with one line per quantity, using
// gloves for the first line and masks for the second.
func (f *fixture) submitted(t *testing.T, qtys ...int) *model.StockRequest {
	t.Helper()
	ctx := context.Background()
	r, err := f.svc.Create(ctx, f.facility.ID, f.store.ID, "nurse")
	require.NoError(t, err)

	items := []*model.Item{f.gloves, f.masks}
	for i, q := range qtys {
		_, err := f.svc.AddLine(ctx, r.ID, items[i].ID, q, "")
		require.NoError(t, err)
	}
	r, err = f.svc.Submit(ctx, r.ID)
	require.NoError(t, err)
	return r
}

func TestCreateAssignsReference(t *testing.T) {
	f := newFixture(t, Config{})

	r, err := f.svc.Create(context.Background(), f.facility.ID, f.store.ID, "nurse")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^REQ-[0-9A-F]{8}$`), r.Reference)
	assert.Equal(t, model.StatusDraft, f.svc.Status(r))
	assert.Equal(t, "nurse", r.CreatedBy)

	_, err = f.svc.Create(context.Background(), f.store.ID, f.store.ID, "nurse")
	assert.ErrorIs(t, err, model.ErrInvalidTransfer)
	_, err = f.svc.Create(context.Background(), f.facility.ID, 999, "nurse")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestAddLineRules(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	r, err := f.svc.Create(ctx, f.facility.ID, f.store.ID, "nurse")
	require.NoError(t, err)

	line, err := f.svc.AddLine(ctx, r.ID, f.gloves.ID, 10, model.UrgencyCritical)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingApproval, line.Status())

	_, err = f.svc.AddLine(ctx, r.ID, f.gloves.ID, 5, "")
	assert.ErrorIs(t, err, store.ErrDuplicate)
	_, err = f.svc.AddLine(ctx, r.ID, f.masks.ID, 0, "")
	assert.ErrorIs(t, err, model.ErrInvalidTransfer)
	_, err = f.svc.AddLine(ctx, r.ID, f.masks.ID, 1, "whenever")
	assert.ErrorIs(t, err, model.ErrInvalidTransfer)
	_, err = f.svc.AddLine(ctx, r.ID, 999, 1, "")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.svc.Submit(ctx, r.ID)
	require.NoError(t, err)
	_, err = f.svc.AddLine(ctx, r.ID, f.masks.ID, 1, "")
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestSubmitRequiresLines(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	r, err := f.svc.Create(ctx, f.facility.ID, f.store.ID, "nurse")
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, r.ID)
	assert.ErrorIs(t, err, model.ErrInvalidState)

	_, err = f.svc.Submit(ctx, 999)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSubmitMovesToPendingApproval(t *testing.T) {
	f := newFixture(t, Config{})
	r := f.submitted(t, 10)

	assert.Equal(t, model.StatusPendingApproval, f.svc.Status(r))
	require.NotNil(t, r.SubmittedAt)

	_, err := f.svc.Submit(context.Background(), r.ID)
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestApproveLinePolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("strict", func(t *testing.T) {
		f := newFixture(t, Config{})
		r := f.submitted(t, 50)
		lineID := r.Lines[0].ID

		_, err := f.svc.ApproveLine(ctx, r.ID, lineID, 60)
		assert.ErrorIs(t, err, model.ErrInvalidTransfer)
		_, err = f.svc.ApproveLine(ctx, r.ID, lineID, -1)
		assert.ErrorIs(t, err, model.ErrInvalidTransfer)
		_, err = f.svc.ApproveLine(ctx, r.ID, 999, 1)
		assert.ErrorIs(t, err, model.ErrNotFound)

		line, err := f.svc.ApproveLine(ctx, r.ID, lineID, 40)
		require.NoError(t, err)
		assert.Equal(t, model.StatusApproved, line.Status())
	})

	t.Run("over-approval", func(t *testing.T) {
		f := newFixture(t, Config{AllowOverApproval: true})
		r := f.submitted(t, 50)

		line, err := f.svc.ApproveLine(ctx, r.ID, r.Lines[0].ID, 60)
		require.NoError(t, err)
		assert.Equal(t, 60, line.QuantityApproved)
	})

	t.Run("not below fulfilled", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.stock(t, f.gloves, 100)
		r := f.submitted(t, 50)
		lineID := r.Lines[0].ID

		_, err := f.svc.ApproveLine(ctx, r.ID, lineID, 40)
		require.NoError(t, err)
		_, err = f.svc.FulfillLine(ctx, r.ID, lineID, 25, "clerk")
		require.NoError(t, err)

		_, err = f.svc.ApproveLine(ctx, r.ID, lineID, 20)
		assert.ErrorIs(t, err, model.ErrInvalidTransfer)
	})
}

func TestHeaderStatusWithPendingLines(t *testing.T) {
	ctx := context.Background()

	for _, tt := range []struct {
		mixed bool
		want  model.RequestStatus
	}{
		{false, model.StatusPendingApproval},
		{true, model.StatusApproved},
	} {
		f := newFixture(t, Config{MixedApproval: tt.mixed})
		r := f.submitted(t, 10, 5)

		_, err := f.svc.ApproveLine(ctx, r.ID, r.Lines[0].ID, 10)
		require.NoError(t, err)

		r, err = f.svc.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, tt.want, f.svc.Status(r), "mixed=%v", tt.mixed)
	}
}

func TestFulfilledRequestRejectsApproval(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.stock(t, f.gloves, 100)
	r := f.submitted(t, 50)
	lineID := r.Lines[0].ID

	_, err := f.svc.ApproveLine(ctx, r.ID, lineID, 40)
	require.NoError(t, err)
	_, err = f.svc.FulfillLine(ctx, r.ID, lineID, 0, "clerk")
	require.NoError(t, err)

	_, err = f.svc.ApproveLine(ctx, r.ID, lineID, 50)
	var se *model.InvalidStateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "fulfilled", se.State)

	r, err = f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFulfilled, f.svc.Status(r))
	assert.Equal(t, 40, r.Lines[0].QuantityApproved)
}

func TestFulfilledLineRejectsApproval(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.stock(t, f.gloves, 100)
	r := f.submitted(t, 10, 5)

	_, err := f.svc.ApproveLine(ctx, r.ID, r.Lines[0].ID, 10)
	require.NoError(t, err)
	_, err = f.svc.ApproveLine(ctx, r.ID, r.Lines[1].ID, 5)
	require.NoError(t, err)
	_, err = f.svc.FulfillLine(ctx, r.ID, r.Lines[0].ID, 0, "clerk")
	require.NoError(t, err)

	// The request is still open, but the delivered line is closed.
	_, err = f.svc.ApproveLine(ctx, r.ID, r.Lines[0].ID, 10)
	assert.ErrorIs(t, err, model.ErrInvalidState)
	_, err = f.svc.ApproveLine(ctx, r.ID, r.Lines[1].ID, 4)
	assert.NoError(t, err)
}

func TestMixedApprovalNeverReportsFulfilledWithPendingLines(t *testing.T) {
	f := newFixture(t, Config{MixedApproval: true})
	ctx := context.Background()
	f.stock(t, f.gloves, 100)
	f.stock(t, f.masks, 100)
	r := f.submitted(t, 10, 5)
	first, second := r.Lines[0].ID, r.Lines[1].ID

	_, err := f.svc.ApproveLine(ctx, r.ID, first, 10)
	require.NoError(t, err)
	_, err = f.svc.FulfillLine(ctx, r.ID, first, 0, "clerk")
	require.NoError(t, err)

	status := func() model.RequestStatus {
		t.Helper()
		r, err := f.svc.Get(ctx, r.ID)
		require.NoError(t, err)
		return f.svc.Status(r)
	}
	assert.Equal(t, model.StatusApproved, status())

	// Approving the open line does not move the header backwards.
	_, err = f.svc.ApproveLine(ctx, r.ID, second, 5)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, status())

	_, err = f.svc.FulfillLine(ctx, r.ID, second, 2, "clerk")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPartiallyFulfilled, status())

	_, err = f.svc.FulfillLine(ctx, r.ID, second, 0, "clerk")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFulfilled, status())
}

func TestMixedApprovalRequestWithPendingLineCanBeCancelled(t *testing.T) {
	f := newFixture(t, Config{MixedApproval: true})
	ctx := context.Background()
	f.stock(t, f.gloves, 100)
	r := f.submitted(t, 10, 5)

	_, err := f.svc.ApproveLine(ctx, r.ID, r.Lines[0].ID, 10)
	require.NoError(t, err)
	_, err = f.svc.FulfillLine(ctx, r.ID, r.Lines[0].ID, 0, "clerk")
	require.NoError(t, err)

	r, err = f.svc.Cancel(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, f.svc.Status(r))
}

func TestPartialThenFullFulfillment(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.stock(t, f.gloves, 100)
	r := f.submitted(t, 50)
	lineID := r.Lines[0].ID

	_, err := f.svc.ApproveLine(ctx, r.ID, lineID, 40)
	require.NoError(t, err)

	step, err := f.svc.FulfillLine(ctx, r.ID, lineID, 25, "clerk")
	require.NoError(t, err)
	assert.Equal(t, 25, step.Line.QuantityFulfilled)
	assert.Equal(t, 15, step.Line.Pending())
	assert.Equal(t, model.StatusPartiallyFulfilled, step.Line.Status())
	require.NotNil(t, step.Transaction)
	assert.Equal(t, model.TxTransfer, step.Transaction.Type)
	assert.Contains(t, step.Transaction.Note, r.Reference)

	step, err = f.svc.FulfillLine(ctx, r.ID, lineID, 15, "clerk")
	require.NoError(t, err)
	assert.Equal(t, 40, step.Line.QuantityFulfilled)
	assert.Equal(t, 0, step.Line.Pending())
	assert.Equal(t, model.StatusFulfilled, step.Line.Status())

	r, err = f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFulfilled, f.svc.Status(r))

	b, err := f.inv.Balances.Get(ctx, f.gloves.ID, f.facility.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, b.Quantity)

	_, err = f.svc.FulfillLine(ctx, r.ID, lineID, 1, "clerk")
	assert.ErrorIs(t, err, model.ErrInvalidState)
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.Fulfillments.WithLabelValues("ok")))
}

func TestFulfillInsufficientStockLeavesLine(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.stock(t, f.gloves, 5)
	r := f.submitted(t, 20)
	lineID := r.Lines[0].ID

	_, err := f.svc.ApproveLine(ctx, r.ID, lineID, 20)
	require.NoError(t, err)

	_, err = f.svc.FulfillLine(ctx, r.ID, lineID, 20, "clerk")
	assert.ErrorIs(t, err, model.ErrInsufficientStock)

	r, err = f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Lines[0].QuantityFulfilled)
	assert.Equal(t, model.StatusApproved, r.Lines[0].Status())

	b, err := f.inv.Balances.Get(ctx, f.gloves.ID, f.store.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, b.Quantity)
}

func TestFulfillQuantityRules(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.stock(t, f.gloves, 100)
	r := f.submitted(t, 10)
	lineID := r.Lines[0].ID

	_, err := f.svc.FulfillLine(ctx, r.ID, lineID, 5, "clerk")
	assert.ErrorIs(t, err, model.ErrInvalidState, "line not approved yet")

	_, err = f.svc.ApproveLine(ctx, r.ID, lineID, 10)
	require.NoError(t, err)

	_, err = f.svc.FulfillLine(ctx, r.ID, lineID, 11, "clerk")
	assert.ErrorIs(t, err, model.ErrInvalidTransfer)
	_, err = f.svc.FulfillLine(ctx, r.ID, lineID, -1, "clerk")
	assert.ErrorIs(t, err, model.ErrInvalidTransfer)
	_, err = f.svc.FulfillLine(ctx, r.ID, 999, 1, "clerk")
	assert.ErrorIs(t, err, model.ErrNotFound)

	step, err := f.svc.FulfillLine(ctx, r.ID, lineID, 0, "clerk")
	require.NoError(t, err)
	assert.Equal(t, 10, step.Quantity)
	assert.Equal(t, model.StatusFulfilled, step.Line.Status())
}

func TestFulfillAllIsolatesLines(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.stock(t, f.gloves, 100)
	f.stock(t, f.masks, 3)
	r := f.submitted(t, 10, 8)

	for _, l := range r.Lines {
		_, err := f.svc.ApproveLine(ctx, r.ID, l.ID, l.QuantityRequested)
		require.NoError(t, err)
	}

	steps, err := f.svc.FulfillAll(ctx, r.ID, "clerk")
	require.NoError(t, err)
	require.Len(t, steps, 2)

	byLine := map[int64]Step{}
	for _, s := range steps {
		byLine[s.LineID] = s
	}
	assert.NoError(t, byLine[r.Lines[0].ID].Err)
	assert.ErrorIs(t, byLine[r.Lines[1].ID].Err, model.ErrInsufficientStock)

	r, err = f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, r.Lines[0].QuantityFulfilled)
	assert.Equal(t, 0, r.Lines[1].QuantityFulfilled)
	assert.Equal(t, model.StatusApproved, f.svc.Status(r))
}

func TestFulfillAllRespectsConcurrencyLimit(t *testing.T) {
	f := newFixture(t, Config{FulfillConcurrency: 1})
	ctx := context.Background()
	f.stock(t, f.gloves, 100)
	f.stock(t, f.masks, 100)
	r := f.submitted(t, 10, 8)

	for _, l := range r.Lines {
		_, err := f.svc.ApproveLine(ctx, r.ID, l.ID, l.QuantityRequested)
		require.NoError(t, err)
	}

	steps, err := f.svc.FulfillAll(ctx, r.ID, "clerk")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	for _, s := range steps {
		assert.NoError(t, s.Err)
	}

	r, err = f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFulfilled, f.svc.Status(r))
}

func TestFulfillAllStopsOnCancel(t *testing.T) {
	f := newFixture(t, Config{})
	f.stock(t, f.gloves, 100)
	r := f.submitted(t, 10)
	_, err := f.svc.ApproveLine(context.Background(), r.ID, r.Lines[0].ID, 10)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.svc.FulfillAll(ctx, r.ID, "clerk")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, model.IsRetryable(err))

	r, err = f.svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Lines[0].QuantityFulfilled)
}

func TestConcurrentFulfillNeverExceedsApproved(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.stock(t, f.gloves, 100)
	r := f.submitted(t, 10)
	lineID := r.Lines[0].ID
	_, err := f.svc.ApproveLine(ctx, r.ID, lineID, 10)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.svc.FulfillLine(ctx, r.ID, lineID, 3, "clerk")
		}()
	}
	wg.Wait()

	r, err = f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	fulfilled := r.Lines[0].QuantityFulfilled
	assert.LessOrEqual(t, fulfilled, 10)
	assert.Equal(t, 9, fulfilled)

	b, err := f.inv.Balances.Get(ctx, f.gloves.ID, f.facility.ID)
	require.NoError(t, err)
	assert.Equal(t, fulfilled, b.Quantity, "delivered stock matches fulfilled quantity")
}

func TestCancel(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.stock(t, f.gloves, 100)

	r := f.submitted(t, 10)
	r, err := f.svc.Cancel(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, f.svc.Status(r))
	require.NotNil(t, r.CancelledAt)

	_, err = f.svc.Cancel(ctx, r.ID)
	assert.ErrorIs(t, err, model.ErrInvalidState)
	_, err = f.svc.ApproveLine(ctx, r.ID, r.Lines[0].ID, 10)
	assert.ErrorIs(t, err, model.ErrInvalidState)
	_, err = f.svc.FulfillLine(ctx, r.ID, r.Lines[0].ID, 1, "clerk")
	assert.ErrorIs(t, err, model.ErrInvalidState)

	done := f.submitted(t, 10)
	_, err = f.svc.ApproveLine(ctx, done.ID, done.Lines[0].ID, 10)
	require.NoError(t, err)
	_, err = f.svc.FulfillLine(ctx, done.ID, done.Lines[0].ID, 0, "clerk")
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, done.ID)
	assert.ErrorIs(t, err, model.ErrInvalidState)

	list, err := f.svc.List(ctx, f.facility.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
