package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// RequestStatus is the lifecycle position of a request or one of its lines.
// Values are ordered: a header's status is the minimum of its lines.
type RequestStatus int

// Request statuses, in lifecycle order.
const (
	StatusDraft RequestStatus = iota
	StatusPendingApproval
	StatusApproved
	StatusPartiallyFulfilled
	StatusFulfilled
	StatusCancelled
)

var requestStatusNames = [...]string{
	StatusDraft:              "draft",
	StatusPendingApproval:    "pending_approval",
	StatusApproved:           "approved",
	StatusPartiallyFulfilled: "partially_fulfilled",
	StatusFulfilled:          "fulfilled",
	StatusCancelled:          "cancelled",
}

func (s RequestStatus) String() string {
	if s < 0 || int(s) >= len(requestStatusNames) {
		return fmt.Sprintf("RequestStatus(%d)", int(s))
	}
	return requestStatusNames[s]
}

// MarshalText encodes the status by name.
func (s RequestStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *RequestStatus) UnmarshalText(b []byte) error {
	for i, n := range requestStatusNames {
		if n == string(b) {
			*s = RequestStatus(i)
			return nil
		}
	}
	return fmt.Errorf("invalid request status: %q", b)
}

// RequestPhase is the part of a request's lifecycle that is not derivable
// from its lines: whether it has been submitted or cancelled.
type RequestPhase string

// Request phases.
const (
	PhaseDraft     RequestPhase = "draft"
	PhaseSubmitted RequestPhase = "submitted"
	PhaseCancelled RequestPhase = "cancelled"
)

// Urgency levels for request lines.
const (
	UrgencyRoutine  = "routine"
	UrgencyUrgent   = "urgent"
	UrgencyCritical = "critical"
)

// ValidUrgency reports whether u is a known urgency level.
func ValidUrgency(u string) bool {
	switch u {
	case UrgencyRoutine, UrgencyUrgent, UrgencyCritical:
		return true
	}
	return false
}

// StockRequest is a facility's demand for stock from a supplying location.
type StockRequest struct {
	ID                   int64         `json:"id"`
	Reference            string        `json:"reference"`
	RequestingLocationID int64         `json:"requesting_location_id"`
	SupplyingLocationID  int64         `json:"supplying_location_id"`
	Phase                RequestPhase  `json:"-"`
	CreatedBy            string        `json:"created_by"`
	CreatedAt            time.Time     `json:"created_at"`
	SubmittedAt          *time.Time    `json:"submitted_at,omitempty"`
	CancelledAt          *time.Time    `json:"cancelled_at,omitempty"`
	UpdatedAt            time.Time     `json:"updated_at"`
	Lines                []RequestLine `json:"lines"`
}

// Status derives the header status from the phase and line states. When
// mixed is true the header may advance to approved while some lines are
// still pending approval. A pending line counts as approved with nothing
// delivered, so the header never passes approved until every line has been
// approved and approving the rest never moves it backwards.
func (r *StockRequest) Status(mixed bool) RequestStatus {
	switch r.Phase {
	case PhaseCancelled:
		return StatusCancelled
	case PhaseDraft, "":
		return StatusDraft
	}
	if len(r.Lines) == 0 {
		return StatusPendingApproval
	}

	lowest := StatusFulfilled
	seen, pending := false, false
	for _, l := range r.Lines {
		s := l.Status()
		if mixed && s == StatusPendingApproval {
			pending = true
			continue
		}
		seen = true
		lowest = min(lowest, s)
	}
	if !seen {
		return StatusPendingApproval
	}
	if pending {
		lowest = min(lowest, StatusApproved)
	}
	return lowest
}

// Line returns the line with the given ID.
func (r *StockRequest) Line(id int64) (*RequestLine, bool) {
	for i := range r.Lines {
		if r.Lines[i].ID == id {
			return &r.Lines[i], true
		}
	}
	return nil, false
}

// RequestLine is one item of a stock request.
type RequestLine struct {
	ID                int64     `json:"id"`
	RequestID         int64     `json:"request_id"`
	ItemID            int64     `json:"item_id"`
	QuantityRequested int       `json:"quantity_requested"`
	QuantityApproved  int       `json:"quantity_approved"`
	QuantityFulfilled int       `json:"quantity_fulfilled"`
	Urgency           string    `json:"urgency"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Pending is the approved quantity not yet delivered.
func (l RequestLine) Pending() int {
	if p := l.QuantityApproved - l.QuantityFulfilled; p > 0 {
		return p
	}
	return 0
}

// FulfillmentPercent is the delivered share of the approved quantity, 0-100.
func (l RequestLine) FulfillmentPercent() float64 {
	if l.QuantityApproved == 0 {
		return 0
	}
	return float64(l.QuantityFulfilled) / float64(l.QuantityApproved) * 100
}

// Status derives the line status from its counters.
func (l RequestLine) Status() RequestStatus {
	switch {
	case l.QuantityApproved == 0:
		return StatusPendingApproval
	case l.QuantityFulfilled == 0:
		return StatusApproved
	case l.QuantityFulfilled < l.QuantityApproved:
		return StatusPartiallyFulfilled
	default:
		return StatusFulfilled
	}
}

// MarshalJSON includes the derived pending quantity, percentage and status.
func (l RequestLine) MarshalJSON() ([]byte, error) {
	type line RequestLine
	return json.Marshal(struct {
		line
		QuantityPending    int           `json:"quantity_pending"`
		FulfillmentPercent float64       `json:"fulfillment_percent"`
		Status             RequestStatus `json:"status"`
	}{line(l), l.Pending(), l.FulfillmentPercent(), l.Status()})
}
