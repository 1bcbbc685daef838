package api

import (
	"log/slog"
	"net/http"

	"github.com/erazemk/zaloga/internal/fulfillment"
	"github.com/erazemk/zaloga/internal/model"
)

// RequestsHandler handles stock request endpoints.
type RequestsHandler struct {
	Requests *fulfillment.Service
}

type createRequestRequest struct {
	RequestingLocationID int64 `json:"requesting_location_id"`
	SupplyingLocationID  int64 `json:"supplying_location_id"`
}

type addLineRequest struct {
	ItemID   int64  `json:"item_id"`
	Quantity int    `json:"quantity"`
	Urgency  string `json:"urgency"`
}

type approveRequest struct {
	Quantity int `json:"quantity"`
}

type fulfillRequest struct {
	// Quantity zero delivers everything pending.
	Quantity int `json:"quantity"`
}

// requestView adds the derived header status.
type requestView struct {
	*model.StockRequest
	Status model.RequestStatus `json:"status"`
}

// stepView reports one fulfillment attempt.
type stepView struct {
	fulfillment.Step
	Error string `json:"error,omitempty"`
}

func (h *RequestsHandler) view(r *model.StockRequest) requestView {
	if r.Lines == nil {
		r.Lines = []model.RequestLine{}
	}
	return requestView{StockRequest: r, Status: h.Requests.Status(r)}
}

// List handles GET /api/requests?location_id=.
func (h *RequestsHandler) List(w http.ResponseWriter, r *http.Request) {
	locationID, err := queryID(r, "location_id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	requests, err := h.Requests.List(r.Context(), locationID)
	if err != nil {
		writeError(w, err, "list requests")
		return
	}

	out := make([]requestView, len(requests))
	for i := range requests {
		out[i] = h.view(&requests[i])
	}
	jsonResponse(w, http.StatusOK, out)
}

// Create handles POST /api/requests.
func (h *RequestsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sr, err := h.Requests.Create(r.Context(), req.RequestingLocationID, req.SupplyingLocationID, actor(r))
	if err != nil {
		writeError(w, err, "create request")
		return
	}

	slog.Info("request created", "user", actor(r), "reference", sr.Reference,
		"requesting", sr.RequestingLocationID, "supplying", sr.SupplyingLocationID)
	jsonResponse(w, http.StatusCreated, h.view(sr))
}

// Get handles GET /api/requests/{id}.
func (h *RequestsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	sr, err := h.Requests.Get(r.Context(), id)
	if err != nil {
		writeError(w, err, "get request")
		return
	}
	jsonResponse(w, http.StatusOK, h.view(sr))
}

// AddLine handles POST /api/requests/{id}/lines.
func (h *RequestsHandler) AddLine(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	var req addLineRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	line, err := h.Requests.AddLine(r.Context(), id, req.ItemID, req.Quantity, req.Urgency)
	if err != nil {
		writeError(w, err, "add request line")
		return
	}
	jsonResponse(w, http.StatusCreated, line)
}

// Submit handles POST /api/requests/{id}/submit.
func (h *RequestsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	sr, err := h.Requests.Submit(r.Context(), id)
	if err != nil {
		writeError(w, err, "submit request")
		return
	}

	slog.Info("request submitted", "user", actor(r), "reference", sr.Reference, "lines", len(sr.Lines))
	jsonResponse(w, http.StatusOK, h.view(sr))
}

// Approve handles PUT /api/requests/{id}/lines/{line}/approve.
func (h *RequestsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	lineID, err := pathID(r, "line")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid line id")
		return
	}

	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	line, err := h.Requests.ApproveLine(r.Context(), id, lineID, req.Quantity)
	if err != nil {
		writeError(w, err, "approve line")
		return
	}

	slog.Info("request line approved", "user", actor(r), "request", id, "line", lineID,
		"requested", line.QuantityRequested, "approved", line.QuantityApproved)
	jsonResponse(w, http.StatusOK, line)
}

// FulfillLine handles POST /api/requests/{id}/lines/{line}/fulfill.
func (h *RequestsHandler) FulfillLine(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	lineID, err := pathID(r, "line")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid line id")
		return
	}

	var req fulfillRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	step, err := h.Requests.FulfillLine(r.Context(), id, lineID, req.Quantity, actor(r))
	if err != nil {
		writeError(w, err, "fulfill line")
		return
	}

	slog.Info("request line fulfilled", "user", actor(r), "request", id, "line", lineID,
		"quantity", step.Quantity, "reference", step.Transaction.Reference)
	jsonResponse(w, http.StatusOK, stepView{Step: *step})
}

// FulfillAll handles POST /api/requests/{id}/fulfill. The response lists
// one result per line; lines that failed carry an error and are unchanged.
func (h *RequestsHandler) FulfillAll(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	steps, err := h.Requests.FulfillAll(r.Context(), id, actor(r))
	if err != nil {
		writeError(w, err, "fulfill request")
		return
	}

	out := make([]stepView, len(steps))
	failed := 0
	for i, s := range steps {
		out[i] = stepView{Step: s}
		if s.Err != nil {
			out[i].Error = s.Err.Error()
			failed++
		}
	}

	slog.Info("request fulfilled", "user", actor(r), "request", id, "lines", len(steps), "failed", failed)
	jsonResponse(w, http.StatusOK, out)
}

// Cancel handles POST /api/requests/{id}/cancel.
func (h *RequestsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	sr, err := h.Requests.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, err, "cancel request")
		return
	}

	slog.Info("request cancelled", "user", actor(r), "reference", sr.Reference)
	jsonResponse(w, http.StatusOK, h.view(sr))
}
