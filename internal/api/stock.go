package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/erazemk/zaloga/internal/inventory"
	"github.com/erazemk/zaloga/internal/model"
)

// StockHandler handles balance, movement and ledger endpoints.
type StockHandler struct {
	Inventory *inventory.Inventory
}

type transferRequest struct {
	ItemID   int64  `json:"item_id"`
	From     int64  `json:"from_location_id"`
	To       int64  `json:"to_location_id"`
	Quantity int    `json:"quantity"`
	Note     string `json:"note"`
}

type stockInRequest struct {
	ItemID      int64      `json:"item_id"`
	LocationID  int64      `json:"location_id"`
	Quantity    int        `json:"quantity"`
	BatchNumber string     `json:"batch_number"`
	ExpiresAt   *time.Time `json:"expires_at"`
	Note        string     `json:"note"`
}

type stockOutRequest struct {
	ItemID     int64  `json:"item_id"`
	LocationID int64  `json:"location_id"`
	Quantity   int    `json:"quantity"`
	Note       string `json:"note"`
}

type adjustRequest struct {
	ItemID     int64  `json:"item_id"`
	LocationID int64  `json:"location_id"`
	Delta      int    `json:"delta"`
	Note       string `json:"note"`
}

type reservationRequest struct {
	ItemID     int64 `json:"item_id"`
	LocationID int64 `json:"location_id"`
	Quantity   int   `json:"quantity"`
}

// Balances handles GET /api/balances?item_id=&location_id=. With both
// parameters it returns the single balance, zero if the pair never held
// stock.
func (h *StockHandler) Balances(w http.ResponseWriter, r *http.Request) {
	itemID, err := queryID(r, "item_id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	locationID, err := queryID(r, "location_id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	if itemID > 0 && locationID > 0 {
		b, err := h.Inventory.Balances.Get(r.Context(), itemID, locationID)
		if err != nil {
			writeError(w, err, "get balance")
			return
		}
		jsonResponse(w, http.StatusOK, b)
		return
	}

	balances, err := h.Inventory.Balances.List(r.Context(), itemID, locationID)
	if err != nil {
		writeError(w, err, "list balances")
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(balances))
}

// Transfer handles POST /api/transfers.
func (h *StockHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.Inventory.Coordinator.Transfer(r.Context(), inventory.Movement{
		ItemID:   req.ItemID,
		From:     req.From,
		To:       req.To,
		Quantity: req.Quantity,
		Actor:    actor(r),
		Note:     req.Note,
	})
	if err != nil {
		writeError(w, err, "transfer stock")
		return
	}

	slog.Info("transfer created", "user", rec.Actor, "item", rec.ItemID, "quantity", rec.Quantity,
		"from", req.From, "to", req.To, "reference", rec.Reference)
	jsonResponse(w, http.StatusCreated, rec)
}

// StockIn handles POST /api/stock/in.
func (h *StockHandler) StockIn(w http.ResponseWriter, r *http.Request) {
	var req stockInRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.Inventory.Coordinator.StockIn(r.Context(), req.ItemID, req.LocationID, req.Quantity,
		model.Batch{Number: req.BatchNumber, ExpiresAt: req.ExpiresAt}, actor(r), req.Note)
	if err != nil {
		writeError(w, err, "receive stock")
		return
	}

	slog.Info("stock received", "user", rec.Actor, "item", rec.ItemID, "quantity", rec.Quantity,
		"location", req.LocationID, "batch", req.BatchNumber)
	jsonResponse(w, http.StatusCreated, rec)
}

// StockOut handles POST /api/stock/out.
func (h *StockHandler) StockOut(w http.ResponseWriter, r *http.Request) {
	var req stockOutRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.Inventory.Coordinator.StockOut(r.Context(), req.ItemID, req.LocationID, req.Quantity, actor(r), req.Note)
	if err != nil {
		writeError(w, err, "issue stock")
		return
	}

	slog.Info("stock issued", "user", rec.Actor, "item", rec.ItemID, "quantity", rec.Quantity,
		"location", req.LocationID)
	jsonResponse(w, http.StatusCreated, rec)
}

// Adjust handles POST /api/stock/adjust.
func (h *StockHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.Inventory.Coordinator.Adjust(r.Context(), req.ItemID, req.LocationID, req.Delta, actor(r), req.Note)
	if err != nil {
		writeError(w, err, "adjust stock")
		return
	}

	slog.Info("stock adjusted", "user", rec.Actor, "item", rec.ItemID, "delta", req.Delta,
		"location", req.LocationID, "note", req.Note)
	jsonResponse(w, http.StatusCreated, rec)
}

// Reserve handles POST /api/stock/reserve.
func (h *StockHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req reservationRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	b, err := h.Inventory.Balances.Reserve(r.Context(), req.ItemID, req.LocationID, req.Quantity)
	if err != nil {
		writeError(w, err, "reserve stock")
		return
	}
	slog.Info("stock reserved", "user", actor(r), "item", req.ItemID, "location", req.LocationID, "quantity", req.Quantity)
	jsonResponse(w, http.StatusOK, b)
}

// Release handles POST /api/stock/release.
func (h *StockHandler) Release(w http.ResponseWriter, r *http.Request) {
	var req reservationRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	b, err := h.Inventory.Balances.Release(r.Context(), req.ItemID, req.LocationID, req.Quantity)
	if err != nil {
		writeError(w, err, "release stock")
		return
	}
	slog.Info("reservation released", "user", actor(r), "item", req.ItemID, "location", req.LocationID, "quantity", req.Quantity)
	jsonResponse(w, http.StatusOK, b)
}

// Transactions handles GET /api/transactions?item_id=&location_id=&from=&to=,
// newest first.
func (h *StockHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	var f model.TxFilter
	var err error

	if f.ItemID, err = queryID(r, "item_id"); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.LocationID, err = queryID(r, "location_id"); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.From, err = queryTime(r, "from"); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.To, err = queryTime(r, "to"); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.Inventory.Ledger.List(r.Context(), f)
	if err != nil {
		writeError(w, err, "list transactions")
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(records))
}

// Transaction handles GET /api/transactions/{id}.
func (h *StockHandler) Transaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}

	rec, err := h.Inventory.Ledger.Get(r.Context(), id)
	if err != nil {
		writeError(w, err, "get transaction")
		return
	}
	jsonResponse(w, http.StatusOK, rec)
}
