package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/erazemk/zaloga/internal/clock"
	"github.com/erazemk/zaloga/internal/inventory"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
)

// ItemsHandler handles catalog endpoints.
type ItemsHandler struct {
	DB        *sql.DB
	Clock     clock.Clock
	Inventory *inventory.Inventory
}

type itemRequest struct {
	SKU           string           `json:"sku"`
	Name          string           `json:"name"`
	Category      string           `json:"category"`
	UnitCost      *decimal.Decimal `json:"unit_cost"`
	UnitOfMeasure string           `json:"unit_of_measure"`
	Condition     string           `json:"condition"`
}

type itemStockResponse struct {
	ItemID    int64           `json:"item_id"`
	Total     int             `json:"total"`
	Valuation decimal.Decimal `json:"valuation"`
	Balances  []model.Balance `json:"balances"`
}

type reconcileResponse struct {
	ItemID        int64                   `json:"item_id"`
	Consistent    bool                    `json:"consistent"`
	Discrepancies []inventory.Discrepancy `json:"discrepancies"`
}

// List handles GET /api/items.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := store.ListItems(r.Context(), h.DB, r.URL.Query().Get("category"))
	if err != nil {
		writeError(w, err, "list items")
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(items))
}

// Create handles POST /api/items.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.SKU = strings.TrimSpace(req.SKU)
	if req.SKU == "" || req.Name == "" {
		jsonError(w, http.StatusBadRequest, "sku and name required")
		return
	}

	item := model.Item{
		SKU:           req.SKU,
		Name:          req.Name,
		Category:      req.Category,
		UnitOfMeasure: req.UnitOfMeasure,
		Condition:     req.Condition,
	}
	if req.UnitCost != nil {
		item.UnitCost = *req.UnitCost
	}
	if msg := validateItem(item); msg != "" {
		jsonError(w, http.StatusBadRequest, msg)
		return
	}

	created, err := store.CreateItem(r.Context(), h.DB, item, h.Clock.Now())
	if errors.Is(err, store.ErrDuplicate) {
		jsonError(w, http.StatusConflict, "sku already exists")
		return
	}
	if err != nil {
		writeError(w, err, "create item")
		return
	}

	slog.Info("item created", "user", actor(r), "sku", created.SKU, "name", created.Name)
	jsonResponse(w, http.StatusCreated, created)
}

// Get handles GET /api/items/{id}.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	item, err := h.Inventory.Directory.Item(r.Context(), id)
	if err != nil {
		writeError(w, err, "get item")
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// Update handles PUT /api/items/{id}. Omitted fields keep their value; the
// SKU cannot be changed.
func (h *ItemsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	var req itemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.Inventory.Directory.Item(r.Context(), id)
	if err != nil {
		writeError(w, err, "get item")
		return
	}
	if req.SKU != "" && req.SKU != item.SKU {
		jsonError(w, http.StatusBadRequest, "sku cannot be changed")
		return
	}

	if req.Name != "" {
		item.Name = req.Name
	}
	if req.Category != "" {
		item.Category = req.Category
	}
	if req.UnitCost != nil {
		item.UnitCost = *req.UnitCost
	}
	if req.UnitOfMeasure != "" {
		item.UnitOfMeasure = req.UnitOfMeasure
	}
	if req.Condition != "" {
		item.Condition = req.Condition
	}
	if msg := validateItem(*item); msg != "" {
		jsonError(w, http.StatusBadRequest, msg)
		return
	}

	if err := store.UpdateItemDetails(r.Context(), h.DB, *item, h.Clock.Now()); err != nil {
		writeError(w, err, "update item")
		return
	}

	updated, err := h.Inventory.Directory.Item(r.Context(), id)
	if err != nil {
		writeError(w, err, "get item")
		return
	}
	slog.Info("item updated", "user", actor(r), "sku", updated.SKU)
	jsonResponse(w, http.StatusOK, updated)
}

// Stock handles GET /api/items/{id}/stock: per-location balances, the total
// and its value at the current unit cost.
func (h *ItemsHandler) Stock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	value, err := h.Inventory.Balances.Valuation(r.Context(), id, 0)
	if err != nil {
		writeError(w, err, "value stock")
		return
	}
	balances, err := h.Inventory.Balances.List(r.Context(), id, 0)
	if err != nil {
		writeError(w, err, "list balances")
		return
	}
	total, err := h.Inventory.Balances.Total(r.Context(), id)
	if err != nil {
		writeError(w, err, "sum stock")
		return
	}

	jsonResponse(w, http.StatusOK, itemStockResponse{
		ItemID:    id,
		Total:     total,
		Valuation: value,
		Balances:  emptyIfNil(balances),
	})
}

// History handles GET /api/items/{id}/history: every ledger record for the
// item, oldest first.
func (h *ItemsHandler) History(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	if _, err := h.Inventory.Directory.Item(r.Context(), id); err != nil {
		writeError(w, err, "get item")
		return
	}
	records, err := h.Inventory.Ledger.Replay(r.Context(), id)
	if err != nil {
		writeError(w, err, "get history")
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(records))
}

// Reconcile handles GET /api/items/{id}/reconcile.
func (h *ItemsHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	if _, err := h.Inventory.Directory.Item(r.Context(), id); err != nil {
		writeError(w, err, "get item")
		return
	}
	diffs, err := h.Inventory.Ledger.Reconcile(r.Context(), id)
	if err != nil {
		writeError(w, err, "reconcile item")
		return
	}
	if len(diffs) > 0 {
		slog.Warn("ledger and balances disagree", "item", id, "locations", len(diffs))
	}
	jsonResponse(w, http.StatusOK, reconcileResponse{
		ItemID:        id,
		Consistent:    len(diffs) == 0,
		Discrepancies: emptyIfNil(diffs),
	})
}

func validateItem(item model.Item) string {
	switch {
	case item.UnitCost.IsNegative():
		return "unit_cost cannot be negative"
	case item.Condition != "" && !model.ValidCondition(item.Condition):
		return "condition must be 'new', 'refurbished' or 'used'"
	}
	return ""
}
