package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/erazemk/zaloga/internal/clock"
	"github.com/erazemk/zaloga/internal/inventory"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
)

// LocationsHandler handles location registry endpoints.
type LocationsHandler struct {
	DB       *sql.DB
	Clock    clock.Clock
	Stock    *inventory.BalanceStore
}

type createLocationRequest struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type updateLocationRequest struct {
	Name string `json:"name"`
}

// List handles GET /api/locations.
func (h *LocationsHandler) List(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	if kind != "" && !model.ValidLocationKind(kind) {
		jsonError(w, http.StatusBadRequest, "invalid kind")
		return
	}

	locations, err := store.ListLocations(r.Context(), h.DB, kind)
	if err != nil {
		writeError(w, err, "list locations")
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(locations))
}

// Create handles POST /api/locations.
func (h *LocationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createLocationRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" || req.Kind == "" {
		jsonError(w, http.StatusBadRequest, "name and kind required")
		return
	}
	if !model.ValidLocationKind(req.Kind) {
		jsonError(w, http.StatusBadRequest, "kind must be 'facility', 'store' or 'transit'")
		return
	}

	loc, err := store.CreateLocation(r.Context(), h.DB, req.Name, req.Kind, h.Clock.Now())
	if err != nil {
		writeError(w, err, "create location")
		return
	}

	slog.Info("location created", "user", actor(r), "location", req.Name, "kind", req.Kind)
	jsonResponse(w, http.StatusCreated, loc)
}

// Get handles GET /api/locations/{id}.
func (h *LocationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid location id")
		return
	}

	loc, err := store.GetLocation(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, err, "get location")
		return
	}
	if loc == nil {
		jsonError(w, http.StatusNotFound, "location not found")
		return
	}
	jsonResponse(w, http.StatusOK, loc)
}

// Update handles PUT /api/locations/{id}. Only the name can change; the
// kind decides stock-in policy and stays fixed.
func (h *LocationsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid location id")
		return
	}

	var req updateLocationRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		jsonError(w, http.StatusBadRequest, "name required")
		return
	}

	if err := store.RenameLocation(r.Context(), h.DB, id, req.Name); err != nil {
		writeError(w, err, "update location")
		return
	}

	loc, err := store.GetLocation(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, err, "get location")
		return
	}
	slog.Info("location renamed", "user", actor(r), "location", req.Name)
	jsonResponse(w, http.StatusOK, loc)
}

// Balances handles GET /api/locations/{id}/balances.
func (h *LocationsHandler) Balances(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid location id")
		return
	}

	balances, err := h.Stock.List(r.Context(), 0, id)
	if err != nil {
		writeError(w, err, "list balances")
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(balances))
}
