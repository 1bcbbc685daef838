package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/serial"
)

// SerialsHandler handles serialized asset endpoints.
type SerialsHandler struct {
	Tracker *serial.Tracker
}

type registerSerialRequest struct {
	ItemID            int64      `json:"item_id"`
	LocationID        int64      `json:"location_id"`
	SerialCode        string     `json:"serial_code"`
	Condition         string     `json:"condition"`
	WarrantyExpiresAt *time.Time `json:"warranty_expires_at"`
	Note              string     `json:"note"`
}

type moveSerialRequest struct {
	LocationID int64  `json:"location_id"`
	InTransit  bool   `json:"in_transit"`
	Note       string `json:"note"`
}

type assignSerialRequest struct {
	Custodian string `json:"custodian"`
	Note      string `json:"note"`
}

type noteRequest struct {
	Note string `json:"note"`
}

// List handles GET /api/serials?item_id=&location_id=&status=.
func (h *SerialsHandler) List(w http.ResponseWriter, r *http.Request) {
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
	var status model.AssetStatus
	if v := r.URL.Query().Get("status"); v != "" {
		if status, err = model.ParseAssetStatus(v); err != nil {
			jsonError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	assets, err := h.Tracker.List(r.Context(), itemID, locationID, status)
	if err != nil {
		writeError(w, err, "list assets")
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(assets))
}

// Register handles POST /api/serials.
func (h *SerialsHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerSerialRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	asset, err := h.Tracker.Register(r.Context(), serial.Registration{
		ItemID:            req.ItemID,
		LocationID:        req.LocationID,
		SerialCode:        req.SerialCode,
		Condition:         req.Condition,
		WarrantyExpiresAt: req.WarrantyExpiresAt,
		Actor:             actor(r),
		Note:              req.Note,
	})
	if err != nil {
		writeError(w, err, "register asset")
		return
	}

	slog.Info("asset registered", "user", actor(r), "serial", asset.SerialCode,
		"item", asset.ItemID, "location", asset.LocationID)
	jsonResponse(w, http.StatusCreated, asset)
}

// Get handles GET /api/serials/{id}.
func (h *SerialsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid asset id")
		return
	}

	asset, err := h.Tracker.Get(r.Context(), id)
	if err != nil {
		writeError(w, err, "get asset")
		return
	}
	jsonResponse(w, http.StatusOK, asset)
}

// History handles GET /api/serials/{id}/history.
func (h *SerialsHandler) History(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid asset id")
		return
	}

	events, err := h.Tracker.History(r.Context(), id)
	if err != nil {
		writeError(w, err, "get asset history")
		return
	}
	jsonResponse(w, http.StatusOK, emptyIfNil(events))
}

// Move handles POST /api/serials/{id}/move.
func (h *SerialsHandler) Move(w http.ResponseWriter, r *http.Request) {
	var req moveSerialRequest
	h.change(w, r, &req, "move asset", func(id int64) (*model.SerialAsset, error) {
		return h.Tracker.Move(r.Context(), id, req.LocationID, req.InTransit, actor(r), req.Note)
	})
}

// Assign handles POST /api/serials/{id}/assign.
func (h *SerialsHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req assignSerialRequest
	h.change(w, r, &req, "assign asset", func(id int64) (*model.SerialAsset, error) {
		return h.Tracker.Assign(r.Context(), id, req.Custodian, actor(r), req.Note)
	})
}

// Release handles POST /api/serials/{id}/release.
func (h *SerialsHandler) Release(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	h.change(w, r, &req, "release asset", func(id int64) (*model.SerialAsset, error) {
		return h.Tracker.Release(r.Context(), id, actor(r), req.Note)
	})
}

// MarkDamaged handles POST /api/serials/{id}/damage.
func (h *SerialsHandler) MarkDamaged(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	h.change(w, r, &req, "mark asset damaged", func(id int64) (*model.SerialAsset, error) {
		return h.Tracker.MarkDamaged(r.Context(), id, actor(r), req.Note)
	})
}

// Retire handles POST /api/serials/{id}/retire.
func (h *SerialsHandler) Retire(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	h.change(w, r, &req, "retire asset", func(id int64) (*model.SerialAsset, error) {
		return h.Tracker.Retire(r.Context(), id, actor(r), req.Note)
	})
}

// change decodes the optional body into req, runs op on the asset in the
// path and writes the updated asset.
func (h *SerialsHandler) change(w http.ResponseWriter, r *http.Request, req any, what string,
	op func(id int64) (*model.SerialAsset, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid asset id")
		return
	}
	if err := decodeOptionalJSON(r, req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	asset, err := op(id)
	if err != nil {
		writeError(w, err, what)
		return
	}

	slog.Info("asset updated", "user", actor(r), "action", what, "serial", asset.SerialCode,
		"status", asset.Status, "location", asset.LocationID)
	jsonResponse(w, http.StatusOK, asset)
}
