package model

import (
	"fmt"
	"time"
)

// AssetStatus is the lifecycle state of a serialized asset.
type AssetStatus string

// Asset statuses.
const (
	AssetAvailable AssetStatus = "available"
	AssetAssigned  AssetStatus = "assigned"
	AssetInTransit AssetStatus = "in_transit"
	AssetDamaged   AssetStatus = "damaged"
	AssetRetired   AssetStatus = "retired"
)

// ParseAssetStatus validates a stored or user supplied status.
func ParseAssetStatus(v string) (AssetStatus, error) {
	s := AssetStatus(v)
	switch s {
	case AssetAvailable, AssetAssigned, AssetInTransit, AssetDamaged, AssetRetired:
		return s, nil
	}
	return "", fmt.Errorf("invalid asset status: %q", v)
}

// TrackingAction is what a tracking event records.
type TrackingAction string

// Tracking actions.
const (
	ActionCreated  TrackingAction = "created"
	ActionMoved    TrackingAction = "moved"
	ActionAssigned TrackingAction = "assigned"
	ActionReleased TrackingAction = "released"
	ActionDamaged  TrackingAction = "damaged"
	ActionRetired  TrackingAction = "retired"
)

// SerialAsset is one individually tracked unit of an item.
type SerialAsset struct {
	ID                int64       `json:"id"`
	ItemID            int64       `json:"item_id"`
	SerialCode        string      `json:"serial_code"`
	LocationID        int64       `json:"location_id"`
	Custodian         *string     `json:"custodian,omitempty"`
	Status            AssetStatus `json:"status"`
	Condition         string      `json:"condition"`
	WarrantyExpiresAt *time.Time  `json:"warranty_expires_at,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// TrackingEvent is one entry of an asset's append-only history.
type TrackingEvent struct {
	ID             int64          `json:"id"`
	AssetID        int64          `json:"asset_id"`
	Seq            int            `json:"seq"`
	Action         TrackingAction `json:"action"`
	FromLocationID *int64         `json:"from_location_id,omitempty"`
	ToLocationID   *int64         `json:"to_location_id,omitempty"`
	InTransit      bool           `json:"in_transit,omitempty"`
	Custodian      *string        `json:"custodian,omitempty"`
	Actor          string         `json:"actor"`
	Note           string         `json:"note,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// AssetState is the part of an asset derivable from its history.
type AssetState struct {
	LocationID int64
	Status     AssetStatus
	Custodian  *string
}

// State returns the asset's current derivable state.
func (a *SerialAsset) State() AssetState {
	return AssetState{LocationID: a.LocationID, Status: a.Status, Custodian: a.Custodian}
}

// Apply advances the state by one event.
func (s AssetState) Apply(e TrackingEvent) (AssetState, error) {
	switch e.Action {
	case ActionCreated:
		if e.ToLocationID == nil {
			return s, fmt.Errorf("created event %d has no location", e.Seq)
		}
		return AssetState{LocationID: *e.ToLocationID, Status: AssetAvailable}, nil
	case ActionMoved:
		if e.ToLocationID == nil {
			return s, fmt.Errorf("moved event %d has no destination", e.Seq)
		}
		s.LocationID = *e.ToLocationID
		switch {
		case s.Status == AssetDamaged:
		case e.InTransit:
			s.Status = AssetInTransit
		default:
			s.Status = AssetAvailable
		}
	case ActionAssigned:
		s.Status = AssetAssigned
		s.Custodian = e.Custodian
	case ActionReleased:
		s.Status = AssetAvailable
		s.Custodian = nil
	case ActionDamaged:
		s.Status = AssetDamaged
		s.Custodian = nil
	case ActionRetired:
		s.Status = AssetRetired
		s.Custodian = nil
	default:
		return s, fmt.Errorf("unknown tracking action %q", e.Action)
	}
	return s, nil
}

// FoldHistory replays a complete history, oldest first.
func FoldHistory(events []TrackingEvent) (AssetState, error) {
	if len(events) == 0 || events[0].Action != ActionCreated {
		return AssetState{}, fmt.Errorf("history must start with a created event")
	}
	var s AssetState
	for _, e := range events {
		var err error
		if s, err = s.Apply(e); err != nil {
			return AssetState{}, err
		}
	}
	return s, nil
}
