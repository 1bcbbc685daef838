package model

import (
	"encoding/json"
	"time"
)

// Balance is the quantity of an item held at a location.
type Balance struct {
	ItemID     int64     `json:"item_id"`
	LocationID int64     `json:"location_id"`
	Quantity   int       `json:"quantity"`
	Reserved   int       `json:"reserved"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
}

// Available returns the quantity that is not reserved.
func (b Balance) Available() int {
	return b.Quantity - b.Reserved
}

// BalanceKey identifies a balance row.
type BalanceKey struct {
	ItemID     int64
	LocationID int64
}

// Less orders keys by item, then location. Locks on several keys are always
// taken in this order.
func (k BalanceKey) Less(o BalanceKey) bool {
	if k.ItemID != o.ItemID {
		return k.ItemID < o.ItemID
	}
	return k.LocationID < o.LocationID
}

// Key returns the balance's key.
func (b Balance) Key() BalanceKey {
	return BalanceKey{ItemID: b.ItemID, LocationID: b.LocationID}
}

// MarshalJSON includes the derived available quantity.
func (b Balance) MarshalJSON() ([]byte, error) {
	type balance Balance
	return json.Marshal(struct {
		balance
		Available int `json:"available"`
	}{balance(b), b.Available()})
}
