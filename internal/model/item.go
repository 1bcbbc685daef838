package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is a catalog entry. Quantities are tracked per location in balances;
// only cost and descriptive fields may change once stock has moved.
type Item struct {
	ID            int64           `json:"id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Category      string          `json:"category,omitempty"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	UnitOfMeasure string          `json:"unit_of_measure"`
	Condition     string          `json:"condition"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Item conditions.
const (
	ConditionNew         = "new"
	ConditionRefurbished = "refurbished"
	ConditionUsed        = "used"
)

// ValidCondition reports whether c is a known item condition.
func ValidCondition(c string) bool {
	switch c {
	case ConditionNew, ConditionRefurbished, ConditionUsed:
		return true
	}
	return false
}

// Location is a place that can hold stock.
type Location struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// Location kinds.
const (
	LocationKindFacility = "facility"
	LocationKindStore    = "store"
	LocationKindTransit  = "transit"
)

// ValidLocationKind reports whether k is a known location kind.
func ValidLocationKind(k string) bool {
	switch k {
	case LocationKindFacility, LocationKindStore, LocationKindTransit:
		return true
	}
	return false
}
