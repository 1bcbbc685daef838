package model

import (
	"fmt"
	"time"
)

// TxType is the kind of stock movement a ledger record describes.
type TxType string

// Transaction types.
const (
	TxStockIn    TxType = "stock_in"
	TxStockOut   TxType = "stock_out"
	TxTransfer   TxType = "transfer"
	TxAdjustment TxType = "adjustment"
)

// ParseTxType converts a stored or user supplied value into a TxType.
func ParseTxType(v string) (TxType, error) {
	t := TxType(v)
	switch t {
	case TxStockIn, TxStockOut, TxTransfer, TxAdjustment:
		return t, nil
	}
	return "", fmt.Errorf("invalid transaction type: %q", v)
}

// TransactionRecord is one immutable ledger entry. Records are only created
// through the New* constructors, which enforce the locations each type needs.
type TransactionRecord struct {
	ID                    int64      `json:"id"`
	Reference             string     `json:"reference"`
	Type                  TxType     `json:"type"`
	ItemID                int64      `json:"item_id"`
	SourceLocationID      *int64     `json:"source_location_id,omitempty"`
	DestinationLocationID *int64     `json:"destination_location_id,omitempty"`
	Quantity              int        `json:"quantity"`
	Actor                 string     `json:"actor"`
	BatchNumber           string     `json:"batch_number,omitempty"`
	ExpiresAt             *time.Time `json:"expires_at,omitempty"`
	Note                  string     `json:"note,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

// Batch carries optional lot metadata for stock entering the system.
type Batch struct {
	Number    string
	ExpiresAt *time.Time
}

// NewStockIn builds a record for stock entering the system at dest.
func NewStockIn(itemID, dest int64, quantity int, actor string, batch Batch, note string) (TransactionRecord, error) {
	r := TransactionRecord{
		Type:                  TxStockIn,
		ItemID:                itemID,
		DestinationLocationID: &dest,
		Quantity:              quantity,
		Actor:                 actor,
		BatchNumber:           batch.Number,
		ExpiresAt:             batch.ExpiresAt,
		Note:                  note,
	}
	return r, r.Validate()
}

// NewStockOut builds a record for stock leaving the system from source.
func NewStockOut(itemID, source int64, quantity int, actor, note string) (TransactionRecord, error) {
	r := TransactionRecord{
		Type:             TxStockOut,
		ItemID:           itemID,
		SourceLocationID: &source,
		Quantity:         quantity,
		Actor:            actor,
		Note:             note,
	}
	return r, r.Validate()
}

// NewTransfer builds a record moving stock from source to dest.
func NewTransfer(itemID, source, dest int64, quantity int, actor, note string) (TransactionRecord, error) {
	r := TransactionRecord{
		Type:                  TxTransfer,
		ItemID:                itemID,
		SourceLocationID:      &source,
		DestinationLocationID: &dest,
		Quantity:              quantity,
		Actor:                 actor,
		Note:                  note,
	}
	return r, r.Validate()
}

// NewAdjustment builds a correction record. A positive delta credits the
// location, a negative delta debits it.
func NewAdjustment(itemID, location int64, delta int, actor, note string) (TransactionRecord, error) {
	r := TransactionRecord{
		Type:   TxAdjustment,
		ItemID: itemID,
		Actor:  actor,
		Note:   note,
	}
	switch {
	case delta > 0:
		r.DestinationLocationID = &location
		r.Quantity = delta
	case delta < 0:
		r.SourceLocationID = &location
		r.Quantity = -delta
	}
	return r, r.Validate()
}

// Validate checks the per-type shape of the record.
func (r TransactionRecord) Validate() error {
	if r.ItemID <= 0 {
		return &InvalidTransferError{Reason: "item is required"}
	}
	if r.Quantity <= 0 {
		return &InvalidTransferError{Reason: fmt.Sprintf("quantity must be positive, got %d", r.Quantity)}
	}

	hasSrc := r.SourceLocationID != nil
	hasDst := r.DestinationLocationID != nil

	switch r.Type {
	case TxStockIn:
		if hasSrc || !hasDst {
			return &InvalidTransferError{Reason: "stock-in requires only a destination"}
		}
	case TxStockOut:
		if !hasSrc || hasDst {
			return &InvalidTransferError{Reason: "stock-out requires only a source"}
		}
	case TxTransfer:
		if !hasSrc || !hasDst {
			return &InvalidTransferError{Reason: "transfer requires a source and a destination"}
		}
		if *r.SourceLocationID == *r.DestinationLocationID {
			return &InvalidTransferError{Reason: "source and destination are the same location"}
		}
	case TxAdjustment:
		if hasSrc == hasDst {
			return &InvalidTransferError{Reason: "adjustment requires exactly one location"}
		}
	default:
		return &InvalidTransferError{Reason: fmt.Sprintf("unknown transaction type %q", r.Type)}
	}
	return nil
}

// Deltas returns the signed balance changes the record causes.
func (r TransactionRecord) Deltas() []BalanceDelta {
	var out []BalanceDelta
	if r.SourceLocationID != nil {
		out = append(out, BalanceDelta{
			Key:   BalanceKey{ItemID: r.ItemID, LocationID: *r.SourceLocationID},
			Delta: -r.Quantity,
		})
	}
	if r.DestinationLocationID != nil {
		out = append(out, BalanceDelta{
			Key:   BalanceKey{ItemID: r.ItemID, LocationID: *r.DestinationLocationID},
			Delta: r.Quantity,
		})
	}
	return out
}

// ExternalFlow is the record's effect on total stock of the item: positive for
// stock entering the system, negative for stock leaving, zero for transfers.
func (r TransactionRecord) ExternalFlow() int {
	n := 0
	for _, d := range r.Deltas() {
		n += d.Delta
	}
	return n
}

// BalanceDelta is a signed change to one balance key.
type BalanceDelta struct {
	Key   BalanceKey
	Delta int
}

// TxFilter selects ledger records for audit listings.
type TxFilter struct {
	ItemID     int64
	LocationID int64
	From       time.Time
	To         time.Time
}
