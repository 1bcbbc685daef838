package model

import (
	"errors"
	"fmt"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidTransfer   = errors.New("invalid transfer")
	ErrContention        = errors.New("contention")
	ErrInvalidState      = errors.New("invalid state")
	ErrNotFound          = errors.New("not found")
)

// InsufficientStockError reports a movement larger than the available quantity.
type InsufficientStockError struct {
	ItemID     int64
	LocationID int64
	Available  int
	Requested  int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock of item %d at location %d: have %d, need %d",
		e.ItemID, e.LocationID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// InvalidTransferError reports a malformed movement request.
type InvalidTransferError struct {
	Reason string
}

func (e *InvalidTransferError) Error() string { return "invalid transfer: " + e.Reason }

func (e *InvalidTransferError) Is(target error) bool { return target == ErrInvalidTransfer }

// ContentionError reports that a lock could not be acquired in time. The
// operation made no changes and may be retried.
type ContentionError struct {
	Resource string
	Err      error
}

func (e *ContentionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("contention on %s: %v", e.Resource, e.Err)
	}
	return "contention on " + e.Resource
}

func (e *ContentionError) Is(target error) bool { return target == ErrContention }

func (e *ContentionError) Unwrap() error { return e.Err }

// InvalidStateError reports an operation not permitted in the current
// lifecycle state.
type InvalidStateError struct {
	Entity string
	ID     int64
	State  string
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s %d in state %s", e.Op, e.Entity, e.ID, e.State)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// NotFoundError reports a missing item, location, request, line or asset.
// Key identifies the entity when it was looked up by something other than
// its ID.
type NotFoundError struct {
	Entity string
	ID     int64
	Key    string
}

func (e *NotFoundError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
	}
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// IsRetryable reports whether err is worth retrying unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention)
}
