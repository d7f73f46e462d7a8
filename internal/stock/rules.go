// Package stock implements the warehouse stock ledger: every change to an
// item's quantity is an operation, applied under row locks and recorded.
package stock

import (
	"errors"
	"math"

	"courier-console-api/internal/models"
)

const (
	TypeInbound    = "inbound"
	TypeOutbound   = "outbound"
	TypeAdjustment = "adjustment"
	TypeTransfer   = "transfer"
)

const maxQuantity = 1_000_000_000

var (
	ErrUnknownType       = errors.New("unknown operation type")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrCapacityExceeded  = errors.New("warehouse capacity exceeded")
	ErrSameWarehouse     = errors.New("transfer target must differ from source warehouse")
	ErrMissingTarget     = errors.New("transfer requires target_warehouse_id")
	ErrUnexpectedTarget  = errors.New("target_warehouse_id is only valid for transfers")
	ErrItemNotFound      = errors.New("inventory item not found")
	ErrWarehouseNotFound = errors.New("warehouse not found")
	ErrWarehouseInactive = errors.New("warehouse is inactive")

	ErrIdempotencyConflict = errors.New("idempotency key was used for a different operation")
)

func ValidType(t string) bool {
	switch t {
	case TypeInbound, TypeOutbound, TypeAdjustment, TypeTransfer:
		return true
	}
	return false
}

// Request is a stock operation before it is applied.
type Request struct {
	Type              string
	WarehouseID       int64
	ItemID            int64
	Quantity          int
	TargetWarehouseID *int64
	Reference         *string
	Notes             *string
	IdempotencyKey    *string
}

// Validate checks the request shape. Adjustments may set a count of zero;
// every other operation moves a positive quantity.
func (r Request) Validate() error {
	if !ValidType(r.Type) {
		return ErrUnknownType
	}
	if r.Quantity < 0 || r.Quantity > maxQuantity {
		return ErrInvalidQuantity
	}
	if r.Quantity == 0 && r.Type != TypeAdjustment {
		return ErrInvalidQuantity
	}
	if r.ItemID <= 0 {
		return ErrItemNotFound
	}
	if r.Type == TypeTransfer {
		if r.TargetWarehouseID == nil || *r.TargetWarehouseID <= 0 {
			return ErrMissingTarget
		}
		if *r.TargetWarehouseID == r.WarehouseID {
			return ErrSameWarehouse
		}
	} else if r.TargetWarehouseID != nil {
		return ErrUnexpectedTarget
	}
	return nil
}

// Apply returns the source item's quantity after the operation.
func Apply(opType string, current, quantity int) (int, error) {
	switch opType {
	case TypeInbound:
		return current + quantity, nil
	case TypeOutbound, TypeTransfer:
		if quantity > current {
			return current, ErrInsufficientStock
		}
		return current - quantity, nil
	case TypeAdjustment:
		return quantity, nil
	}
	return current, ErrUnknownType
}

// CheckCapacity verifies that adding incoming units to a warehouse holding
// occupied units stays within capacity. Zero capacity means unlimited.
func CheckCapacity(capacity, occupied, incoming int) error {
	if capacity <= 0 || incoming <= 0 {
		return nil
	}
	if occupied+incoming > capacity {
		return ErrCapacityExceeded
	}
	return nil
}

// Occupancy is units / capacity as a percentage with one decimal.
func Occupancy(units, capacity int) float64 {
	if capacity <= 0 {
		return 0
	}
	return math.Round(float64(units)/float64(capacity)*1000) / 10
}

// IsLowStock reports whether an item has reached its reorder level. An
// empty item with no reorder level set counts as low.
func IsLowStock(quantity, reorderLevel int) bool {
	return quantity <= reorderLevel
}

// overBudget reports whether failed row errors exceed maxErrors. A negative
// maxErrors is unlimited.
func overBudget(failed, maxErrors int) bool {
	return maxErrors >= 0 && failed > maxErrors
}

// checkReplay rejects prior, found under r's idempotency key, unless it is the
// operation r describes.
func (r Request) checkReplay(prior models.StockOperation) error {
	if prior.Type != r.Type || prior.WarehouseID != r.WarehouseID || prior.ItemID != r.ItemID {
		return ErrIdempotencyConflict
	}
	return nil
}
