package stock

import (
	"testing"

	"courier-console-api/internal/models"

	"github.com/stretchr/testify/assert"
)

func ptr[T any](v T) *T { return &v }

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		err  error
	}{
		{"inbound", Request{Type: TypeInbound, WarehouseID: 1, ItemID: 2, Quantity: 5}, nil},
		{"adjust to zero", Request{Type: TypeAdjustment, WarehouseID: 1, ItemID: 2, Quantity: 0}, nil},
		{"transfer", Request{Type: TypeTransfer, WarehouseID: 1, ItemID: 2, Quantity: 5, TargetWarehouseID: ptr(int64(3))}, nil},
		{"unknown type", Request{Type: "gift", WarehouseID: 1, ItemID: 2, Quantity: 5}, ErrUnknownType},
		{"zero outbound", Request{Type: TypeOutbound, WarehouseID: 1, ItemID: 2}, ErrInvalidQuantity},
		{"negative inbound", Request{Type: TypeInbound, WarehouseID: 1, ItemID: 2, Quantity: -1}, ErrInvalidQuantity},
		{"huge inbound", Request{Type: TypeInbound, WarehouseID: 1, ItemID: 2, Quantity: maxQuantity + 1}, ErrInvalidQuantity},
		{"missing item", Request{Type: TypeInbound, WarehouseID: 1, Quantity: 1}, ErrItemNotFound},
		{"transfer without target", Request{Type: TypeTransfer, WarehouseID: 1, ItemID: 2, Quantity: 1}, ErrMissingTarget},
		{"transfer to self", Request{Type: TypeTransfer, WarehouseID: 1, ItemID: 2, Quantity: 1, TargetWarehouseID: ptr(int64(1))}, ErrSameWarehouse},
		{"target on inbound", Request{Type: TypeInbound, WarehouseID: 1, ItemID: 2, Quantity: 1, TargetWarehouseID: ptr(int64(3))}, ErrUnexpectedTarget},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		opType   string
		current  int
		quantity int
		want     int
		err      error
	}{
		{TypeInbound, 10, 5, 15, nil},
		{TypeOutbound, 10, 4, 6, nil},
		{TypeOutbound, 10, 10, 0, nil},
		{TypeOutbound, 3, 4, 3, ErrInsufficientStock},
		{TypeTransfer, 8, 8, 0, nil},
		{TypeTransfer, 8, 9, 8, ErrInsufficientStock},
		{TypeAdjustment, 8, 2, 2, nil},
		{TypeAdjustment, 8, 20, 20, nil},
		{"gift", 8, 1, 8, ErrUnknownType},
	}

	for _, tt := range tests {
		got, err := Apply(tt.opType, tt.current, tt.quantity)
		assert.Equal(t, tt.want, got, "%s %d by %d", tt.opType, tt.current, tt.quantity)
		if tt.err == nil {
			assert.NoError(t, err)
		} else {
			assert.ErrorIs(t, err, tt.err)
		}
	}
}

func TestCheckCapacity(t *testing.T) {
	assert.NoError(t, CheckCapacity(100, 90, 10))
	assert.ErrorIs(t, CheckCapacity(100, 90, 11), ErrCapacityExceeded)
	assert.NoError(t, CheckCapacity(0, 1_000_000, 1), "zero capacity is unlimited")
	assert.NoError(t, CheckCapacity(100, 150, 0), "shrinking never fails")
	assert.NoError(t, CheckCapacity(100, 150, -5))
}

func TestOccupancy(t *testing.T) {
	assert.Equal(t, 0.0, Occupancy(10, 0))
	assert.Equal(t, 50.0, Occupancy(50, 100))
	assert.Equal(t, 33.3, Occupancy(1, 3))
	assert.Equal(t, 66.7, Occupancy(2, 3))
	assert.Equal(t, 120.0, Occupancy(120, 100))
}

func TestIsLowStock(t *testing.T) {
	assert.True(t, IsLowStock(5, 5))
	assert.True(t, IsLowStock(0, 1))
	assert.False(t, IsLowStock(6, 5))
	assert.True(t, IsLowStock(0, 0), "empty with no reorder level")
	assert.False(t, IsLowStock(1, 0))
}

func TestBatchOverBudget(t *testing.T) {
	assert.False(t, overBudget(0, 0))
	assert.True(t, overBudget(1, 0), "an exhausted budget rejects the first failure")
	assert.False(t, overBudget(3, 3))
	assert.True(t, overBudget(4, 3))
	assert.False(t, overBudget(1000, -1), "negative budget never aborts")
}

func TestRequestCheckReplay(t *testing.T) {
	prior := models.StockOperation{ID: 9, Type: TypeInbound, WarehouseID: 1, ItemID: 4, Quantity: 40}
	req := Request{Type: TypeInbound, WarehouseID: 1, ItemID: 4, Quantity: 40}

	assert.NoError(t, req.checkReplay(prior))

	other := req
	other.WarehouseID = 2
	assert.ErrorIs(t, other.checkReplay(prior), ErrIdempotencyConflict)

	other = req
	other.ItemID = 5
	assert.ErrorIs(t, other.checkReplay(prior), ErrIdempotencyConflict)

	other = req
	other.Type = TypeOutbound
	assert.ErrorIs(t, other.checkReplay(prior), ErrIdempotencyConflict)
}
