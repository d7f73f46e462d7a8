package models

import "time"

type Warehouse struct {
	ID        int64     `json:"id"`
	OrgID     int64     `json:"org_id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	City      *string   `json:"city,omitempty"`
	Address   *string   `json:"address,omitempty"`
	Capacity  int       `json:"capacity"`
	Manager   *string   `json:"manager,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CreateWarehouseRequest struct {
	Code     string  `json:"code"`
	Name     string  `json:"name"`
	City     *string `json:"city,omitempty"`
	Address  *string `json:"address,omitempty"`
	Capacity *int    `json:"capacity,omitempty"`
	Manager  *string `json:"manager,omitempty"`
}

type UpdateWarehouseRequest struct {
	Code     *string `json:"code,omitempty"`
	Name     *string `json:"name,omitempty"`
	City     *string `json:"city,omitempty"`
	Address  *string `json:"address,omitempty"`
	Capacity *int    `json:"capacity,omitempty"`
	Manager  *string `json:"manager,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// InventoryItem is a stock line held in one warehouse. Quantity only
// changes through stock operations.
type InventoryItem struct {
	ID           int64     `json:"id"`
	OrgID        int64     `json:"org_id"`
	WarehouseID  int64     `json:"warehouse_id"`
	SKU          string    `json:"sku"`
	Name         string    `json:"name"`
	Category     *string   `json:"category,omitempty"`
	Quantity     int       `json:"quantity"`
	Unit         string    `json:"unit"`
	ReorderLevel int       `json:"reorder_level"`
	BookingID    *int64    `json:"booking_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type CreateItemRequest struct {
	SKU          string  `json:"sku"`
	Name         string  `json:"name"`
	Category     *string `json:"category,omitempty"`
	Unit         *string `json:"unit,omitempty"`
	ReorderLevel *int    `json:"reorder_level,omitempty"`
	BookingID    *int64  `json:"booking_id,omitempty"`
}

type UpdateItemRequest struct {
	Name         *string `json:"name,omitempty"`
	Category     *string `json:"category,omitempty"`
	Unit         *string `json:"unit,omitempty"`
	ReorderLevel *int    `json:"reorder_level,omitempty"`
	BookingID    *int64  `json:"booking_id,omitempty"`
}

// StockOperation is one ledger entry. QuantityAfter is the source item's
// quantity once the operation was applied.
type StockOperation struct {
	ID                int64     `json:"id"`
	OrgID             int64     `json:"org_id"`
	WarehouseID       int64     `json:"warehouse_id"`
	ItemID            int64     `json:"item_id"`
	Type              string    `json:"type"`
	Quantity          int       `json:"quantity"`
	QuantityAfter     int       `json:"quantity_after"`
	TargetWarehouseID *int64    `json:"target_warehouse_id,omitempty"`
	TargetItemID      *int64    `json:"target_item_id,omitempty"`
	Reference         *string   `json:"reference,omitempty"`
	Notes             *string   `json:"notes,omitempty"`
	PerformedBy       *int64    `json:"performed_by,omitempty"`
	IdempotencyKey    *string   `json:"idempotency_key,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

type StockOperationRequest struct {
	Type              string  `json:"type"`
	ItemID            int64   `json:"item_id"`
	Quantity          int     `json:"quantity"`
	TargetWarehouseID *int64  `json:"target_warehouse_id,omitempty"`
	Reference         *string `json:"reference,omitempty"`
	Notes             *string `json:"notes,omitempty"`
}

// WarehouseStats is the occupancy card of a warehouse.
type WarehouseStats struct {
	WarehouseID   int64           `json:"warehouse_id"`
	Name          string          `json:"name"`
	Capacity      int             `json:"capacity"`
	TotalUnits    int             `json:"total_units"`
	ItemCount     int             `json:"item_count"`
	OccupancyPct  float64         `json:"occupancy_pct"`
	LowStockItems []InventoryItem `json:"low_stock_items"`
}
