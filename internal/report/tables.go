package report

import (
	"courier-console-api/internal/analytics"
	"courier-console-api/internal/models"
)

const (
	TypeBookings   = "bookings"
	TypeRevenue    = "revenue"
	TypeAgents     = "agents"
	TypeWarehouses = "warehouses"
)

func ValidType(t string) bool {
	switch t {
	case TypeBookings, TypeRevenue, TypeAgents, TypeWarehouses:
		return true
	}
	return false
}

func BookingsTable(bookings []models.Booking) Table {
	t := Table{
		Title: TypeBookings,
		Columns: []string{
			"Tracking Number", "Status", "Sender", "Receiver", "Pickup City", "Delivery City",
			"Weight (kg)", "Amount", "Agent ID", "Created At", "Delivered At",
		},
		Rows: make([][]any, 0, len(bookings)),
	}
	for _, b := range bookings {
		t.Rows = append(t.Rows, []any{
			b.TrackingNumber, b.Status, b.SenderName, b.ReceiverName, b.PickupCity, b.DeliveryCity,
			b.WeightKg.String(), b.Amount, b.OfficeAccountID, b.CreatedAt, b.DeliveredAt,
		})
	}
	return t
}

func RevenueTable(points []analytics.Point) Table {
	t := Table{
		Title:   TypeRevenue,
		Columns: []string{"Period", "Bookings", "Revenue"},
		Rows:    make([][]any, 0, len(points)),
	}
	for _, p := range points {
		t.Rows = append(t.Rows, []any{p.Bucket.Format("2006-01-02"), p.Bookings, p.Revenue})
	}
	return t
}

func AgentsTable(entries []models.LeaderboardEntry) Table {
	t := Table{
		Title:   TypeAgents,
		Columns: []string{"Rank", "Agent", "Bookings", "Delivered Revenue", "Commission"},
		Rows:    make([][]any, 0, len(entries)),
	}
	for i, e := range entries {
		t.Rows = append(t.Rows, []any{i + 1, e.Name, e.Bookings, e.DeliveredRevenue, e.Commission})
	}
	return t
}

func WarehousesTable(stats []models.WarehouseStats) Table {
	t := Table{
		Title:   TypeWarehouses,
		Columns: []string{"Warehouse", "Items", "Units", "Capacity", "Occupancy %", "Low Stock Items"},
		Rows:    make([][]any, 0, len(stats)),
	}
	for _, s := range stats {
		t.Rows = append(t.Rows, []any{s.Name, s.ItemCount, s.TotalUnits, s.Capacity, s.OccupancyPct, len(s.LowStockItems)})
	}
	return t
}
