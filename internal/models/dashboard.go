package models

import (
	"courier-console-api/internal/subscription"

	"github.com/shopspring/decimal"
)

// DashboardTotals are the headline counters of an organization.
type DashboardTotals struct {
	Bookings      int             `json:"bookings"`
	Revenue       decimal.Decimal `json:"revenue"`
	Pending       int             `json:"pending"`
	InProgress    int             `json:"in_progress"`
	Delivered     int             `json:"delivered"`
	Cancelled     int             `json:"cancelled"`
	TodayBookings int             `json:"today_bookings"`
}

// Dashboard is the landing screen of the console.
type Dashboard struct {
	Totals         DashboardTotals     `json:"totals"`
	RecentBookings []Booking           `json:"recent_bookings"`
	Warehouses     []WarehouseStats    `json:"warehouses"`
	ActiveAgents   int                 `json:"active_agents"`
	Subscription   subscription.Status `json:"subscription"`
}
