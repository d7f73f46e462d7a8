package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OfficeAccount is an agent: a franchise or branch operator that books
// shipments on behalf of the business and earns commission on them.
type OfficeAccount struct {
	ID             int64           `json:"id"`
	OrgID          int64           `json:"org_id"`
	UserID         *int64          `json:"user_id,omitempty"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	Phone          *string         `json:"phone,omitempty"`
	City           *string         `json:"city,omitempty"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	IsActive       bool            `json:"is_active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type CreateOfficeAccountRequest struct {
	UserID         *int64           `json:"user_id,omitempty"`
	Name           string           `json:"name"`
	Email          string           `json:"email"`
	Phone          *string          `json:"phone,omitempty"`
	City           *string          `json:"city,omitempty"`
	CommissionRate *decimal.Decimal `json:"commission_rate"`
}

type UpdateOfficeAccountRequest struct {
	Name           *string          `json:"name,omitempty"`
	Email          *string          `json:"email,omitempty"`
	Phone          *string          `json:"phone,omitempty"`
	City           *string          `json:"city,omitempty"`
	CommissionRate *decimal.Decimal `json:"commission_rate,omitempty"`
	IsActive       *bool            `json:"is_active,omitempty"`
}

// LeaderboardEntry ranks an agent by delivered revenue.
type LeaderboardEntry struct {
	OfficeAccountID  int64           `json:"office_account_id"`
	Name             string          `json:"name"`
	Bookings         int             `json:"bookings"`
	DeliveredRevenue decimal.Decimal `json:"delivered_revenue"`
	Commission       decimal.Decimal `json:"commission"`
}
