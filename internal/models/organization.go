package models

import (
	"time"

	"courier-console-api/internal/subscription"

	"github.com/shopspring/decimal"
)

// Organization is one business (courier company) using the console.
type Organization struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Plan        string     `json:"plan"`
	TrialEndsAt *time.Time `json:"trial_ends_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// OrganizationSummary is an organization as the platform admin lists it.
type OrganizationSummary struct {
	Organization
	Subscription subscription.Status `json:"subscription"`
	Users        int                 `json:"users"`
	Bookings     int                 `json:"bookings"`
	Warehouses   int                 `json:"warehouses"`
	Revenue      decimal.Decimal     `json:"revenue"`
}
