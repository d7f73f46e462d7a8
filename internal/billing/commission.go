// Package billing holds the money rules of the console: how booking value
// turns into revenue and how agents earn commission on it.
package billing

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrRateOutOfRange = errors.New("commission rate must be between 0 and 100")
	ErrRatePrecision  = errors.New("commission rate allows at most two decimal places")
	ErrNegativeAmount = errors.New("amount must not be negative")
)

var hundred = decimal.NewFromInt(100)

// Booking statuses that never produce revenue.
const (
	statusCancelled = "cancelled"
	statusReturned  = "returned"
	statusDelivered = "delivered"
)

// ValidateRate accepts percentages in [0, 100] with cent precision.
func ValidateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return ErrRateOutOfRange
	}
	if !rate.Equal(rate.Round(2)) {
		return ErrRatePrecision
	}
	return nil
}

// ValidateAmount accepts non-negative booking values and rounds them to cents.
func ValidateAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, ErrNegativeAmount
	}
	return amount.Round(2), nil
}

// Commission is amount × rate / 100, rounded half away from zero to cents.
func Commission(amount, ratePercent decimal.Decimal) decimal.Decimal {
	return amount.Mul(ratePercent).Div(hundred).Round(2)
}

// CountsAsRevenue reports whether a booking in status contributes to revenue.
func CountsAsRevenue(status string) bool {
	return status != statusCancelled && status != statusReturned
}

// BookingValue is the slice of a booking that the commission rules look at.
type BookingValue struct {
	Amount decimal.Decimal
	Status string
}

// Summary is an agent's commission statement for a period.
type Summary struct {
	Bookings         int             `json:"bookings"`
	Delivered        int             `json:"delivered"`
	Cancelled        int             `json:"cancelled"`
	GrossRevenue     decimal.Decimal `json:"gross_revenue"`
	DeliveredRevenue decimal.Decimal `json:"delivered_revenue"`
	Rate             decimal.Decimal `json:"commission_rate"`
	Commission       decimal.Decimal `json:"commission"`
	PendingEarnings  decimal.Decimal `json:"pending_commission"`
}

// Summarize builds the statement. Commission is only earned on delivered
// bookings; bookings still moving are reported as pending commission.
func Summarize(rate decimal.Decimal, bookings []BookingValue) Summary {
	s := Summary{
		Rate:             rate,
		GrossRevenue:     decimal.Zero,
		DeliveredRevenue: decimal.Zero,
	}
	inFlight := decimal.Zero
	for _, b := range bookings {
		s.Bookings++
		switch b.Status {
		case statusCancelled, statusReturned:
			s.Cancelled++
			continue
		case statusDelivered:
			s.Delivered++
			s.DeliveredRevenue = s.DeliveredRevenue.Add(b.Amount)
		default:
			inFlight = inFlight.Add(b.Amount)
		}
		s.GrossRevenue = s.GrossRevenue.Add(b.Amount)
	}
	s.Commission = Commission(s.DeliveredRevenue, rate)
	s.PendingEarnings = Commission(inFlight, rate)
	return s
}
