package billing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestValidateRate(t *testing.T) {
	tests := []struct {
		rate string
		err  error
	}{
		{"0", nil},
		{"12.5", nil},
		{"7.25", nil},
		{"100", nil},
		{"-0.01", ErrRateOutOfRange},
		{"100.01", ErrRateOutOfRange},
		{"5.125", ErrRatePrecision},
	}
	for _, tt := range tests {
		t.Run(tt.rate, func(t *testing.T) {
			err := ValidateRate(d(tt.rate))
			if tt.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestValidateAmount(t *testing.T) {
	got, err := ValidateAmount(d("10.005"))
	require.NoError(t, err)
	assert.True(t, got.Equal(d("10.01")), got.String())

	_, err = ValidateAmount(d("-1"))
	assert.ErrorIs(t, err, ErrNegativeAmount)
}

func TestCommission(t *testing.T) {
	tests := []struct {
		amount, rate, want string
	}{
		{"1000", "10", "100"},
		{"199.99", "7.5", "15"},
		{"33.33", "12.5", "4.17"},
		{"0.10", "5", "0.01"},
		{"0", "50", "0"},
		{"250", "0", "0"},
	}
	for _, tt := range tests {
		got := Commission(d(tt.amount), d(tt.rate))
		assert.True(t, got.Equal(d(tt.want)), "%s × %s%% = %s, want %s", tt.amount, tt.rate, got, tt.want)
	}
}

func TestCountsAsRevenue(t *testing.T) {
	assert.True(t, CountsAsRevenue("pending"))
	assert.True(t, CountsAsRevenue("delivered"))
	assert.False(t, CountsAsRevenue("cancelled"))
	assert.False(t, CountsAsRevenue("returned"))
}

func TestSummarize(t *testing.T) {
	s := Summarize(d("10"), []BookingValue{
		{Amount: d("100"), Status: "delivered"},
		{Amount: d("50.50"), Status: "delivered"},
		{Amount: d("80"), Status: "in_transit"},
		{Amount: d("40"), Status: "cancelled"},
		{Amount: d("20"), Status: "returned"},
	})

	assert.Equal(t, 5, s.Bookings)
	assert.Equal(t, 2, s.Delivered)
	assert.Equal(t, 2, s.Cancelled)
	assert.True(t, s.GrossRevenue.Equal(d("230.50")), s.GrossRevenue.String())
	assert.True(t, s.DeliveredRevenue.Equal(d("150.50")), s.DeliveredRevenue.String())
	assert.True(t, s.Commission.Equal(d("15.05")), s.Commission.String())
	assert.True(t, s.PendingEarnings.Equal(d("8")), s.PendingEarnings.String())
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(d("15"), nil)
	assert.Zero(t, s.Bookings)
	assert.True(t, s.Commission.IsZero())
	assert.True(t, s.GrossRevenue.IsZero())
}
