package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Booking is a shipment order.
type Booking struct {
	ID              int64           `json:"id"`
	OrgID           int64           `json:"org_id"`
	TrackingNumber  string          `json:"tracking_number"`
	SenderName      string          `json:"sender_name"`
	SenderPhone     *string         `json:"sender_phone,omitempty"`
	ReceiverName    string          `json:"receiver_name"`
	ReceiverPhone   *string         `json:"receiver_phone,omitempty"`
	PickupCity      string          `json:"pickup_city"`
	DeliveryCity    string          `json:"delivery_city"`
	DeliveryAddress *string         `json:"delivery_address,omitempty"`
	WeightKg        decimal.Decimal `json:"weight_kg"`
	Amount          decimal.Decimal `json:"amount"`
	Status          string          `json:"status"`
	OfficeAccountID *int64          `json:"office_account_id,omitempty"`
	CreatedBy       *int64          `json:"created_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	DeliveredAt     *time.Time      `json:"delivered_at,omitempty"`
}

// BookingEvent is one entry of a booking's status history.
type BookingEvent struct {
	ID        int64     `json:"id"`
	BookingID int64     `json:"booking_id"`
	Status    string    `json:"status"`
	Note      *string   `json:"note,omitempty"`
	CreatedBy *int64    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TrackingView is what the public tracking page may show.
type TrackingView struct {
	TrackingNumber string         `json:"tracking_number"`
	Status         string         `json:"status"`
	PickupCity     string         `json:"pickup_city"`
	DeliveryCity   string         `json:"delivery_city"`
	CreatedAt      time.Time      `json:"created_at"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	Events         []BookingEvent `json:"events"`
}

type CreateBookingRequest struct {
	SenderName      string           `json:"sender_name"`
	SenderPhone     *string          `json:"sender_phone,omitempty"`
	ReceiverName    string           `json:"receiver_name"`
	ReceiverPhone   *string          `json:"receiver_phone,omitempty"`
	PickupCity      string           `json:"pickup_city"`
	DeliveryCity    string           `json:"delivery_city"`
	DeliveryAddress *string          `json:"delivery_address,omitempty"`
	WeightKg        *decimal.Decimal `json:"weight_kg,omitempty"`
	Amount          *decimal.Decimal `json:"amount"`
	OfficeAccountID *int64           `json:"office_account_id,omitempty"`
}

// UpdateBookingRequest edits booking details. Status moves through
// BookingStatusRequest only.
type UpdateBookingRequest struct {
	SenderName      *string          `json:"sender_name,omitempty"`
	SenderPhone     *string          `json:"sender_phone,omitempty"`
	ReceiverName    *string          `json:"receiver_name,omitempty"`
	ReceiverPhone   *string          `json:"receiver_phone,omitempty"`
	PickupCity      *string          `json:"pickup_city,omitempty"`
	DeliveryCity    *string          `json:"delivery_city,omitempty"`
	DeliveryAddress *string          `json:"delivery_address,omitempty"`
	WeightKg        *decimal.Decimal `json:"weight_kg,omitempty"`
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	OfficeAccountID *int64           `json:"office_account_id,omitempty"`
}

type BookingStatusRequest struct {
	Status string  `json:"status"`
	Note   *string `json:"note,omitempty"`
}

// BulkRequest selects bookings for bulk bill or label printing.
type BulkRequest struct {
	IDs []int64 `json:"ids"`
}

// BulkFailure reports a selected booking that could not be included.
type BulkFailure struct {
	ID     int64  `json:"id"`
	Reason string `json:"reason"`
}

// Bill is the printable invoice of one booking.
type Bill struct {
	TrackingNumber string          `json:"tracking_number"`
	IssuedAt       time.Time       `json:"issued_at"`
	SenderName     string          `json:"sender_name"`
	ReceiverName   string          `json:"receiver_name"`
	Route          string          `json:"route"`
	WeightKg       decimal.Decimal `json:"weight_kg"`
	Amount         decimal.Decimal `json:"amount"`
	Status         string          `json:"status"`
}

// Label is the data printed on a parcel sticker; Barcode is the Code 128
// payload the printer encodes.
type Label struct {
	TrackingNumber  string  `json:"tracking_number"`
	Barcode         string  `json:"barcode"`
	ReceiverName    string  `json:"receiver_name"`
	ReceiverPhone   *string `json:"receiver_phone,omitempty"`
	DeliveryCity    string  `json:"delivery_city"`
	DeliveryAddress *string `json:"delivery_address,omitempty"`
	WeightKg        string  `json:"weight_kg"`
}

type BulkResponse[T any] struct {
	Documents []T           `json:"documents"`
	Failures  []BulkFailure `json:"failures"`
}
