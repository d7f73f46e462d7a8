// Package booking defines the shipment lifecycle and tracking numbers.
package booking

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	StatusPending        = "pending"
	StatusPickedUp       = "picked_up"
	StatusInTransit      = "in_transit"
	StatusOutForDelivery = "out_for_delivery"
	StatusDelivered      = "delivered"
	StatusCancelled      = "cancelled"
	StatusReturned       = "returned"
)

// Statuses in lifecycle order.
var Statuses = []string{
	StatusPending, StatusPickedUp, StatusInTransit, StatusOutForDelivery,
	StatusDelivered, StatusCancelled, StatusReturned,
}

var (
	ErrUnknownStatus     = errors.New("unknown booking status")
	ErrInvalidTransition = errors.New("invalid status transition")
)

var transitions = map[string][]string{
	StatusPending:        {StatusPickedUp, StatusCancelled},
	StatusPickedUp:       {StatusInTransit, StatusCancelled},
	StatusInTransit:      {StatusOutForDelivery, StatusReturned},
	StatusOutForDelivery: {StatusDelivered, StatusReturned},
}

func ValidStatus(s string) bool {
	for _, st := range Statuses {
		if st == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions leave s.
func IsTerminal(s string) bool {
	return ValidStatus(s) && len(transitions[s]) == 0
}

// IsInProgress reports whether the parcel has been collected but not yet settled.
func IsInProgress(s string) bool {
	return s == StatusPickedUp || s == StatusInTransit || s == StatusOutForDelivery
}

// NextStatuses lists the statuses reachable from s in one step.
func NextStatuses(s string) []string {
	return append([]string(nil), transitions[s]...)
}

// Transition validates moving a booking from one status to another.
func Transition(from, to string) error {
	if !ValidStatus(to) {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, to)
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

const trackingPrefix = "CR-"

// NewTrackingNumber returns a customer-facing id such as CR-9F86D081A4.
func NewTrackingNumber() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return trackingPrefix + strings.ToUpper(id[:10])
}

// ValidTrackingNumber checks the shape produced by NewTrackingNumber.
func ValidTrackingNumber(s string) bool {
	if len(s) != len(trackingPrefix)+10 || !strings.HasPrefix(s, trackingPrefix) {
		return false
	}
	for _, c := range s[len(trackingPrefix):] {
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
