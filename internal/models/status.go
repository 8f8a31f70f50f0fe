package models

import "fmt"

// Status is the lifecycle state of an order. Payment drives it out of
// PENDING_PAYMENT; claims drive it from COMPLETED towards FULLY_CLAIMED.
type Status string

const (
	StatusPendingPayment   Status = "PENDING_PAYMENT"
	StatusCompleted        Status = "COMPLETED"
	StatusCancelled        Status = "CANCELLED"
	StatusPartiallyClaimed Status = "PARTIALLY_CLAIMED"
	StatusFullyClaimed     Status = "FULLY_CLAIMED"
)

var transitions = map[Status][]Status{
	StatusPendingPayment:   {StatusCompleted, StatusCancelled},
	StatusCompleted:        {StatusPartiallyClaimed, StatusFullyClaimed},
	StatusPartiallyClaimed: {StatusPartiallyClaimed, StatusFullyClaimed},
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusPendingPayment, StatusCompleted, StatusCancelled, StatusPartiallyClaimed, StatusFullyClaimed:
		return true
	}
	return false
}

// PaymentResolved reports whether the gateway outcome is already recorded.
func (s Status) PaymentResolved() bool {
	return s.Valid() && s != StatusPendingPayment
}

// Redeemable reports whether claims may still be registered.
func (s Status) Redeemable() bool {
	return s == StatusCompleted || s == StatusPartiallyClaimed
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DeriveClaimStatus computes the status of a paid order from its claim counters.
func DeriveClaimStatus(items []*OrderItem) Status {
	if len(items) == 0 {
		return StatusCompleted
	}
	full, any := true, false
	for _, it := range items {
		if it.Claimed != it.Quantity {
			full = false
		}
		if it.Claimed > 0 {
			any = true
		}
	}
	switch {
	case full:
		return StatusFullyClaimed
	case any:
		return StatusPartiallyClaimed
	default:
		return StatusCompleted
	}
}
