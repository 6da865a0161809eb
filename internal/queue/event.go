// Package queue carries reservation events to RabbitMQ and back out of
// it.  The core only sees the Notifier interface; delivery is
// fire-and-forget and never affects the outcome of the operation that
// produced the event.
package queue

import (
	"context"
	"time"
)

// Event types.
const (
	TypeLockConflict           = "lock.conflict"
	TypeReaperSweep            = "reaper.sweep"
	TypeBookingConfirmed       = "booking.confirmed"
	TypeBookingCancelled       = "booking.cancelled"
	TypeBookingFailed          = "booking.failed"
	TypeReconciliationRequired = "payment.reconciliation_required"
)

// Event is the single envelope published for every reservation event.
// Fields that do not apply to a type are left empty.
type Event struct {
	Type        string    `json:"type"`
	OccurredAt  time.Time `json:"occurred_at"`
	UserID      uint64    `json:"user_id,omitempty"`
	ShowID      uint64    `json:"show_id,omitempty"`
	SeatIDs     []uint64  `json:"seat_ids,omitempty"`
	BookingID   uint64    `json:"booking_id,omitempty"`
	PaymentRef  string    `json:"payment_ref,omitempty"`
	AmountCents int64     `json:"amount_cents,omitempty"`
	Released    int64     `json:"released,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// Notifier receives events.  Implementations must not block the caller
// for long and must not fail it.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}
