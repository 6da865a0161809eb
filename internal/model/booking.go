package model

import "time"

// BookingStatus tracks whether a booking still holds its seats.
type BookingStatus string

const (
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
)

// PaymentStatus tracks the money side of a booking.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// Booking records a user's confirmed purchase of one or more seats of a
// single show.  Rows are append-mostly: once written, only a cancellation
// flips Status (and PaymentStatus when a refund was issued).
//
// Fields:
//
//	ID               – primary key identifier.
//	UserID           – user who booked.
//	ShowID           – show being booked.
//	SeatIDs          – seats in the order they were requested.
//	TotalAmountCents – seat count × show price, in minor units.
//	Status           – CONFIRMED or CANCELLED.
//	PaymentRef       – provider reference, absent for direct bookings.
//	PaymentStatus    – PENDING, PAID, FAILED or REFUNDED.
type Booking struct {
	ID               uint64        `db:"id" json:"id"`                                 // bookings.id
	UserID           uint64        `db:"user_id" json:"user_id"`                       // bookings.user_id
	ShowID           uint64        `db:"show_id" json:"show_id"`                       // bookings.show_id
	SeatIDs          []uint64      `db:"-" json:"seat_ids"`                            // booking_seats.seat_id ordered by position
	TotalAmountCents int64         `db:"total_amount_cents" json:"total_amount_cents"` // bookings.total_amount_cents
	Status           BookingStatus `db:"status" json:"status"`                         // bookings.status
	PaymentRef       *string       `db:"payment_ref" json:"payment_ref,omitempty"`     // bookings.payment_ref (nullable)
	PaymentStatus    PaymentStatus `db:"payment_status" json:"payment_status"`         // bookings.payment_status
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`                 // bookings.created_at
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`                 // bookings.updated_at
}

// BookingPage is one page of a user's booking history.
type BookingPage struct {
	Items []Booking `json:"items"`
	Total int       `json:"total"`
	Page  int       `json:"page"`
	Limit int       `json:"limit"`
	Pages int       `json:"pages"`
}
