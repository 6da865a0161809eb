package model

import "time"

// SeatStatus is the lifecycle state of a seat within one show.
type SeatStatus string

const (
	SeatFree   SeatStatus = "FREE"
	SeatLocked SeatStatus = "LOCKED"
	SeatBooked SeatStatus = "BOOKED"
)

// Seat describes one bookable position for a show.  Seats are uniquely
// identified by their show and label; RowLabel and SeatNumber exist so
// charts can be ordered row by row.
//
// Fields:
//
//	ID         – primary key identifier.
//	ShowID     – show this seat belongs to.
//	RowLabel   – row letters (A, B, … AA).
//	SeatNumber – 1-based position within the row.
//	Label      – RowLabel followed by SeatNumber, e.g. "A7".
//	Status     – FREE, LOCKED or BOOKED.
//	LockedAt   – when the current lock was taken; set only while LOCKED.
//	LockedBy   – user holding the lock; set only while LOCKED.
type Seat struct {
	ID         uint64     `db:"id" json:"id"`               // seats.id
	ShowID     uint64     `db:"show_id" json:"show_id"`     // seats.show_id
	RowLabel   string     `db:"row_label" json:"row"`       // seats.row_label
	SeatNumber uint32     `db:"seat_number" json:"number"`  // seats.seat_number
	Label      string     `db:"label" json:"label"`         // seats.label
	Status     SeatStatus `db:"status" json:"status"`       // seats.status
	LockedAt   *time.Time `db:"locked_at" json:"locked_at"` // seats.locked_at (nullable)
	LockedBy   *uint64    `db:"locked_by" json:"locked_by"` // seats.locked_by (nullable)
	CreatedAt  time.Time  `db:"created_at" json:"-"`        // seats.created_at
	UpdatedAt  time.Time  `db:"updated_at" json:"-"`        // seats.updated_at
}

// LockedByUser reports whether the seat is locked by userID, regardless
// of whether the lock has expired.
func (s Seat) LockedByUser(userID uint64) bool {
	return s.Status == SeatLocked && s.LockedBy != nil && *s.LockedBy == userID
}

// LockActive reports whether the seat carries a lock that has not yet
// expired at now for the given TTL.  A lock is live while now-lockedAt < ttl.
func (s Seat) LockActive(now time.Time, ttl time.Duration) bool {
	if s.Status != SeatLocked || s.LockedAt == nil {
		return false
	}
	return now.Sub(*s.LockedAt) < ttl
}
