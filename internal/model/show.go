package model

import "time"

// Show is the slice of the external catalog the reservation core needs:
// when it starts and what one seat costs.  Prices are in minor units.
type Show struct {
	ID         uint64    `db:"id" json:"id"`                   // shows.id
	Title      string    `db:"title" json:"title"`             // shows.title
	StartsAt   time.Time `db:"starts_at" json:"starts_at"`     // shows.starts_at
	PriceCents int64     `db:"price_cents" json:"price_cents"` // shows.price_cents
}

// Started reports whether the show has begun at now.  A show starting
// exactly at now counts as started.
func (s Show) Started(now time.Time) bool {
	return !s.StartsAt.After(now)
}
