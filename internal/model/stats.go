package model

// BookingTotals aggregates the whole booking ledger.
type BookingTotals struct {
	RevenueCents int64 `db:"revenue_cents"` // sum of CONFIRMED totals
	Confirmed    int   `db:"confirmed"`
	Cancelled    int   `db:"cancelled"`
}

// ShowOccupancy is how much of one show's seat chart is sold.
type ShowOccupancy struct {
	ShowID           uint64  `db:"show_id" json:"show_id"`
	Title            string  `db:"title" json:"title"`
	TotalSeats       int     `db:"total_seats" json:"total_seats"`
	BookedSeats      int     `db:"booked_seats" json:"booked_seats"`
	OccupancyPercent float64 `db:"-" json:"occupancy_percent"`
}

// ShowPopularity counts a show's confirmed bookings.
type ShowPopularity struct {
	ShowID   uint64 `db:"show_id" json:"show_id"`
	Title    string `db:"title" json:"title"`
	Bookings int    `db:"bookings" json:"bookings"`
}

// AdminStats is the administrator's overview of sales.  Amounts are in
// minor units; CancellationRate is a percentage of all bookings.
type AdminStats struct {
	TotalRevenueCents int64            `json:"total_revenue_cents"`
	ConfirmedBookings int              `json:"confirmed_bookings"`
	CancelledBookings int              `json:"cancelled_bookings"`
	CancellationRate  float64          `json:"cancellation_rate"`
	Occupancy         []ShowOccupancy  `json:"occupancy"`
	PopularShows      []ShowPopularity `json:"popular_shows"`
}
