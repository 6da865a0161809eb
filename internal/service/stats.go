package service

import (
	"context"
	"math"
	"time"

	"github.com/iliyamo/seat-reservation-core/internal/model"
)

// PopularShowsLimit is how many shows AdminStats ranks.
const PopularShowsLimit = 5

// StatsService builds read-only sales reports.  Its queries take no locks,
// so figures may trail bookings committed while it runs.
type StatsService struct {
	bookings BookingReports
	seats    OccupancyReports
	timeout  time.Duration
}

// NewStatsService returns a StatsService.  A non-positive timeout disables
// the store deadline.
func NewStatsService(bookings BookingReports, seats OccupancyReports, timeout time.Duration) *StatsService {
	return &StatsService{bookings: bookings, seats: seats, timeout: timeout}
}

// AdminStats reports confirmed revenue, booking counts, the cancellation
// rate, per-show seat occupancy and the most booked shows.
func (s *StatsService) AdminStats(ctx context.Context) (*model.AdminStats, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	totals, err := s.bookings.Totals(ctx)
	if err != nil {
		return nil, storeErr("booking totals", err)
	}
	occupancy, err := s.seats.Occupancy(ctx)
	if err != nil {
		return nil, storeErr("seat occupancy", err)
	}
	popular, err := s.bookings.PopularShows(ctx, PopularShowsLimit)
	if err != nil {
		return nil, storeErr("popular shows", err)
	}

	for i := range occupancy {
		occupancy[i].OccupancyPercent = percent(occupancy[i].BookedSeats, occupancy[i].TotalSeats)
	}
	return &model.AdminStats{
		TotalRevenueCents: totals.RevenueCents,
		ConfirmedBookings: totals.Confirmed,
		CancelledBookings: totals.Cancelled,
		CancellationRate:  percent(totals.Cancelled, totals.Confirmed+totals.Cancelled),
		Occupancy:         occupancy,
		PopularShows:      popular,
	}, nil
}

// percent is part/whole × 100 rounded to two decimals, 0 for an empty whole.
func percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return math.Round(float64(part)*10000/float64(whole)) / 100
}
