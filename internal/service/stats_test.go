package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-reservation-core/internal/model"
)

func TestAdminStats(t *testing.T) {
	f := newFixture(t, 150, 6)
	ctx := context.Background()
	f.store.addShow(2, t0.Add(48*time.Hour), 100)
	other := f.store.addSeats(2, 4)

	book := func(user uint64, show uint64, ids []uint64, price int64) *model.Booking {
		_, err := f.locks.LockSeats(ctx, user, ids, t0)
		require.NoError(t, err)
		b, err := f.coord.ConfirmDirect(ctx, user, ids, show, int64(len(ids))*price, t0)
		require.NoError(t, err)
		return b
	}
	book(1, f.showID, f.ids[:2], 150)
	book(2, f.showID, f.ids[2:3], 150)
	cancelled := book(3, f.showID, f.ids[3:4], 150)
	book(4, 2, other[:1], 100)
	_, err := f.coord.Cancel(ctx, cancelled.ID, 3, t0)
	require.NoError(t, err)

	stats, err := NewStatsService(memBookings{f.store}, f.store, time.Second).AdminStats(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(300+150+100), stats.TotalRevenueCents, "cancelled bookings earn nothing")
	assert.Equal(t, 3, stats.ConfirmedBookings)
	assert.Equal(t, 1, stats.CancelledBookings)
	assert.Equal(t, 25.0, stats.CancellationRate)

	require.Len(t, stats.Occupancy, 2)
	assert.Equal(t, model.ShowOccupancy{ShowID: 1, Title: "show", TotalSeats: 6, BookedSeats: 3, OccupancyPercent: 50}, stats.Occupancy[0])
	assert.Equal(t, 25.0, stats.Occupancy[1].OccupancyPercent)

	require.Len(t, stats.PopularShows, 2)
	assert.Equal(t, uint64(1), stats.PopularShows[0].ShowID)
	assert.Equal(t, 2, stats.PopularShows[0].Bookings)
}

func TestAdminStatsEmptyLedger(t *testing.T) {
	st := newMemStore()
	stats, err := NewStatsService(memBookings{st}, st, 0).AdminStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalRevenueCents)
	assert.Zero(t, stats.CancellationRate)
	assert.Empty(t, stats.Occupancy)
	assert.Empty(t, stats.PopularShows)
}

func TestAdminStatsStoreFailure(t *testing.T) {
	st := newMemStore()
	st.failOn("totals", errors.New("connection reset"))

	_, err := NewStatsService(memBookings{st}, st, time.Second).AdminStats(context.Background())
	assert.Equal(t, KindStoreUnavailable, KindOf(err))
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0.0, percent(3, 0))
	assert.Equal(t, 33.33, percent(1, 3))
	assert.Equal(t, 100.0, percent(4, 4))
}
