package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/seat-reservation-core/internal/model"
	"github.com/iliyamo/seat-reservation-core/internal/queue"
)

func TestLockSeatsGrantsLease(t *testing.T) {
	f := newFixture(t, 200, 5)
	ctx := context.Background()

	lease, err := f.locks.LockSeats(ctx, 7, []uint64{f.ids[1], f.ids[0], f.ids[1]}, t0)
	require.NoError(t, err)

	assert.Equal(t, f.showID, lease.ShowID)
	assert.Equal(t, []uint64{f.ids[1], f.ids[0]}, lease.SeatIDs)
	assert.Equal(t, t0, lease.LockedAt)
	assert.Equal(t, t0.Add(testTTL), lease.ExpiresAt)

	for _, id := range lease.SeatIDs {
		s := f.store.seat(id)
		assert.Equal(t, model.SeatLocked, s.Status)
		assert.Equal(t, uint64(7), *s.LockedBy)
		assert.True(t, s.LockedAt.Equal(t0))
	}
}

func TestLockSeatsRejectsBadSelections(t *testing.T) {
	f := newFixture(t, 200, 12)
	f.store.addShow(2, t0.Add(time.Hour), 100)
	other := f.store.addSeats(2, 1)
	f.store.addShow(3, t0.Add(-time.Minute), 100)
	started := f.store.addSeats(3, 1)
	f.store.addShow(4, t0, 100)
	startingNow := f.store.addSeats(4, 1)

	tests := []struct {
		name string
		ids  []uint64
		kind Kind
	}{
		{"empty", nil, KindInvalidInput},
		{"too many", f.ids[:11], KindBatchTooLarge},
		{"unknown seat", []uint64{f.ids[0], 9999}, KindSeatNotFound},
		{"two shows", []uint64{f.ids[0], other[0]}, KindCrossShowSelection},
		{"show started", started, KindShowStarted},
		{"show starting now", startingNow, KindShowStarted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.locks.LockSeats(context.Background(), 1, tt.ids, t0)
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
	for _, id := range f.ids {
		assert.Equal(t, model.SeatFree, f.store.seat(id).Status)
	}
}

func TestLockSeatsBatchOfTenAllowed(t *testing.T) {
	f := newFixture(t, 200, 10)
	_, err := f.locks.LockSeats(context.Background(), 1, f.ids, t0)
	assert.NoError(t, err)
}

func TestLockExclusivity(t *testing.T) {
	f := newFixture(t, 200, 2)
	ctx := context.Background()
	seat := f.ids[0]

	_, err := f.locks.LockSeats(ctx, 1, []uint64{seat}, t0)
	require.NoError(t, err)

	_, err = f.locks.LockSeats(ctx, 2, []uint64{seat}, t0.Add(testTTL-time.Nanosecond))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSeatUnavailable))
	assert.True(t, IsContention(err))

	// the lease has run out: another user may take the seat without a sweep
	_, err = f.locks.LockSeats(ctx, 2, []uint64{seat}, t0.Add(testTTL))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), *f.store.seat(seat).LockedBy)
}

func TestLockSeatsRefreshesOwnLock(t *testing.T) {
	f := newFixture(t, 200, 1)
	ctx := context.Background()
	seat := f.ids[0]

	_, err := f.locks.LockSeats(ctx, 1, []uint64{seat}, t0)
	require.NoError(t, err)

	later := t0.Add(2 * testTTL)
	lease, err := f.locks.LockSeats(ctx, 1, []uint64{seat}, later)
	require.NoError(t, err)
	assert.Equal(t, later.Add(testTTL), lease.ExpiresAt)
	assert.True(t, f.store.seat(seat).LockedAt.Equal(later))
}

func TestLockSeatsIsAllOrNothing(t *testing.T) {
	f := newFixture(t, 200, 3)
	ctx := context.Background()
	a, b, c := f.ids[0], f.ids[1], f.ids[2]

	_, err := f.locks.LockSeats(ctx, 9, []uint64{c}, t0)
	require.NoError(t, err)

	_, err = f.locks.LockSeats(ctx, 1, []uint64{a, b, c}, t0.Add(time.Second))
	require.Error(t, err)
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindSeatUnavailable, e.Kind)
	assert.Equal(t, []uint64{c}, e.SeatIDs)

	assert.Equal(t, model.SeatFree, f.store.seat(a).Status)
	assert.Equal(t, model.SeatFree, f.store.seat(b).Status)

	ev, ok := f.events.last(queue.TypeLockConflict)
	require.True(t, ok)
	assert.Equal(t, uint64(1), ev.UserID)
	assert.Equal(t, []uint64{c}, ev.SeatIDs)
}

func TestLockSeatsPartialUpdateRollsBack(t *testing.T) {
	f := newFixture(t, 200, 3)
	a, b := f.ids[0], f.ids[1]

	// a racer books b between the read and the conditional update
	f.store.beforeOps["lock"] = func(s *memStore) {
		seat := s.seats[b]
		seat.Status = model.SeatBooked
		s.seats[b] = seat
	}

	_, err := f.locks.LockSeats(context.Background(), 1, []uint64{a, b}, t0)
	require.Error(t, err)
	assert.Equal(t, KindPartialLockFailure, KindOf(err))
	assert.True(t, IsRetryable(err))

	// the whole transaction, racer included, is undone by the fake
	assert.Equal(t, model.SeatFree, f.store.seat(a).Status)
	assert.Nil(t, f.store.seat(a).LockedBy)
}

func TestLockSeatsStoreFailure(t *testing.T) {
	f := newFixture(t, 200, 1)
	f.store.failOn("get_seats", errors.New("connection reset"))

	_, err := f.locks.LockSeats(context.Background(), 1, f.ids, t0)
	require.Error(t, err)
	assert.Equal(t, KindStoreUnavailable, KindOf(err))
	assert.True(t, IsRetryable(err))
}

func TestConcurrentLocksHaveOneWinner(t *testing.T) {
	f := newFixture(t, 200, 3)
	const racers = 16

	var wins int32
	var wg sync.WaitGroup
	for u := 1; u <= racers; u++ {
		wg.Add(1)
		go func(user uint64) {
			defer wg.Done()
			// overlapping selections: everybody wants the middle seat
			sel := []uint64{f.ids[user%2*2], f.ids[1]}
			if _, err := f.locks.LockSeats(context.Background(), user, sel, t0); err == nil {
				atomic.AddInt32(&wins, 1)
			} else {
				assert.True(t, IsContention(err), "unexpected error: %v", err)
			}
		}(uint64(u))
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	holder := f.store.seat(f.ids[1]).LockedBy
	require.NotNil(t, holder)
}

func TestUnlockSeatsSkipsStaleEntries(t *testing.T) {
	f := newFixture(t, 200, 4)
	ctx := context.Background()
	mine, theirs, free := f.ids[0], f.ids[1], f.ids[2]

	_, err := f.locks.LockSeats(ctx, 1, []uint64{mine}, t0)
	require.NoError(t, err)
	_, err = f.locks.LockSeats(ctx, 2, []uint64{theirs}, t0)
	require.NoError(t, err)

	n, err := f.locks.UnlockSeats(ctx, 1, []uint64{mine, theirs, free, 9999})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.Equal(t, model.SeatFree, f.store.seat(mine).Status)
	assert.Nil(t, f.store.seat(mine).LockedAt)
	assert.Equal(t, model.SeatLocked, f.store.seat(theirs).Status)
}

func TestUnlockSeatsReportsStoreFailure(t *testing.T) {
	f := newFixture(t, 200, 1)
	f.store.failOn("unlock", context.DeadlineExceeded)

	n, err := f.locks.UnlockSeats(context.Background(), 1, f.ids)
	assert.Zero(t, n)
	assert.Equal(t, KindStoreUnavailable, KindOf(err))
}

func TestNewLockManagerDefaults(t *testing.T) {
	st := newMemStore()
	m := NewLockManager(st, st, memShows{st}, 0, zap.NewNop(), nil, WithMaxBatch(3), WithLockStoreTimeout(time.Second))
	assert.Equal(t, DefaultLockTTL, m.TTL())
	assert.Equal(t, 3, m.maxBatch)
	assert.Equal(t, time.Second, m.timeout)
}
