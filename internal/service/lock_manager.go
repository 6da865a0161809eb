package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/seat-reservation-core/internal/model"
	"github.com/iliyamo/seat-reservation-core/internal/queue"
	"github.com/iliyamo/seat-reservation-core/internal/repository"
)

// Defaults applied when no option overrides them.
const (
	DefaultLockTTL      = 5 * time.Minute
	DefaultMaxBatch     = 10
	DefaultStoreTimeout = 5 * time.Second
)

// Lease describes locks held by one user on seats of one show.
type Lease struct {
	ShowID    uint64    `json:"show_id"`
	SeatIDs   []uint64  `json:"seat_ids"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LockManager grants and releases time-bounded seat locks.
type LockManager struct {
	tx       Transactor
	seats    SeatStore
	shows    ShowLookup
	ttl      time.Duration
	maxBatch int
	timeout  time.Duration
	log      *zap.Logger
	notify   queue.Notifier
}

// LockOption configures a LockManager.
type LockOption func(*LockManager)

// WithMaxBatch caps the number of distinct seats per lock request.
func WithMaxBatch(n int) LockOption {
	return func(m *LockManager) {
		if n > 0 {
			m.maxBatch = n
		}
	}
}

// WithLockStoreTimeout bounds each lock or unlock call against the store.
func WithLockStoreTimeout(d time.Duration) LockOption {
	return func(m *LockManager) { m.timeout = d }
}

// NewLockManager builds a LockManager.  A zero ttl selects DefaultLockTTL;
// a nil notifier discards events.
func NewLockManager(tx Transactor, seats SeatStore, shows ShowLookup, ttl time.Duration,
	log *zap.Logger, notify queue.Notifier, opts ...LockOption) *LockManager {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if notify == nil {
		notify = queue.Nop{}
	}
	m := &LockManager{
		tx:       tx,
		seats:    seats,
		shows:    shows,
		ttl:      ttl,
		maxBatch: DefaultMaxBatch,
		timeout:  DefaultStoreTimeout,
		log:      log,
		notify:   notify,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// TTL returns the lease length.
func (m *LockManager) TTL() time.Duration { return m.ttl }

// LockSeats locks every seat in seatIDs for userID, or none of them.
//
// All seats must belong to one show that has not started.  A seat is
// acceptable when it is FREE, locked by userID (re-locking refreshes the
// lease) or locked by someone else whose lease has expired.  The rows are
// read FOR UPDATE and then moved with a single conditional update; a row
// count short of the request rolls the whole batch back.
func (m *LockManager) LockSeats(ctx context.Context, userID uint64, seatIDs []uint64, now time.Time) (*Lease, error) {
	ids := dedupe(seatIDs)
	if err := checkBatch(ids, m.maxBatch); err != nil {
		return nil, err
	}
	now = now.UTC()

	ctx, cancel := withTimeout(ctx, m.timeout)
	defer cancel()

	var showID uint64
	err := m.tx.WithTx(ctx, func(ctx context.Context) error {
		seats, err := m.seats.GetByIDs(ctx, ids)
		if err != nil {
			return err
		}
		if showID, err = sameShow(seats, ids); err != nil {
			return err
		}
		if _, err := liveShow(ctx, m.shows, showID, now, KindShowStarted); err != nil {
			return err
		}

		if err := available(seats, userID, now, m.ttl); err != nil {
			return err
		}

		n, err := m.seats.Lock(ctx, userID, ids, now, now.Add(-m.ttl))
		if err != nil {
			return err
		}
		if n != int64(len(ids)) {
			return &Error{Kind: KindPartialLockFailure, Reason: "some seats changed while locking", SeatIDs: ids}
		}
		return nil
	})
	if err != nil {
		err = storeErr("lock seats", err)
		if IsContention(err) {
			m.log.Info("seat lock conflict", zap.Uint64("user_id", userID), zap.Uint64s("seat_ids", ids), zap.Error(err))
			var e *Error
			errors.As(err, &e)
			m.notify.Notify(ctx, queue.Event{
				Type:       queue.TypeLockConflict,
				OccurredAt: now,
				UserID:     userID,
				ShowID:     showID,
				SeatIDs:    e.SeatIDs,
				Reason:     string(e.Kind),
			})
		}
		return nil, err
	}

	m.log.Debug("seats locked", zap.Uint64("user_id", userID), zap.Uint64("show_id", showID), zap.Uint64s("seat_ids", ids))
	return &Lease{ShowID: showID, SeatIDs: ids, LockedAt: now, ExpiresAt: now.Add(m.ttl)}, nil
}

// UnlockSeats frees the seats in seatIDs that are currently locked by
// userID and returns how many were released.  Seats that are free, booked
// or held by someone else are skipped silently.  Only a store failure is
// returned as an error.
func (m *LockManager) UnlockSeats(ctx context.Context, userID uint64, seatIDs []uint64) (int64, error) {
	ids := dedupe(seatIDs)
	if len(ids) == 0 {
		return 0, newError(KindInvalidInput, "no seats given")
	}
	ctx, cancel := withTimeout(ctx, m.timeout)
	defer cancel()

	n, err := m.seats.Unlock(ctx, userID, ids)
	if err != nil {
		m.log.Warn("unlock seats failed", zap.Uint64("user_id", userID), zap.Uint64s("seat_ids", ids), zap.Error(err))
		return 0, storeErr("unlock seats", err)
	}
	m.log.Debug("seats unlocked", zap.Uint64("user_id", userID), zap.Int64("released", n))
	return n, nil
}

// dedupe drops repeated ids, keeping first occurrences in order.
func dedupe(ids []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func checkBatch(ids []uint64, max int) error {
	if len(ids) == 0 {
		return newError(KindInvalidInput, "no seats given")
	}
	if len(ids) > max {
		return newError(KindBatchTooLarge, "at most %d seats per request, got %d", max, len(ids))
	}
	return nil
}

// sameShow checks that every id was found and that all seats share one
// show, returning it.
func sameShow(seats []model.Seat, ids []uint64) (uint64, error) {
	if len(seats) != len(ids) {
		found := make(map[uint64]bool, len(seats))
		for _, s := range seats {
			found[s.ID] = true
		}
		var missing []uint64
		for _, id := range ids {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return 0, &Error{Kind: KindSeatNotFound, Reason: "unknown seats", SeatIDs: missing}
	}
	showID := seats[0].ShowID
	for _, s := range seats[1:] {
		if s.ShowID != showID {
			return 0, newError(KindCrossShowSelection, "seats belong to more than one show")
		}
	}
	return showID, nil
}

// available fails with SeatUnavailable when any seat is booked or held
// by another user's live lease.
func available(seats []model.Seat, userID uint64, now time.Time, ttl time.Duration) error {
	var booked, held []uint64
	for _, s := range seats {
		switch {
		case s.Status == model.SeatBooked:
			booked = append(booked, s.ID)
		case s.Status == model.SeatLocked && !s.LockedByUser(userID) && s.LockActive(now, ttl):
			held = append(held, s.ID)
		}
	}
	switch {
	case len(booked) > 0:
		return &Error{Kind: KindSeatUnavailable, Reason: "seats already booked", SeatIDs: append(booked, held...), Permanent: true}
	case len(held) > 0:
		return &Error{Kind: KindSeatUnavailable, Reason: "seats locked by another user", SeatIDs: held}
	}
	return nil
}

// liveShow loads the show and fails with startedKind when it has begun.
func liveShow(ctx context.Context, shows ShowLookup, showID uint64, now time.Time, startedKind Kind) (*model.Show, error) {
	show, err := shows.GetByID(ctx, showID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(KindShowNotFound, "show %d does not exist", showID)
		}
		return nil, err
	}
	if show.Started(now) {
		return nil, newError(startedKind, "show %d started at %s", showID, show.StartsAt.UTC().Format(time.RFC3339))
	}
	return show, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
