package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/seat-reservation-core/internal/model"
	"github.com/iliyamo/seat-reservation-core/internal/repository"
)

// SeatService manages seat charts and the administrative removal of shows.
type SeatService struct {
	tx      Transactor
	seats   SeatStore
	shows   ShowCatalog
	timeout time.Duration
	log     *zap.Logger
}

// NewSeatService returns a SeatService.  A non-positive timeout disables
// the per-call store deadline.
func NewSeatService(tx Transactor, seats SeatStore, shows ShowCatalog, timeout time.Duration, log *zap.Logger) *SeatService {
	return &SeatService{tx: tx, seats: seats, shows: shows, timeout: timeout, log: log}
}

// GenerateSeatChart creates one FREE seat per position of layout.  A show
// gets exactly one chart; a second call, concurrent or not, fails with
// AlreadyGenerated.
func (s *SeatService) GenerateSeatChart(ctx context.Context, showID uint64, layout model.Layout) (int, error) {
	if err := layout.Validate(); err != nil {
		return 0, newError(KindInvalidInput, "%v", err)
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.exists(ctx, showID); err != nil {
		return 0, err
	}
	seats := layout.Seats(showID)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		n, err := s.seats.CountByShow(ctx, showID)
		if err != nil {
			return err
		}
		if n > 0 {
			return newError(KindAlreadyGenerated, "show %d already has %d seats", showID, n)
		}
		return s.seats.CreateBulk(ctx, seats)
	})
	if errors.Is(err, repository.ErrDuplicate) {
		err = newError(KindAlreadyGenerated, "show %d already has a seat chart", showID)
	}
	if err != nil {
		return 0, storeErr("generate seat chart", err)
	}
	s.log.Info("seat chart generated", zap.Uint64("show_id", showID), zap.Int("seats", len(seats)))
	return len(seats), nil
}

// ListSeats returns the show's seats ordered by row, then number.  The read
// takes no locks, so statuses may trail concurrent changes.
func (s *SeatService) ListSeats(ctx context.Context, showID uint64) ([]model.Seat, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.exists(ctx, showID); err != nil {
		return nil, err
	}
	seats, err := s.seats.ListByShow(ctx, showID)
	if err != nil {
		return nil, storeErr("list seats", err)
	}
	return seats, nil
}

// DeleteShow removes a show with its seats and cancelled bookings.  It is
// refused while any booking for the show is still confirmed.
func (s *SeatService) DeleteShow(ctx context.Context, showID uint64) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	err := s.shows.DeleteCascade(ctx, showID)
	switch {
	case err == nil:
		s.log.Info("show deleted", zap.Uint64("show_id", showID))
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return newError(KindShowNotFound, "show %d does not exist", showID)
	case errors.Is(err, repository.ErrConflict):
		return newError(KindConflict, "show %d still has confirmed bookings", showID)
	}
	return storeErr("delete show", err)
}

func (s *SeatService) exists(ctx context.Context, showID uint64) error {
	if _, err := s.shows.GetByID(ctx, showID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return newError(KindShowNotFound, "show %d does not exist", showID)
		}
		return storeErr("load show", err)
	}
	return nil
}
