package service

import (
	"context"
	"time"

	"github.com/iliyamo/seat-reservation-core/internal/model"
)

// Transactor runs fn in one store transaction.  Store calls made with the
// context passed to fn join it; fn returning an error rolls everything
// back.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SeatStore is the seat table.  Mutations are conditional bulk updates
// returning how many rows satisfied the condition.
type SeatStore interface {
	CountByShow(ctx context.Context, showID uint64) (int, error)
	CreateBulk(ctx context.Context, seats []model.Seat) error
	ListByShow(ctx context.Context, showID uint64) ([]model.Seat, error)
	GetByIDs(ctx context.Context, ids []uint64) ([]model.Seat, error)
	Lock(ctx context.Context, userID uint64, ids []uint64, now, cutoff time.Time) (int64, error)
	Unlock(ctx context.Context, userID uint64, ids []uint64) (int64, error)
	Book(ctx context.Context, userID uint64, ids []uint64, cutoff time.Time) (int64, error)
	Free(ctx context.Context, ids []uint64) (int64, error)
	ReleaseExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// ShowLookup reads shows from the catalog.
type ShowLookup interface {
	GetByID(ctx context.Context, id uint64) (*model.Show, error)
}

// ShowCatalog adds the cascade delete used by administrators.
type ShowCatalog interface {
	ShowLookup
	DeleteCascade(ctx context.Context, id uint64) error
}

// BookingLedger is the durable record of bookings.
type BookingLedger interface {
	Create(ctx context.Context, b *model.Booking) error
	GetByID(ctx context.Context, id uint64) (*model.Booking, error)
	GetByPaymentRef(ctx context.Context, ref string) (*model.Booking, error)
	MarkCancelled(ctx context.Context, id uint64, ps model.PaymentStatus) (int64, error)
	ListByUser(ctx context.Context, userID uint64, limit, offset int) ([]model.Booking, int, error)
}

// BookingReports aggregates the booking ledger for administrators.
type BookingReports interface {
	Totals(ctx context.Context) (model.BookingTotals, error)
	PopularShows(ctx context.Context, limit int) ([]model.ShowPopularity, error)
}

// OccupancyReports aggregates seat charts per show.
type OccupancyReports interface {
	Occupancy(ctx context.Context) ([]model.ShowOccupancy, error)
}
