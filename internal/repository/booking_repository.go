package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/seat-reservation-core/internal/model"
)

const bookingColumns = `id, user_id, show_id, total_amount_cents, status, payment_ref, payment_status, created_at, updated_at`

// BookingRepo is the booking ledger: bookings and their ordered seats.
// Rows are only ever inserted, except for the cancellation flip.
type BookingRepo struct {
	db *sqlx.DB
}

// NewBookingRepo returns a BookingRepo bound to db.
func NewBookingRepo(db *sqlx.DB) *BookingRepo { return &BookingRepo{db: db} }

// Create inserts the booking and its seats, in the order of b.SeatIDs, and
// assigns the generated ID back to b.  Call it inside Store.WithTx so that
// the seat flip and the ledger entry commit together.  A second booking
// with the same payment reference is rejected with ErrDuplicate.
func (r *BookingRepo) Create(ctx context.Context, b *model.Booking) error {
	q := conn(ctx, r.db)
	res, err := q.ExecContext(ctx,
		`INSERT INTO bookings (user_id, show_id, total_amount_cents, status, payment_ref, payment_status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.UserID, b.ShowID, b.TotalAmountCents, b.Status, b.PaymentRef, b.PaymentStatus, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicate
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)

	if len(b.SeatIDs) == 0 {
		return nil
	}
	query := `INSERT INTO booking_seats (booking_id, seat_id, position) VALUES `
	args := make([]interface{}, 0, len(b.SeatIDs)*3)
	for i, seatID := range b.SeatIDs {
		if i > 0 {
			query += ", "
		}
		query += "(?, ?, ?)"
		args = append(args, b.ID, seatID, i)
	}
	_, err = q.ExecContext(ctx, query, args...)
	return err
}

// GetByID returns the booking with its seats.  Inside a transaction the
// booking row is locked until commit.  ErrNotFound when absent.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (*model.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`+forUpdate(ctx), id)
}

// GetByPaymentRef returns the booking recorded for a payment reference.
func (r *BookingRepo) GetByPaymentRef(ctx context.Context, ref string) (*model.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE payment_ref = ?`, ref)
}

func (r *BookingRepo) getOne(ctx context.Context, query string, arg interface{}) (*model.Booking, error) {
	var b model.Booking
	if err := conn(ctx, r.db).GetContext(ctx, &b, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	bookings := []model.Booking{b}
	if err := r.attachSeats(ctx, bookings); err != nil {
		return nil, err
	}
	return &bookings[0], nil
}

// MarkCancelled flips a CONFIRMED booking to CANCELLED with the given
// payment status.  It returns 0 when the booking was not CONFIRMED.
func (r *BookingRepo) MarkCancelled(ctx context.Context, id uint64, ps model.PaymentStatus) (int64, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE bookings SET status = 'CANCELLED', payment_status = ? WHERE id = ? AND status = 'CONFIRMED'`,
		ps, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListByUser returns one page of a user's bookings, newest first, and the
// total number of bookings the user has.
func (r *BookingRepo) ListByUser(ctx context.Context, userID uint64, limit, offset int) ([]model.Booking, int, error) {
	q := conn(ctx, r.db)
	var total int
	if err := q.GetContext(ctx, &total, `SELECT COUNT(*) FROM bookings WHERE user_id = ?`, userID); err != nil {
		return nil, 0, err
	}
	bookings := []model.Booking{}
	if total == 0 {
		return bookings, 0, nil
	}
	if err := q.SelectContext(ctx, &bookings,
		`SELECT `+bookingColumns+` FROM bookings WHERE user_id = ?
         ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		userID, limit, offset); err != nil {
		return nil, 0, err
	}
	if err := r.attachSeats(ctx, bookings); err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}

// attachSeats fills SeatIDs for all bookings with one query.
func (r *BookingRepo) attachSeats(ctx context.Context, bookings []model.Booking) error {
	if len(bookings) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(bookings))
	index := make(map[uint64]int, len(bookings))
	for i, b := range bookings {
		ids = append(ids, b.ID)
		index[b.ID] = i
		bookings[i].SeatIDs = []uint64{}
	}
	q := conn(ctx, r.db)
	query, args, err := expandIn(q,
		`SELECT booking_id, seat_id FROM booking_seats WHERE booking_id IN (?) ORDER BY booking_id, position`, ids)
	if err != nil {
		return err
	}
	var rows []struct {
		BookingID uint64 `db:"booking_id"`
		SeatID    uint64 `db:"seat_id"`
	}
	if err := q.SelectContext(ctx, &rows, query, args...); err != nil {
		return err
	}
	for _, row := range rows {
		if i, ok := index[row.BookingID]; ok {
			bookings[i].SeatIDs = append(bookings[i].SeatIDs, row.SeatID)
		}
	}
	return nil
}

// Totals sums confirmed revenue and counts bookings by status across the
// whole ledger.
func (r *BookingRepo) Totals(ctx context.Context) (model.BookingTotals, error) {
	var t model.BookingTotals
	err := conn(ctx, r.db).GetContext(ctx, &t,
		`SELECT COALESCE(SUM(CASE WHEN status = 'CONFIRMED' THEN total_amount_cents ELSE 0 END), 0) AS revenue_cents,
                COALESCE(SUM(CASE WHEN status = 'CONFIRMED' THEN 1 ELSE 0 END), 0) AS confirmed,
                COALESCE(SUM(CASE WHEN status = 'CANCELLED' THEN 1 ELSE 0 END), 0) AS cancelled
         FROM bookings`)
	if err != nil {
		return model.BookingTotals{}, err
	}
	return t, nil
}

// PopularShows returns the shows with the most confirmed bookings, most
// booked first.
func (r *BookingRepo) PopularShows(ctx context.Context, limit int) ([]model.ShowPopularity, error) {
	out := []model.ShowPopularity{}
	err := conn(ctx, r.db).SelectContext(ctx, &out,
		`SELECT b.show_id, s.title, COUNT(*) AS bookings
         FROM bookings b JOIN shows s ON s.id = b.show_id
         WHERE b.status = 'CONFIRMED'
         GROUP BY b.show_id, s.title
         ORDER BY bookings DESC, b.show_id
         LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return out, nil
}
