package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/seat-reservation-core/internal/model"
)

const seatColumns = `id, show_id, row_label, seat_number, label, status, locked_at, locked_by, created_at, updated_at`

// seatInsertChunk bounds the number of rows per multi-row INSERT.
const seatInsertChunk = 500

// SeatRepo provides data access to the seats table.  Every state change
// is a single conditional UPDATE whose WHERE clause restates the
// precondition; the returned row count tells the caller how many seats
// actually satisfied it.  All timestamps are UTC.
type SeatRepo struct {
	db *sqlx.DB
}

// NewSeatRepo returns a new SeatRepo bound to the provided database.
func NewSeatRepo(db *sqlx.DB) *SeatRepo { return &SeatRepo{db: db} }

// CountByShow returns how many seats exist for the show.
func (r *SeatRepo) CountByShow(ctx context.Context, showID uint64) (int, error) {
	var n int
	if err := conn(ctx, r.db).GetContext(ctx, &n, `SELECT COUNT(*) FROM seats WHERE show_id = ?`, showID); err != nil {
		return 0, err
	}
	return n, nil
}

// CreateBulk inserts FREE seats in chunks.  A unique key violation on
// (show_id, label) is reported as ErrDuplicate.
func (r *SeatRepo) CreateBulk(ctx context.Context, seats []model.Seat) error {
	q := conn(ctx, r.db)
	for start := 0; start < len(seats); start += seatInsertChunk {
		end := start + seatInsertChunk
		if end > len(seats) {
			end = len(seats)
		}
		chunk := seats[start:end]
		query := `INSERT INTO seats (show_id, row_label, seat_number, label, status) VALUES `
		args := make([]interface{}, 0, len(chunk)*5)
		for i, s := range chunk {
			if i > 0 {
				query += ", "
			}
			query += "(?, ?, ?, ?, ?)"
			args = append(args, s.ShowID, s.RowLabel, s.SeatNumber, s.Label, model.SeatFree)
		}
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			if isDuplicateKey(err) {
				return ErrDuplicate
			}
			return err
		}
	}
	return nil
}

// ListByShow returns every seat of a show ordered by row, then seat
// number.  Rows sort by label length first so that Z precedes AA.
func (r *SeatRepo) ListByShow(ctx context.Context, showID uint64) ([]model.Seat, error) {
	query := `SELECT ` + seatColumns + ` FROM seats WHERE show_id = ?
              ORDER BY CHAR_LENGTH(row_label), row_label, seat_number`
	seats := []model.Seat{}
	if err := conn(ctx, r.db).SelectContext(ctx, &seats, query, showID); err != nil {
		return nil, err
	}
	return seats, nil
}

// GetByIDs loads the given seats ordered by id.  Inside a transaction the
// rows are locked until commit.  Missing ids are simply absent from the
// result.
func (r *SeatRepo) GetByIDs(ctx context.Context, ids []uint64) ([]model.Seat, error) {
	if len(ids) == 0 {
		return []model.Seat{}, nil
	}
	q := conn(ctx, r.db)
	query, args, err := expandIn(q, `SELECT `+seatColumns+` FROM seats WHERE id IN (?) ORDER BY id`+forUpdate(ctx), ids)
	if err != nil {
		return nil, err
	}
	seats := []model.Seat{}
	if err := q.SelectContext(ctx, &seats, query, args...); err != nil {
		return nil, err
	}
	return seats, nil
}

// Lock moves the seats to LOCKED for userID at now.  A seat qualifies when
// it is FREE, already locked by userID, or locked by anyone with
// locked_at <= cutoff (an expired lease).  The caller compares the
// returned count with len(ids) and rolls back on a mismatch.
func (r *SeatRepo) Lock(ctx context.Context, userID uint64, ids []uint64, now, cutoff time.Time) (int64, error) {
	return r.exec(ctx, `UPDATE seats SET status = 'LOCKED', locked_at = ?, locked_by = ?
        WHERE id IN (?) AND (status = 'FREE' OR (status = 'LOCKED' AND (locked_by = ? OR locked_at <= ?)))`,
		now, userID, ids, userID, cutoff)
}

// Unlock frees the seats currently locked by userID.  Seats that are not
// locked by that user are left untouched.
func (r *SeatRepo) Unlock(ctx context.Context, userID uint64, ids []uint64) (int64, error) {
	return r.exec(ctx, `UPDATE seats SET status = 'FREE', locked_at = NULL, locked_by = NULL
        WHERE id IN (?) AND status = 'LOCKED' AND locked_by = ?`,
		ids, userID)
}

// Book moves seats from LOCKED (by userID, lease newer than cutoff) to
// BOOKED and clears the lock fields.
func (r *SeatRepo) Book(ctx context.Context, userID uint64, ids []uint64, cutoff time.Time) (int64, error) {
	return r.exec(ctx, `UPDATE seats SET status = 'BOOKED', locked_at = NULL, locked_by = NULL
        WHERE id IN (?) AND status = 'LOCKED' AND locked_by = ? AND locked_at > ?`,
		ids, userID, cutoff)
}

// Free returns BOOKED seats to FREE after a cancellation.
func (r *SeatRepo) Free(ctx context.Context, ids []uint64) (int64, error) {
	return r.exec(ctx, `UPDATE seats SET status = 'FREE', locked_at = NULL, locked_by = NULL
        WHERE id IN (?) AND status = 'BOOKED'`,
		ids)
}

// ReleaseExpired frees every lock taken before cutoff and returns how many
// seats were released.  It is a blind sweep over the (status, locked_at)
// index and does not read the rows first.
func (r *SeatRepo) ReleaseExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE seats SET status = 'FREE', locked_at = NULL, locked_by = NULL
         WHERE status = 'LOCKED' AND locked_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *SeatRepo) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	q := conn(ctx, r.db)
	query, args, err := expandIn(q, query, args...)
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update seats: %w", err)
	}
	return res.RowsAffected()
}

// Occupancy counts total and BOOKED seats for every show with a chart.
func (r *SeatRepo) Occupancy(ctx context.Context) ([]model.ShowOccupancy, error) {
	out := []model.ShowOccupancy{}
	err := conn(ctx, r.db).SelectContext(ctx, &out,
		`SELECT se.show_id, sh.title, COUNT(*) AS total_seats,
                COALESCE(SUM(CASE WHEN se.status = 'BOOKED' THEN 1 ELSE 0 END), 0) AS booked_seats
         FROM seats se JOIN shows sh ON sh.id = se.show_id
         GROUP BY se.show_id, sh.title
         ORDER BY se.show_id`)
	if err != nil {
		return nil, err
	}
	return out, nil
}
