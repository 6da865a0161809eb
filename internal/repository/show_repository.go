package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/seat-reservation-core/internal/model"
)

// ShowRepo reads the catalog's shows table.  The catalog owns show rows;
// this repository only looks them up and removes them, together with the
// seats and bookings that hang off them, when the catalog retires a show.
type ShowRepo struct {
	db *sqlx.DB
}

// NewShowRepo constructs a ShowRepo with the given DB handle.
func NewShowRepo(db *sqlx.DB) *ShowRepo {
	return &ShowRepo{db: db}
}

// GetByID retrieves a show by its ID.  It returns ErrNotFound if there is
// no matching row.
func (r *ShowRepo) GetByID(ctx context.Context, id uint64) (*model.Show, error) {
	const q = `SELECT id, title, starts_at, price_cents FROM shows WHERE id = ?`
	var s model.Show
	if err := conn(ctx, r.db).GetContext(ctx, &s, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// DeleteCascade removes a show and everything attached to it in one
// transaction.  It refuses with ErrConflict while any booking of the show
// is still CONFIRMED; cancelled bookings and all seats are deleted along
// with the show.  The show row is locked first so that no booking can be
// confirmed for it while the delete is in flight.
func (r *ShowRepo) DeleteCascade(ctx context.Context, id uint64) error {
	return withTx(ctx, r.db, func(ctx context.Context) error {
		q := conn(ctx, r.db)

		var locked uint64
		if err := q.GetContext(ctx, &locked, `SELECT id FROM shows WHERE id = ? FOR UPDATE`, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		var confirmed int
		if err := q.GetContext(ctx, &confirmed,
			`SELECT COUNT(*) FROM bookings WHERE show_id = ? AND status = 'CONFIRMED'`, id); err != nil {
			return err
		}
		if confirmed > 0 {
			return ErrConflict
		}

		stmts := []string{
			`DELETE bs FROM booking_seats bs JOIN bookings b ON b.id = bs.booking_id WHERE b.show_id = ?`,
			`DELETE FROM bookings WHERE show_id = ?`,
			`DELETE FROM seats WHERE show_id = ?`,
			`DELETE FROM shows WHERE id = ?`,
		}
		for _, stmt := range stmts {
			if _, err := q.ExecContext(ctx, stmt, id); err != nil {
				return err
			}
		}
		return nil
	})
}
