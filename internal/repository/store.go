package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type txKey struct{}

// queryer is implemented by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Store bundles the repositories over one connection pool and runs
// transactions spanning them.
type Store struct {
	db       *sqlx.DB
	Seats    *SeatRepo
	Shows    *ShowRepo
	Bookings *BookingRepo
}

// NewStore constructs a Store and its repositories.
func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:       db,
		Seats:    NewSeatRepo(db),
		Shows:    NewShowRepo(db),
		Bookings: NewBookingRepo(db),
	}
}

// WithTx runs fn inside one transaction.  Repository calls made with the
// context handed to fn join the transaction, and reads of seats and
// bookings inside it take row locks (SELECT ... FOR UPDATE).  The
// transaction commits when fn returns nil and rolls back otherwise,
// including on panic.  Nested calls join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, s.db, fn)
}

func withTx(ctx context.Context, db *sqlx.DB, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	return ok
}

// conn returns the transaction bound to ctx, or the pool.
func conn(ctx context.Context, db *sqlx.DB) queryer {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return db
}

// forUpdate returns the row-locking suffix when ctx carries a transaction.
func forUpdate(ctx context.Context) string {
	if inTx(ctx) {
		return " FOR UPDATE"
	}
	return ""
}

// expandIn expands a query containing one "IN (?)" slice argument.
func expandIn(q queryer, query string, args ...interface{}) (string, []interface{}, error) {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return q.Rebind(query), args, nil
}
