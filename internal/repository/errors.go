// Package repository holds the MySQL persistence for seats, shows and
// bookings.  The sentinel values below are shared across repositories so
// the service layer can tell failure scenarios apart without inspecting
// driver errors.  For example, ErrDuplicate signals that an insert hit a
// unique key (a seat chart generated twice, a payment reference booked
// twice), while ErrConflict signals that an operation cannot proceed
// because of dependent rows (deleting a show that still has confirmed
// bookings).
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a unique key.
var ErrDuplicate = errors.New("duplicate")

// ErrConflict is returned when a delete or update cannot be performed
// because of conflicting state, such as deleting a show that still has
// confirmed bookings.
var ErrConflict = errors.New("conflict")

const mysqlDuplicateEntry = 1062

func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
