package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrSlotTaken is returned when an insert or update violates the
	// partial unique index on (session_date, start_time) for
	// non-cancelled sessions. Concurrent double-bookings surface here
	// instead of racing silently.
	ErrSlotTaken = errors.New("slot already taken")
)

const uniqueViolationCode = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
