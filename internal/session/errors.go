package session

import "errors"

var (
	// ErrNotFound indicates the session or its patient does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrInvalidStatus indicates a status value outside the closed set.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrInvalidTransition indicates a status change the transition
	// table does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidTime indicates a start time that is not strict HH:MM.
	ErrInvalidTime = errors.New("invalid start time")

	// ErrPastDate indicates a reschedule target earlier than today.
	ErrPastDate = errors.New("date is in the past")

	// ErrSlotConflict indicates the target slot is already occupied.
	ErrSlotConflict = errors.New("slot conflict")

	// ErrUnauthorized indicates the acting user may not perform the
	// operation on this session.
	ErrUnauthorized = errors.New("not authorized for this session")
)
