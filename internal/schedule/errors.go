package schedule

import "errors"

var (
	// ErrPatientNotFound indicates the patient reference resolved to no record.
	ErrPatientNotFound = errors.New("patient not found")

	// ErrUnknownTherapy indicates no template exists for the therapy type.
	ErrUnknownTherapy = errors.New("unknown therapy type")

	// ErrSlotConflict indicates a candidate slot is already occupied by a
	// non-cancelled session. The whole generation request is rejected.
	ErrSlotConflict = errors.New("slot conflict")

	// ErrInvalidTime indicates a start time that is not strict HH:MM.
	ErrInvalidTime = errors.New("invalid start time")
)
