// Package session validates and applies lifecycle operations on
// existing therapy sessions: status transitions, reschedules,
// cancellations and annotation updates, plus the derived patient
// progress percentage.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ayursutra/scheduler/internal/db"
)

// SessionStore is the slice of the session repository this service needs.
type SessionStore interface {
	GetSession(ctx context.Context, id uuid.UUID) (*db.Session, error)
	ListSessions(ctx context.Context) ([]*db.Session, error)
	ListSessionsByPatient(ctx context.Context, patientID uuid.UUID) ([]*db.Session, error)
	SlotTaken(ctx context.Context, date time.Time, startTime string, excludeID *uuid.UUID) (bool, error)
	UpdateSessionStatus(ctx context.Context, id uuid.UUID, status string) error
	RescheduleSession(ctx context.Context, id uuid.UUID, date time.Time, startTime string) error
	UpdateSessionDetails(ctx context.Context, id uuid.UUID, d db.SessionDetails) error
	DeleteSession(ctx context.Context, id uuid.UUID) error
	CountPatientSessions(ctx context.Context, patientID uuid.UUID) (completed, nonCancelled int, err error)
}

// UserStore resolves users and persists derived progress.
type UserStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*db.User, error)
	UpdateUserProgress(ctx context.Context, id uuid.UUID, progress int) error
}

// Service applies session lifecycle operations.
type Service struct {
	sessions SessionStore
	users    UserStore
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a session service.
func NewService(sessions SessionStore, users UserStore, logger *zap.Logger) *Service {
	return &Service{
		sessions: sessions,
		users:    users,
		logger:   logger,
		now:      time.Now,
	}
}

// List returns a patient's own sessions, or every session for a
// practitioner.
func (s *Service) List(ctx context.Context, userID uuid.UUID, role string) ([]*db.Session, error) {
	if role == db.RolePatient {
		return s.sessions.ListSessionsByPatient(ctx, userID)
	}
	return s.sessions.ListSessions(ctx)
}

// Get returns one session.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*db.Session, error) {
	sess, err := s.sessions.GetSession(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	return sess, err
}

// Cancel sets status=cancelled with a direct field update. The path is
// deliberately validation-light so legacy or incomplete rows can still
// be cancelled. Cancelling twice is a no-op.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	if err := s.sessions.UpdateSessionStatus(ctx, id, db.SessionCancelled); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("cancel session: %w", err)
	}
	s.logger.Info("session cancelled", zap.String("session_id", id.String()))
	return nil
}

// Reschedule moves a session to a new date and/or start time. Nil
// arguments keep the stored value. The new date may not precede today,
// the time must be strict HH:MM, and the target slot must be free
// (ignoring the session being moved).
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newDate *time.Time, newStart *string) (*db.Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	date := sess.SessionDate
	if newDate != nil {
		date = truncateToDay(*newDate)
		if date.Before(truncateToDay(s.now())) {
			return nil, ErrPastDate
		}
	}

	start := sess.StartTime
	if newStart != nil {
		start = *newStart
		if !db.ValidStartTime(start) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTime, start)
		}
	}

	taken, err := s.sessions.SlotTaken(ctx, date, start, &sess.ID)
	if err != nil {
		return nil, fmt.Errorf("check slot: %w", err)
	}
	if taken {
		return nil, fmt.Errorf("%w: %s %s", ErrSlotConflict, date.Format("2006-01-02"), start)
	}

	if err := s.sessions.RescheduleSession(ctx, id, date, start); err != nil {
		if errors.Is(err, db.ErrSlotTaken) {
			return nil, fmt.Errorf("%w: concurrent booking", ErrSlotConflict)
		}
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reschedule session: %w", err)
	}

	sess.SessionDate = date
	sess.StartTime = start

	s.logger.Info("session rescheduled",
		zap.String("session_id", id.String()),
		zap.String("date", date.Format("2006-01-02")),
		zap.String("start_time", start),
	)
	return sess, nil
}

// UpdateStatus applies a practitioner-driven status transition. The
// acting practitioner must be the one assigned to the session's
// patient. A transition to completed recomputes the patient's progress
// from the store.
func (s *Service) UpdateStatus(ctx context.Context, id, actingPractitionerID uuid.UUID, rawStatus string) (*db.Session, error) {
	next, ok := ParseStatus(rawStatus)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, rawStatus)
	}

	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if sess.PatientID == nil {
		return nil, fmt.Errorf("%w: session has no patient", ErrNotFound)
	}
	patient, err := s.users.GetUser(ctx, *sess.PatientID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: patient missing", ErrNotFound)
		}
		return nil, fmt.Errorf("resolve patient: %w", err)
	}

	if patient.AssignedPractitionerID == nil || *patient.AssignedPractitionerID != actingPractitionerID {
		return nil, ErrUnauthorized
	}

	current := Status(sess.Status)
	if !CanTransition(current, next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}

	if err := s.sessions.UpdateSessionStatus(ctx, id, string(next)); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update status: %w", err)
	}
	sess.Status = string(next)

	if next == StatusCompleted {
		if err := s.syncProgress(ctx, patient.ID); err != nil {
			// progress is derived state; the transition itself stands
			s.logger.Error("progress sync failed",
				zap.Error(err),
				zap.String("patient_id", patient.ID.String()),
			)
		}
	}

	s.logger.Info("session status updated",
		zap.String("session_id", id.String()),
		zap.String("status", string(next)),
	)
	return sess, nil
}

// syncProgress recomputes the patient's progress percentage from the
// store: round(100 x completed / nonCancelled).
func (s *Service) syncProgress(ctx context.Context, patientID uuid.UUID) error {
	completed, nonCancelled, err := s.sessions.CountPatientSessions(ctx, patientID)
	if err != nil {
		return err
	}

	progress := 0
	if nonCancelled > 0 {
		progress = int(math.Round(100 * float64(completed) / float64(nonCancelled)))
	}
	return s.users.UpdateUserProgress(ctx, patientID, progress)
}

// Update applies free-form annotation changes with no state-machine
// restriction.
func (s *Service) Update(ctx context.Context, id uuid.UUID, d db.SessionDetails) (*db.Session, error) {
	if err := s.sessions.UpdateSessionDetails(ctx, id, d); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update session: %w", err)
	}
	return s.Get(ctx, id)
}

// Delete hard-deletes a session. A patient may only delete their own.
func (s *Service) Delete(ctx context.Context, id, actorID uuid.UUID, actorRole string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if actorRole == db.RolePatient {
		if sess.PatientID == nil || *sess.PatientID != actorID {
			return ErrUnauthorized
		}
	}

	if err := s.sessions.DeleteSession(ctx, id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
