package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const sessionColumns = `
	id, practitioner_id, patient_id, session_date, start_time,
	duration_minutes, therapy_type, phase, session_name, status,
	notes, session_notes, progress_notes, recommendations,
	created_at, updated_at`

// SessionRepository handles database operations for therapy sessions
type SessionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{
		db:     db,
		logger: logger,
	}
}

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(
		&s.ID,
		&s.PractitionerID,
		&s.PatientID,
		&s.SessionDate,
		&s.StartTime,
		&s.DurationMinutes,
		&s.TherapyType,
		&s.Phase,
		&s.SessionName,
		&s.Status,
		&s.Notes,
		&s.SessionNotes,
		&s.ProgressNotes,
		&s.Recommendations,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSessions bulk-inserts a batch of sessions in one transaction.
// Any unique-index violation on (session_date, start_time) rolls the
// whole batch back and surfaces as ErrSlotTaken, so a generation
// request is applied fully or not at all.
func (r *SessionRepository) CreateSessions(ctx context.Context, sessions []*Session) error {
	if len(sessions) == 0 {
		return nil
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO sessions (
			id, practitioner_id, patient_id, session_date, start_time,
			duration_minutes, therapy_type, phase, session_name, status,
			notes, session_notes, progress_notes, recommendations
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
		RETURNING created_at, updated_at
	`

	for _, s := range sessions {
		err := tx.QueryRow(ctx, query,
			s.ID,
			s.PractitionerID,
			s.PatientID,
			s.SessionDate,
			s.StartTime,
			s.DurationMinutes,
			s.TherapyType,
			s.Phase,
			s.SessionName,
			s.Status,
			s.Notes,
			s.SessionNotes,
			s.ProgressNotes,
			s.Recommendations,
		).Scan(&s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrSlotTaken
			}
			return fmt.Errorf("insert session: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Info("sessions created",
		zap.Int("count", len(sessions)),
		zap.String("therapy_type", sessions[0].TherapyType),
	)

	return nil
}

// GetSession retrieves a session by ID
func (r *SessionRepository) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	s, err := scanSession(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return s, nil
}

// SlotTaken reports whether a non-cancelled session already occupies
// the given (date, startTime) pair. excludeID skips the session being
// moved during a reschedule.
func (r *SessionRepository) SlotTaken(ctx context.Context, date time.Time, startTime string, excludeID *uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM sessions
			WHERE session_date = $1 AND start_time = $2
			  AND status <> $3
			  AND ($4::uuid IS NULL OR id <> $4)
		)
	`

	var taken bool
	err := r.db.Pool().QueryRow(ctx, query, date, startTime, SessionCancelled, excludeID).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check slot: %w", err)
	}
	return taken, nil
}

// ListSessions retrieves all sessions, upcoming first
func (r *SessionRepository) ListSessions(ctx context.Context) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY session_date ASC, start_time ASC`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

// ListSessionsByPatient retrieves a single patient's sessions
func (r *SessionRepository) ListSessionsByPatient(ctx context.Context, patientID uuid.UUID) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE patient_id = $1 ORDER BY session_date ASC, start_time ASC`

	rows, err := r.db.Pool().Query(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

// ListSessionsBetween retrieves non-cancelled sessions whose calendar
// day falls inside [from, to]. Day granularity only; callers must
// re-check the exact start instant.
func (r *SessionRepository) ListSessionsBetween(ctx context.Context, from, to time.Time) ([]*Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE session_date >= $1::date AND session_date <= $2::date
		  AND status <> $3
		ORDER BY session_date ASC, start_time ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, from, to, SessionCancelled)
	if err != nil {
		return nil, fmt.Errorf("query sessions in window: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

func collectSessions(rows pgx.Rows) ([]*Session, error) {
	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return sessions, nil
}

// UpdateSessionStatus sets the status field only. This path skips full
// record validation so legacy rows can still be cancelled.
func (r *SessionRepository) UpdateSessionStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `UPDATE sessions SET status = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.Pool().Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RescheduleSession performs a partial update of date and start time.
// The partial unique index backstops the caller's conflict check.
func (r *SessionRepository) RescheduleSession(ctx context.Context, id uuid.UUID, date time.Time, startTime string) error {
	query := `UPDATE sessions SET session_date = $1, start_time = $2, updated_at = NOW() WHERE id = $3`

	result, err := r.db.Pool().Exec(ctx, query, date, startTime, id)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlotTaken
		}
		return fmt.Errorf("reschedule session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SessionDetails carries the free-form fields a generic update may
// touch. Nil pointers leave the stored value unchanged.
type SessionDetails struct {
	Notes           *string
	SessionNotes    *string
	ProgressNotes   *string
	Recommendations *string
	SessionName     *string
	Phase           *string
	TherapyType     *string
}

// UpdateSessionDetails applies a partial update of annotation fields
func (r *SessionRepository) UpdateSessionDetails(ctx context.Context, id uuid.UUID, d SessionDetails) error {
	query := `
		UPDATE sessions SET
			notes = COALESCE($1, notes),
			session_notes = COALESCE($2, session_notes),
			progress_notes = COALESCE($3, progress_notes),
			recommendations = COALESCE($4, recommendations),
			session_name = COALESCE($5, session_name),
			phase = COALESCE($6, phase),
			therapy_type = COALESCE($7, therapy_type),
			updated_at = NOW()
		WHERE id = $8
	`

	result, err := r.db.Pool().Exec(ctx, query,
		d.Notes,
		d.SessionNotes,
		d.ProgressNotes,
		d.Recommendations,
		d.SessionName,
		d.Phase,
		d.TherapyType,
		id,
	)
	if err != nil {
		return fmt.Errorf("update session details: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession hard-deletes a session row
func (r *SessionRepository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	r.logger.Info("session deleted", zap.String("session_id", id.String()))
	return nil
}

// CountPatientSessions returns the completed and non-cancelled session
// counts for one patient. Progress is always recomputed from these
// counts, never incremented in place.
func (r *SessionRepository) CountPatientSessions(ctx context.Context, patientID uuid.UUID) (completed, nonCancelled int, err error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status <> $3)
		FROM sessions
		WHERE patient_id = $1
	`

	err = r.db.Pool().QueryRow(ctx, query, patientID, SessionCompleted, SessionCancelled).Scan(&completed, &nonCancelled)
	if err != nil {
		return 0, 0, fmt.Errorf("count patient sessions: %w", err)
	}
	return completed, nonCancelled, nil
}
