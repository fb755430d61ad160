// Package schedule expands fixed treatment templates into batches of
// bookable therapy sessions, rejecting the whole batch on any slot
// conflict.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ayursutra/scheduler/internal/db"
)

// DefaultStartTime is used for template entries with no per-slot time.
const DefaultStartTime = "10:00"

// PatientStore resolves patient references.
type PatientStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*db.User, error)
}

// SessionStore is the slice of the session repository the generator needs.
type SessionStore interface {
	SlotTaken(ctx context.Context, date time.Time, startTime string, excludeID *uuid.UUID) (bool, error)
	CreateSessions(ctx context.Context, sessions []*db.Session) error
}

// Generator expands treatment templates into persisted sessions.
type Generator struct {
	users    PatientStore
	sessions SessionStore
	fallback uuid.UUID
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a schedule generator. fallbackPractitioner is the shared
// duty practitioner resolved at startup; it is assigned when a request
// names no practitioner.
func New(users PatientStore, sessions SessionStore, fallbackPractitioner uuid.UUID, logger *zap.Logger) *Generator {
	return &Generator{
		users:    users,
		sessions: sessions,
		fallback: fallbackPractitioner,
		logger:   logger,
		now:      time.Now,
	}
}

// GenerateRequest names the patient, program and start day. SlotTimes
// optionally assigns a start time per surviving template entry.
type GenerateRequest struct {
	PatientID      uuid.UUID
	PractitionerID *uuid.UUID
	TherapyType    string
	StartDate      time.Time
	SlotTimes      []string
}

// Generate expands the therapy template anchored at StartDate and
// persists the surviving entries as scheduled sessions. Entries whose
// computed day already passed are silently dropped. The operation is
// all-or-nothing: the first conflicting slot rejects the whole batch
// before anything is written, and the storage-level unique index
// backstops concurrent generators.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) ([]*db.Session, error) {
	patient, err := g.users.GetUser(ctx, req.PatientID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("resolve patient: %w", err)
	}

	entries, ok := Template(req.TherapyType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTherapy, req.TherapyType)
	}

	today := truncateToDay(g.now())

	type candidate struct {
		entry TemplateEntry
		date  time.Time
		start string
	}

	var candidates []candidate
	for _, entry := range entries {
		date := truncateToDay(req.StartDate).AddDate(0, 0, entry.DayOffset)
		if date.Before(today) {
			continue // no backfill for days already gone
		}
		candidates = append(candidates, candidate{entry: entry, date: date})
	}

	for i := range candidates {
		start := DefaultStartTime
		if i < len(req.SlotTimes) && req.SlotTimes[i] != "" {
			start = req.SlotTimes[i]
		}
		if !db.ValidStartTime(start) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTime, start)
		}
		candidates[i].start = start
	}

	// Fail fast on the first occupied slot, before any write.
	for _, c := range candidates {
		taken, err := g.sessions.SlotTaken(ctx, c.date, c.start, nil)
		if err != nil {
			return nil, fmt.Errorf("check slot: %w", err)
		}
		if taken {
			return nil, fmt.Errorf("%w: %s %s", ErrSlotConflict, c.date.Format("2006-01-02"), c.start)
		}
	}

	practitioner := g.fallback
	if req.PractitionerID != nil {
		practitioner = *req.PractitionerID
	}

	sessions := make([]*db.Session, 0, len(candidates))
	for _, c := range candidates {
		sessions = append(sessions, &db.Session{
			ID:              uuid.New(),
			PractitionerID:  practitioner,
			PatientID:       &patient.ID,
			SessionDate:     c.date,
			StartTime:       c.start,
			DurationMinutes: c.entry.DurationMinutes,
			TherapyType:     req.TherapyType,
			Phase:           c.entry.Phase,
			SessionName:     c.entry.SessionName,
			Status:          db.SessionScheduled,
		})
	}

	if err := g.sessions.CreateSessions(ctx, sessions); err != nil {
		if errors.Is(err, db.ErrSlotTaken) {
			return nil, fmt.Errorf("%w: concurrent booking", ErrSlotConflict)
		}
		return nil, fmt.Errorf("persist sessions: %w", err)
	}

	g.logger.Info("schedule generated",
		zap.String("patient_id", patient.ID.String()),
		zap.String("therapy_type", req.TherapyType),
		zap.Int("sessions", len(sessions)),
	)

	return sessions, nil
}

// SingleRequest books one free slot outside any template.
type SingleRequest struct {
	PatientID      uuid.UUID
	PractitionerID *uuid.UUID
	Date           time.Time
	StartTime      string
	DurationMins   int
	TherapyType    string
	SessionName    string
}

// CreateSingle books one session in a free slot.
func (g *Generator) CreateSingle(ctx context.Context, req SingleRequest) (*db.Session, error) {
	patient, err := g.users.GetUser(ctx, req.PatientID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("resolve patient: %w", err)
	}

	if !db.ValidStartTime(req.StartTime) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTime, req.StartTime)
	}

	date := truncateToDay(req.Date)
	taken, err := g.sessions.SlotTaken(ctx, date, req.StartTime, nil)
	if err != nil {
		return nil, fmt.Errorf("check slot: %w", err)
	}
	if taken {
		return nil, fmt.Errorf("%w: %s %s", ErrSlotConflict, date.Format("2006-01-02"), req.StartTime)
	}

	practitioner := g.fallback
	if req.PractitionerID != nil {
		practitioner = *req.PractitionerID
	}

	duration := req.DurationMins
	if duration == 0 {
		duration = 60
	}

	session := &db.Session{
		ID:              uuid.New(),
		PractitionerID:  practitioner,
		PatientID:       &patient.ID,
		SessionDate:     date,
		StartTime:       req.StartTime,
		DurationMinutes: duration,
		TherapyType:     req.TherapyType,
		Phase:           db.PhaseCustom,
		SessionName:     req.SessionName,
		Status:          db.SessionScheduled,
	}

	if err := g.sessions.CreateSessions(ctx, []*db.Session{session}); err != nil {
		if errors.Is(err, db.ErrSlotTaken) {
			return nil, fmt.Errorf("%w: concurrent booking", ErrSlotConflict)
		}
		return nil, fmt.Errorf("persist session: %w", err)
	}

	return session, nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
