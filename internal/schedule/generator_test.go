package schedule

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ayursutra/scheduler/internal/db"
)

type mockPatients struct {
	users map[uuid.UUID]*db.User
}

func (m *mockPatients) GetUser(ctx context.Context, id uuid.UUID) (*db.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return u, nil
}

type mockSessions struct {
	taken     map[string]bool
	created   []*db.Session
	createErr error
}

func slotKey(date time.Time, start string) string {
	return fmt.Sprintf("%s %s", date.Format("2006-01-02"), start)
}

func (m *mockSessions) SlotTaken(ctx context.Context, date time.Time, startTime string, excludeID *uuid.UUID) (bool, error) {
	return m.taken[slotKey(date, startTime)], nil
}

func (m *mockSessions) CreateSessions(ctx context.Context, sessions []*db.Session) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, sessions...)
	return nil
}

func newTestGenerator(patients *mockPatients, sessions *mockSessions, fallback uuid.UUID, now time.Time) *Generator {
	g := New(patients, sessions, fallback, zap.NewNop())
	g.now = func() time.Time { return now }
	return g
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestGenerate_PanchkarmaFullPlan(t *testing.T) {
	now := day(2026, 9, 1)
	patientID := uuid.New()
	fallback := uuid.New()

	patients := &mockPatients{users: map[uuid.UUID]*db.User{
		patientID: {ID: patientID, Name: "Asha", Role: db.RolePatient},
	}}
	sessions := &mockSessions{taken: map[string]bool{}}

	g := newTestGenerator(patients, sessions, fallback, now)
	result, err := g.Generate(context.Background(), GenerateRequest{
		PatientID:   patientID,
		TherapyType: "Panchkarma",
		StartDate:   day(2026, 9, 10),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result) != 15 {
		t.Fatalf("expected 15 sessions, got %d", len(result))
	}
	if len(sessions.created) != 15 {
		t.Fatalf("expected 15 persisted sessions, got %d", len(sessions.created))
	}

	phases := map[string]int{}
	for i, s := range result {
		phases[s.Phase]++
		wantDate := day(2026, 9, 10).AddDate(0, 0, i)
		if !s.SessionDate.Equal(wantDate) {
			t.Errorf("session %d: expected date %v, got %v", i, wantDate, s.SessionDate)
		}
		if s.StartTime != DefaultStartTime {
			t.Errorf("session %d: expected default start time, got %s", i, s.StartTime)
		}
		if s.Status != db.SessionScheduled {
			t.Errorf("session %d: expected scheduled, got %s", i, s.Status)
		}
		if s.PractitionerID != fallback {
			t.Errorf("session %d: expected fallback practitioner", i)
		}
		if s.PatientID == nil || *s.PatientID != patientID {
			t.Errorf("session %d: wrong patient", i)
		}
	}
	if phases[db.PhasePre] != 5 || phases[db.PhaseMain] != 5 || phases[db.PhasePost] != 5 {
		t.Errorf("expected 5 sessions per phase, got %v", phases)
	}
}

func TestGenerate_DropsPastDays(t *testing.T) {
	now := day(2026, 9, 10)
	patientID := uuid.New()

	patients := &mockPatients{users: map[uuid.UUID]*db.User{
		patientID: {ID: patientID},
	}}
	sessions := &mockSessions{taken: map[string]bool{}}

	g := newTestGenerator(patients, sessions, uuid.New(), now)

	// Start five days ago: offsets 0 through 4 fall before today and
	// are dropped without error.
	result, err := g.Generate(context.Background(), GenerateRequest{
		PatientID:   patientID,
		TherapyType: "Panchkarma",
		StartDate:   day(2026, 9, 5),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result) != 10 {
		t.Fatalf("expected 10 surviving sessions, got %d", len(result))
	}
	if !result[0].SessionDate.Equal(now) {
		t.Errorf("expected first surviving session today, got %v", result[0].SessionDate)
	}
}

func TestGenerate_SlotTimesPerSurvivingEntry(t *testing.T) {
	now := day(2026, 9, 1)
	patientID := uuid.New()

	patients := &mockPatients{users: map[uuid.UUID]*db.User{
		patientID: {ID: patientID},
	}}
	sessions := &mockSessions{taken: map[string]bool{}}

	g := newTestGenerator(patients, sessions, uuid.New(), now)
	result, err := g.Generate(context.Background(), GenerateRequest{
		PatientID:   patientID,
		TherapyType: "Abhyanga",
		StartDate:   day(2026, 9, 10),
		SlotTimes:   []string{"08:00", "", "14:30"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result[0].StartTime != "08:00" {
		t.Errorf("expected 08:00, got %s", result[0].StartTime)
	}
	if result[1].StartTime != DefaultStartTime {
		t.Errorf("expected default for empty slot, got %s", result[1].StartTime)
	}
	if result[2].StartTime != "14:30" {
		t.Errorf("expected 14:30, got %s", result[2].StartTime)
	}
	if result[3].StartTime != DefaultStartTime {
		t.Errorf("expected default past slot list, got %s", result[3].StartTime)
	}
}

func TestGenerate_InvalidSlotTime(t *testing.T) {
	now := day(2026, 9, 1)
	patientID := uuid.New()

	patients := &mockPatients{users: map[uuid.UUID]*db.User{
		patientID: {ID: patientID},
	}}
	sessions := &mockSessions{taken: map[string]bool{}}

	g := newTestGenerator(patients, sessions, uuid.New(), now)

	for _, bad := range []string{"25:00", "9:00", "10:60", "noon", "10:00:00"} {
		_, err := g.Generate(context.Background(), GenerateRequest{
			PatientID:   patientID,
			TherapyType: "Abhyanga",
			StartDate:   day(2026, 9, 10),
			SlotTimes:   []string{bad},
		})
		if !errors.Is(err, ErrInvalidTime) {
			t.Errorf("%q: expected ErrInvalidTime, got %v", bad, err)
		}
	}
	if len(sessions.created) != 0 {
		t.Error("nothing should be created for invalid times")
	}
}

func TestGenerate_ConflictRejectsWholeBatch(t *testing.T) {
	now := day(2026, 9, 1)
	patientID := uuid.New()

	patients := &mockPatients{users: map[uuid.UUID]*db.User{
		patientID: {ID: patientID},
	}}
	// Day 3 of the plan is occupied.
	sessions := &mockSessions{taken: map[string]bool{
		slotKey(day(2026, 9, 13), DefaultStartTime): true,
	}}

	g := newTestGenerator(patients, sessions, uuid.New(), now)
	_, err := g.Generate(context.Background(), GenerateRequest{
		PatientID:   patientID,
		TherapyType: "Panchkarma",
		StartDate:   day(2026, 9, 10),
	})
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}
	if len(sessions.created) != 0 {
		t.Errorf("expected no sessions written, got %d", len(sessions.created))
	}
}

func TestGenerate_ConcurrentBookingConflict(t *testing.T) {
	now := day(2026, 9, 1)
	patientID := uuid.New()

	patients := &mockPatients{users: map[uuid.UUID]*db.User{
		patientID: {ID: patientID},
	}}
	// The pre-check sees free slots but the insert loses the race.
	sessions := &mockSessions{taken: map[string]bool{}, createErr: db.ErrSlotTaken}

	g := newTestGenerator(patients, sessions, uuid.New(), now)
	_, err := g.Generate(context.Background(), GenerateRequest{
		PatientID:   patientID,
		TherapyType: "Abhyanga",
		StartDate:   day(2026, 9, 10),
	})
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}
}

func TestGenerate_UnknownTherapy(t *testing.T) {
	patientID := uuid.New()
	patients := &mockPatients{users: map[uuid.UUID]*db.User{
		patientID: {ID: patientID},
	}}

	g := newTestGenerator(patients, &mockSessions{}, uuid.New(), day(2026, 9, 1))
	_, err := g.Generate(context.Background(), GenerateRequest{
		PatientID:   patientID,
		TherapyType: "Acupuncture",
		StartDate:   day(2026, 9, 10),
	})
	if !errors.Is(err, ErrUnknownTherapy) {
		t.Fatalf("expected ErrUnknownTherapy, got %v", err)
	}
}

func TestGenerate_PatientNotFound(t *testing.T) {
	g := newTestGenerator(&mockPatients{users: map[uuid.UUID]*db.User{}}, &mockSessions{}, uuid.New(), day(2026, 9, 1))
	_, err := g.Generate(context.Background(), GenerateRequest{
		PatientID:   uuid.New(),
		TherapyType: "Panchkarma",
		StartDate:   day(2026, 9, 10),
	})
	if !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("expected ErrPatientNotFound, got %v", err)
	}
}

func TestGenerate_ExplicitPractitioner(t *testing.T) {
	now := day(2026, 9, 1)
	patientID := uuid.New()
	practitionerID := uuid.New()

	patients := &mockPatients{users: map[uuid.UUID]*db.User{
		patientID: {ID: patientID},
	}}
	sessions := &mockSessions{taken: map[string]bool{}}

	g := newTestGenerator(patients, sessions, uuid.New(), now)
	result, err := g.Generate(context.Background(), GenerateRequest{
		PatientID:      patientID,
		PractitionerID: &practitionerID,
		TherapyType:    "Shirodhara",
		StartDate:      day(2026, 9, 10),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, s := range result {
		if s.PractitionerID != practitionerID {
			t.Fatal("expected the named practitioner on every session")
		}
	}
}

func TestCreateSingle_Success(t *testing.T) {
	now := day(2026, 9, 1)
	patientID := uuid.New()

	patients := &mockPatients{users: map[uuid.UUID]*db.User{
		patientID: {ID: patientID},
	}}
	sessions := &mockSessions{taken: map[string]bool{}}

	g := newTestGenerator(patients, sessions, uuid.New(), now)
	sess, err := g.CreateSingle(context.Background(), SingleRequest{
		PatientID:   patientID,
		Date:        day(2026, 9, 15),
		StartTime:   "11:00",
		TherapyType: "Nasya",
		SessionName: "Nasya follow-up",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.Phase != db.PhaseCustom {
		t.Errorf("expected custom phase, got %s", sess.Phase)
	}
	if sess.DurationMinutes != 60 {
		t.Errorf("expected default 60 minutes, got %d", sess.DurationMinutes)
	}
}

func TestCreateSingle_SlotTaken(t *testing.T) {
	now := day(2026, 9, 1)
	patientID := uuid.New()

	patients := &mockPatients{users: map[uuid.UUID]*db.User{
		patientID: {ID: patientID},
	}}
	sessions := &mockSessions{taken: map[string]bool{
		slotKey(day(2026, 9, 15), "11:00"): true,
	}}

	g := newTestGenerator(patients, sessions, uuid.New(), now)
	_, err := g.CreateSingle(context.Background(), SingleRequest{
		PatientID:   patientID,
		Date:        day(2026, 9, 15),
		StartTime:   "11:00",
		TherapyType: "Nasya",
	})
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}
}
