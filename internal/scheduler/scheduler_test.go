package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ayursutra/scheduler/internal/db"
	"github.com/ayursutra/scheduler/internal/dispatch"
)

type mockSessionStore struct {
	sessions []*db.Session
	err      error
}

func (m *mockSessionStore) ListSessionsBetween(ctx context.Context, from, to time.Time) ([]*db.Session, error) {
	return m.sessions, m.err
}

type mockUserStore struct {
	users map[uuid.UUID]*db.User
}

func (m *mockUserStore) GetUser(ctx context.Context, id uuid.UUID) (*db.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return u, nil
}

type mockNotificationStore struct {
	existing map[string]bool
	created  []*db.Notification
}

func dedupKey(userID, sessionID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("%s|%s|%d", userID, sessionID, at.Unix())
}

func (m *mockNotificationStore) CreateNotification(ctx context.Context, n *db.Notification) (bool, error) {
	key := dedupKey(n.UserID, *n.SessionID, n.ScheduledAt)
	if m.existing[key] {
		return false, nil
	}
	if m.existing == nil {
		m.existing = make(map[string]bool)
	}
	m.existing[key] = true
	m.created = append(m.created, n)
	return true, nil
}

func (m *mockNotificationStore) NotificationExists(ctx context.Context, userID, sessionID uuid.UUID, scheduledAt time.Time) (bool, error) {
	return m.existing[dedupKey(userID, sessionID, scheduledAt)], nil
}

type mockDispatcher struct {
	dispatched []*db.Notification
	failFor    map[uuid.UUID]error
}

func (m *mockDispatcher) Dispatch(ctx context.Context, notif *db.Notification, contact dispatch.Contact) error {
	if err := m.failFor[notif.UserID]; err != nil {
		return err
	}
	m.dispatched = append(m.dispatched, notif)
	return nil
}

func email(s string) *string { return &s }

func testSession(practitionerID uuid.UUID, patientID *uuid.UUID, date time.Time, startTime, status string) *db.Session {
	return &db.Session{
		ID:             uuid.New(),
		PractitionerID: practitionerID,
		PatientID:      patientID,
		SessionDate:    time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location()),
		StartTime:      startTime,
		TherapyType:    "Abhyanga",
		SessionName:    "Abhyanga Day 1",
		Status:         status,
	}
}

func newTestScheduler(sessions *mockSessionStore, users *mockUserStore, notifs *mockNotificationStore, disp *mockDispatcher, now time.Time) *Scheduler {
	s := New(sessions, users, notifs, disp, Config{
		Interval:  5 * time.Minute,
		Lookahead: 60 * time.Minute,
	}, zap.NewNop())
	s.now = func() time.Time { return now }
	return s
}

func TestScheduler_RemindsPatientAndPractitioner(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	patientID := uuid.New()
	practitionerID := uuid.New()

	sess := testSession(practitionerID, &patientID, now, "10:00", db.SessionScheduled)

	sessions := &mockSessionStore{sessions: []*db.Session{sess}}
	users := &mockUserStore{users: map[uuid.UUID]*db.User{
		patientID:      {ID: patientID, Name: "Asha", Email: email("asha@example.com")},
		practitionerID: {ID: practitionerID, Name: "Dr. Rao", Email: email("rao@example.com")},
	}}
	notifs := &mockNotificationStore{existing: make(map[string]bool)}
	disp := &mockDispatcher{}

	s := newTestScheduler(sessions, users, notifs, disp, now)
	s.Tick(context.Background())

	if len(notifs.created) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notifs.created))
	}
	if len(disp.dispatched) != 2 {
		t.Fatalf("expected 2 dispatches, got %d", len(disp.dispatched))
	}

	seen := map[uuid.UUID]bool{}
	for _, n := range notifs.created {
		seen[n.UserID] = true
		if n.Status != db.StatusPending {
			t.Errorf("expected pending status, got %s", n.Status)
		}
		if n.Channel != db.ChannelInApp {
			t.Errorf("expected in_app channel, got %s", n.Channel)
		}
		if n.SessionID == nil || *n.SessionID != sess.ID {
			t.Error("notification not bound to session")
		}
		wantStart := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
		if !n.ScheduledAt.Equal(wantStart) {
			t.Errorf("expected scheduled_at %v, got %v", wantStart, n.ScheduledAt)
		}
	}
	if !seen[patientID] || !seen[practitionerID] {
		t.Error("expected one notification each for patient and practitioner")
	}
}

func TestScheduler_WindowBoundaries(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	practitionerID := uuid.New()

	tests := []struct {
		name      string
		startTime string
		want      int
	}{
		{"already started", "08:30", 0},
		{"starts now", "09:00", 1},
		{"inside window", "09:45", 1},
		{"exactly at window end", "10:00", 0},
		{"beyond window", "11:30", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := testSession(practitionerID, nil, now, tt.startTime, db.SessionScheduled)
			sessions := &mockSessionStore{sessions: []*db.Session{sess}}
			users := &mockUserStore{users: map[uuid.UUID]*db.User{
				practitionerID: {ID: practitionerID, Name: "Dr. Rao"},
			}}
			notifs := &mockNotificationStore{existing: make(map[string]bool)}

			s := newTestScheduler(sessions, users, notifs, &mockDispatcher{}, now)
			s.Tick(context.Background())

			if len(notifs.created) != tt.want {
				t.Errorf("expected %d notifications, got %d", tt.want, len(notifs.created))
			}
		})
	}
}

func TestScheduler_SkipsNonScheduledSessions(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	practitionerID := uuid.New()

	sessions := &mockSessionStore{sessions: []*db.Session{
		testSession(practitionerID, nil, now, "10:00", db.SessionInProgress),
		testSession(practitionerID, nil, now, "10:00", db.SessionCompleted),
	}}
	users := &mockUserStore{users: map[uuid.UUID]*db.User{
		practitionerID: {ID: practitionerID, Name: "Dr. Rao"},
	}}
	notifs := &mockNotificationStore{existing: make(map[string]bool)}

	s := newTestScheduler(sessions, users, notifs, &mockDispatcher{}, now)
	s.Tick(context.Background())

	if len(notifs.created) != 0 {
		t.Fatalf("expected no notifications, got %d", len(notifs.created))
	}
}

func TestScheduler_DedupAcrossTicks(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	patientID := uuid.New()
	practitionerID := uuid.New()

	sess := testSession(practitionerID, &patientID, now, "10:00", db.SessionScheduled)
	sessions := &mockSessionStore{sessions: []*db.Session{sess}}
	users := &mockUserStore{users: map[uuid.UUID]*db.User{
		patientID:      {ID: patientID, Name: "Asha"},
		practitionerID: {ID: practitionerID, Name: "Dr. Rao"},
	}}
	notifs := &mockNotificationStore{existing: make(map[string]bool)}
	disp := &mockDispatcher{}

	s := newTestScheduler(sessions, users, notifs, disp, now)

	// The session stays inside the window for multiple ticks; only the
	// first tick may create reminders.
	s.Tick(context.Background())
	s.Tick(context.Background())
	s.Tick(context.Background())

	if len(notifs.created) != 2 {
		t.Fatalf("expected 2 notifications after repeated ticks, got %d", len(notifs.created))
	}
	if len(disp.dispatched) != 2 {
		t.Fatalf("expected 2 dispatches after repeated ticks, got %d", len(disp.dispatched))
	}
}

func TestScheduler_RescheduledSessionGetsFreshReminder(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	practitionerID := uuid.New()

	sess := testSession(practitionerID, nil, now, "09:30", db.SessionScheduled)
	sessions := &mockSessionStore{sessions: []*db.Session{sess}}
	users := &mockUserStore{users: map[uuid.UUID]*db.User{
		practitionerID: {ID: practitionerID, Name: "Dr. Rao"},
	}}
	notifs := &mockNotificationStore{existing: make(map[string]bool)}

	s := newTestScheduler(sessions, users, notifs, &mockDispatcher{}, now)
	s.Tick(context.Background())

	// Same session moved to a later slot still inside the window. The
	// dedup triple includes the start instant, so a new reminder goes out.
	sess.StartTime = "09:55"
	s.Tick(context.Background())

	if len(notifs.created) != 2 {
		t.Fatalf("expected 2 notifications (one per slot), got %d", len(notifs.created))
	}
}

func TestScheduler_RecipientFailuresAreIsolated(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	patientID := uuid.New()
	practitionerID := uuid.New()
	otherPractitioner := uuid.New()

	failing := testSession(practitionerID, &patientID, now, "10:00", db.SessionScheduled)
	healthy := testSession(otherPractitioner, nil, now, "10:15", db.SessionScheduled)

	sessions := &mockSessionStore{sessions: []*db.Session{failing, healthy}}
	users := &mockUserStore{users: map[uuid.UUID]*db.User{
		// patientID intentionally missing so its reminder fails to load.
		practitionerID:    {ID: practitionerID, Name: "Dr. Rao"},
		otherPractitioner: {ID: otherPractitioner, Name: "Dr. Iyer"},
	}}
	notifs := &mockNotificationStore{existing: make(map[string]bool)}
	disp := &mockDispatcher{failFor: map[uuid.UUID]error{
		practitionerID: errors.New("gateway down"),
	}}

	s := newTestScheduler(sessions, users, notifs, disp, now)
	s.Tick(context.Background())

	// The practitioner reminder on the failing session is still created
	// even though its dispatch errors, and the healthy session is
	// completely unaffected.
	if len(notifs.created) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notifs.created))
	}
	if len(disp.dispatched) != 1 {
		t.Fatalf("expected 1 successful dispatch, got %d", len(disp.dispatched))
	}
	if disp.dispatched[0].UserID != otherPractitioner {
		t.Error("wrong recipient dispatched")
	}
}

func TestScheduler_ListErrorAbortsTick(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	sessions := &mockSessionStore{err: errors.New("db down")}
	notifs := &mockNotificationStore{existing: make(map[string]bool)}

	s := newTestScheduler(sessions, &mockUserStore{}, notifs, &mockDispatcher{}, now)
	s.Tick(context.Background())

	if len(notifs.created) != 0 {
		t.Fatalf("expected no notifications on list failure, got %d", len(notifs.created))
	}
}
