// Package scheduler runs the reminder polling loop. It is written for
// a single running instance; the storage-level dedup constraint keeps
// duplicate reminders out even if a second instance is started by
// mistake, but the polling itself is not coordinated.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ayursutra/scheduler/internal/db"
	"github.com/ayursutra/scheduler/internal/dispatch"
	"github.com/ayursutra/scheduler/internal/metrics"
)

type SessionStore interface {
	ListSessionsBetween(ctx context.Context, from, to time.Time) ([]*db.Session, error)
}

type UserStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*db.User, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *db.Notification) (bool, error)
	NotificationExists(ctx context.Context, userID, sessionID uuid.UUID, scheduledAt time.Time) (bool, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, notif *db.Notification, contact dispatch.Contact) error
}

type Config struct {
	Interval  time.Duration // poll interval
	Lookahead time.Duration // sessions starting within this window get reminders
}

type Scheduler struct {
	sessions      SessionStore
	users         UserStore
	notifications NotificationStore
	dispatcher    Dispatcher
	config        Config
	logger        *zap.Logger
	now           func() time.Time
}

func New(sessions SessionStore, users UserStore, notifications NotificationStore, dispatcher Dispatcher, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Lookahead == 0 {
		cfg.Lookahead = 60 * time.Minute
	}

	return &Scheduler{
		sessions:      sessions,
		users:         users,
		notifications: notifications,
		dispatcher:    dispatcher,
		config:        cfg,
		logger:        logger,
		now:           time.Now,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("reminder scheduler started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("lookahead", s.config.Lookahead),
	)

	// Run once immediately so a restart doesn't skip a full interval.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reminder scheduler stopping")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick scans for sessions starting within the lookahead window and
// creates plus dispatches one reminder per recipient. A panic or error
// on one session never blocks reminders for the others.
func (s *Scheduler) Tick(ctx context.Context) {
	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler tick panicked", zap.Any("panic", r))
			metrics.RecordSchedulerTickError()
		}
		metrics.RecordSchedulerTick(time.Since(start))
	}()

	now := s.now()
	windowEnd := now.Add(s.config.Lookahead)

	// Coarse day-range query; the exact start instant is checked per
	// session because start times live in a separate HH:MM column.
	sessions, err := s.sessions.ListSessionsBetween(ctx, now.AddDate(0, 0, -1), windowEnd.AddDate(0, 0, 1))
	if err != nil {
		s.logger.Error("failed to list upcoming sessions", zap.Error(err))
		metrics.RecordSchedulerTickError()
		return
	}

	for _, sess := range sessions {
		if sess.Status != db.SessionScheduled {
			continue
		}
		startsAt, ok := sess.StartsAt()
		if !ok {
			s.logger.Warn("session has unparseable start time",
				zap.String("session_id", sess.ID.String()),
				zap.String("start_time", sess.StartTime),
			)
			continue
		}
		if startsAt.Before(now) || !startsAt.Before(windowEnd) {
			continue
		}
		s.remindSession(ctx, sess, startsAt)
	}
}

func (s *Scheduler) remindSession(ctx context.Context, sess *db.Session, startsAt time.Time) {
	recipients := make([]uuid.UUID, 0, 2)
	if sess.PatientID != nil {
		recipients = append(recipients, *sess.PatientID)
	}
	recipients = append(recipients, sess.PractitionerID)

	for _, userID := range recipients {
		if err := s.remindUser(ctx, userID, sess, startsAt); err != nil {
			s.logger.Error("failed to remind recipient",
				zap.String("session_id", sess.ID.String()),
				zap.String("user_id", userID.String()),
				zap.Error(err),
			)
		}
	}
}

func (s *Scheduler) remindUser(ctx context.Context, userID uuid.UUID, sess *db.Session, startsAt time.Time) error {
	// Cheap existence check first; the storage unique constraint is
	// what actually closes the race between overlapping ticks.
	exists, err := s.notifications.NotificationExists(ctx, userID, sess.ID, startsAt)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if exists {
		return nil
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load recipient: %w", err)
	}

	sessionID := sess.ID
	notif := &db.Notification{
		ID:          uuid.New(),
		UserID:      userID,
		SessionID:   &sessionID,
		Channel:     db.ChannelInApp,
		Title:       "Therapy Reminder",
		Body:        reminderBody(sess, startsAt),
		ScheduledAt: startsAt,
		Status:      db.StatusPending,
	}

	created, err := s.notifications.CreateNotification(ctx, notif)
	if err != nil {
		return fmt.Errorf("create reminder: %w", err)
	}
	if !created {
		// Another tick got there first.
		return nil
	}
	metrics.RecordNotificationScheduled()

	s.logger.Info("reminder scheduled",
		zap.String("notification_id", notif.ID.String()),
		zap.String("session_id", sess.ID.String()),
		zap.String("user_id", userID.String()),
		zap.Time("session_starts_at", startsAt),
	)

	contact := dispatch.Contact{}
	if user.Email != nil {
		contact.Email = *user.Email
	}
	if user.Phone != nil {
		contact.Phone = *user.Phone
	}

	if err := s.dispatcher.Dispatch(ctx, notif, contact); err != nil {
		// The failure is already recorded on the notification row.
		s.logger.Error("reminder dispatch failed",
			zap.String("notification_id", notif.ID.String()),
			zap.Error(err),
		)
	}
	return nil
}

func reminderBody(sess *db.Session, startsAt time.Time) string {
	name := sess.SessionName
	if name == "" {
		name = sess.TherapyType
	}
	return fmt.Sprintf("Reminder: your %s session is scheduled for %s at %s.",
		name,
		startsAt.Format("Mon, 02 Jan 2006"),
		sess.StartTime,
	)
}
