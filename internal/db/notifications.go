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

const notificationColumns = `
	id, user_id, session_id, channel, title, body, scheduled_at,
	sent_at, status, error_message, provider_message_id,
	provider_response, created_at, updated_at`

// NotificationRepository handles database operations for notifications
type NotificationRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *DB, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.SessionID,
		&n.Channel,
		&n.Title,
		&n.Body,
		&n.ScheduledAt,
		&n.SentAt,
		&n.Status,
		&n.ErrorMessage,
		&n.ProviderMessageID,
		&n.ProviderResponse,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// CreateNotification inserts a reminder row. The unique index on
// (user_id, session_id, scheduled_at) makes the insert race-safe under
// overlapping scheduler ticks: a duplicate returns created=false
// instead of a second row. Ad-hoc notifications (nil session) never
// collide because SQL NULLs compare distinct.
func (r *NotificationRepository) CreateNotification(ctx context.Context, n *Notification) (created bool, err error) {
	query := `
		INSERT INTO notifications (
			id, user_id, session_id, channel, title, body,
			scheduled_at, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, session_id, scheduled_at) DO NOTHING
		RETURNING created_at, updated_at
	`

	err = r.db.Pool().QueryRow(ctx, query,
		n.ID,
		n.UserID,
		n.SessionID,
		n.Channel,
		n.Title,
		n.Body,
		n.ScheduledAt,
		n.Status,
	).Scan(&n.CreatedAt, &n.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}

	r.logger.Info("notification created",
		zap.String("notification_id", n.ID.String()),
		zap.String("user_id", n.UserID.String()),
		zap.String("channel", n.Channel),
	)
	return true, nil
}

// NotificationExists checks the dedup key before the scheduler builds
// a payload. The insert's ON CONFLICT guard remains the backstop.
func (r *NotificationRepository) NotificationExists(ctx context.Context, userID, sessionID uuid.UUID, scheduledAt time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE user_id = $1 AND session_id = $2 AND scheduled_at = $3
		)
	`

	var exists bool
	err := r.db.Pool().QueryRow(ctx, query, userID, sessionID, scheduledAt).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check notification: %w", err)
	}
	return exists, nil
}

// GetNotification retrieves a notification by ID
func (r *NotificationRepository) GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	n, err := scanNotification(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query notification: %w", err)
	}
	return n, nil
}

// GetNotificationByProviderMessageID looks up the notification a
// provider delivery callback refers to
func (r *NotificationRepository) GetNotificationByProviderMessageID(ctx context.Context, providerMessageID string) (*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE provider_message_id = $1`

	n, err := scanNotification(r.db.Pool().QueryRow(ctx, query, providerMessageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query notification by provider id: %w", err)
	}
	return n, nil
}

// ListNotificationsByUser retrieves a user's notifications, newest
// scheduled first
func (r *NotificationRepository) ListNotificationsByUser(ctx context.Context, userID uuid.UUID) ([]*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = $1 ORDER BY scheduled_at DESC`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return notifications, nil
}

// SetNotificationDispatched records a successful delivery attempt:
// chosen channel, sent timestamp and the provider audit fields.
func (r *NotificationRepository) SetNotificationDispatched(ctx context.Context, id uuid.UUID, channel string, sentAt time.Time, providerMessageID, providerResponse *string) error {
	query := `
		UPDATE notifications
		SET status = $1, channel = $2, sent_at = $3,
		    provider_message_id = $4, provider_response = $5,
		    error_message = NULL, updated_at = NOW()
		WHERE id = $6
	`

	result, err := r.db.Pool().Exec(ctx, query, StatusSent, channel, sentAt, providerMessageID, providerResponse, id)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetNotificationFailed records a terminal delivery failure. The row
// stays queryable for manual inspection and resend.
func (r *NotificationRepository) SetNotificationFailed(ctx context.Context, id uuid.UUID, channel, errMsg string) error {
	query := `
		UPDATE notifications
		SET status = $1, channel = $2, error_message = $3, updated_at = NOW()
		WHERE id = $4
	`

	result, err := r.db.Pool().Exec(ctx, query, StatusFailed, channel, errMsg, id)
	if err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDeliveryStatus applies an asynchronous provider callback.
// Repeated callbacks with the same terminal status are harmless.
func (r *NotificationRepository) UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, status string, errMsg *string) error {
	query := `
		UPDATE notifications
		SET status = $1,
		    error_message = COALESCE($2, error_message),
		    sent_at = CASE WHEN $1 = $3 AND sent_at IS NULL THEN NOW() ELSE sent_at END,
		    updated_at = NOW()
		WHERE id = $4
	`

	result, err := r.db.Pool().Exec(ctx, query, status, errMsg, StatusSent, id)
	if err != nil {
		return fmt.Errorf("update delivery status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
