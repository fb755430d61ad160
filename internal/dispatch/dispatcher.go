package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ayursutra/scheduler/internal/db"
	"github.com/ayursutra/scheduler/internal/metrics"
	"github.com/ayursutra/scheduler/internal/redis"
)

// ErrGatewayNotConfigured is returned when a forced-channel send has
// no gateway able to carry it.
var ErrGatewayNotConfigured = errors.New("delivery gateway not configured")

// NotificationStore is the slice of the notification repository the
// dispatcher mutates.
type NotificationStore interface {
	SetNotificationDispatched(ctx context.Context, id uuid.UUID, channel string, sentAt time.Time, providerMessageID, providerResponse *string) error
	SetNotificationFailed(ctx context.Context, id uuid.UUID, channel, errMsg string) error
	GetNotificationByProviderMessageID(ctx context.Context, providerMessageID string) (*db.Notification, error)
	UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, status string, errMsg *string) error
}

// Config holds dispatcher tuning.
type Config struct {
	// CountryCode is prepended to bare national phone numbers.
	CountryCode string
}

// Dispatcher performs the outbound send for one notification: channel
// selection by recipient contact info, one retry with no backoff, and
// outcome recording. Either gateway may be nil when unconfigured; the
// notification then falls back down the channel priority list.
type Dispatcher struct {
	store   NotificationStore
	mailer  Sender
	gateway Sender
	limiter *redis.RateLimiter
	config  Config
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a dispatcher. limiter may be nil (unlimited).
func New(store NotificationStore, mailer, gateway Sender, limiter *redis.RateLimiter, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.CountryCode == "" {
		cfg.CountryCode = DefaultCountryCode
	}
	return &Dispatcher{
		store:   store,
		mailer:  mailer,
		gateway: gateway,
		limiter: limiter,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// SelectChannel picks the delivery channel for a recipient: email when
// an address and a mailer exist, then WhatsApp, then SMS when a phone
// and the messaging gateway exist, else in-app (no external send).
// Returns the channel and the normalized destination address.
func (d *Dispatcher) SelectChannel(contact Contact) (string, string) {
	if contact.Email != "" && d.mailer != nil && d.mailer.SupportsChannel(db.ChannelEmail) {
		return db.ChannelEmail, contact.Email
	}
	if contact.Phone != "" && d.gateway != nil {
		phone := NormalizePhone(contact.Phone, d.config.CountryCode)
		if d.gateway.SupportsChannel(db.ChannelWhatsApp) {
			return db.ChannelWhatsApp, phone
		}
		if d.gateway.SupportsChannel(db.ChannelSMS) {
			return db.ChannelSMS, phone
		}
	}
	return db.ChannelInApp, ""
}

// Dispatch attempts delivery of one notification. In-app notifications
// have no external transport and stay pending in storage. Delivery
// failures are recorded on the row and returned; callers decide
// whether to surface them.
func (d *Dispatcher) Dispatch(ctx context.Context, notif *db.Notification, contact Contact) error {
	channel, to := d.SelectChannel(contact)
	if channel == db.ChannelInApp {
		d.logger.Debug("no external channel for recipient, notification stays in-app",
			zap.String("notification_id", notif.ID.String()),
		)
		return nil
	}
	return d.send(ctx, notif, channel, to)
}

// DispatchChannel forces a specific channel, used by the admin
// test-send path. ErrGatewayNotConfigured is returned when nothing can
// carry the channel.
func (d *Dispatcher) DispatchChannel(ctx context.Context, notif *db.Notification, contact Contact, channel string) error {
	var to string
	switch channel {
	case db.ChannelEmail:
		to = contact.Email
	case db.ChannelSMS, db.ChannelWhatsApp:
		to = NormalizePhone(contact.Phone, d.config.CountryCode)
	default:
		return fmt.Errorf("unsupported channel: %s", channel)
	}

	if d.senderFor(channel) == nil {
		return fmt.Errorf("%w: %s", ErrGatewayNotConfigured, channel)
	}
	return d.send(ctx, notif, channel, to)
}

func (d *Dispatcher) senderFor(channel string) Sender {
	if d.mailer != nil && d.mailer.SupportsChannel(channel) {
		return d.mailer
	}
	if d.gateway != nil && d.gateway.SupportsChannel(channel) {
		return d.gateway
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, notif *db.Notification, channel, to string) error {
	sender := d.senderFor(channel)
	if sender == nil {
		return fmt.Errorf("%w: %s", ErrGatewayNotConfigured, channel)
	}

	// Explicit outbound rate limit. A closed budget leaves the
	// notification pending; the next tick picks it up again.
	if d.limiter != nil {
		result, err := d.limiter.Allow(ctx, "gateway:"+channel)
		if err != nil {
			d.logger.Warn("gateway rate limit check failed, proceeding", zap.Error(err))
		} else if !result.Allowed {
			d.logger.Info("gateway rate limit reached, deferring send",
				zap.String("notification_id", notif.ID.String()),
				zap.String("channel", channel),
			)
			metrics.RecordDispatchDeferred(channel)
			return nil
		}
	}

	req := SendRequest{
		Channel: channel,
		To:      to,
		Subject: notif.Title,
		Body:    notif.Body,
	}

	receipt, err := sender.Send(ctx, req)
	if err != nil {
		d.logger.Warn("send attempt failed, retrying once",
			zap.Error(err),
			zap.String("notification_id", notif.ID.String()),
			zap.String("channel", channel),
		)
		receipt, err = sender.Send(ctx, req)
	}

	if err != nil {
		errMsg := err.Error()
		if updateErr := d.store.SetNotificationFailed(ctx, notif.ID, channel, errMsg); updateErr != nil {
			d.logger.Error("failed to record delivery failure",
				zap.Error(updateErr),
				zap.String("notification_id", notif.ID.String()),
			)
		}
		notif.Status = db.StatusFailed
		notif.Channel = channel
		notif.ErrorMessage = &errMsg

		metrics.RecordNotificationDispatched(db.StatusFailed, channel)
		return fmt.Errorf("dispatch %s: %w", channel, err)
	}

	sentAt := d.now()
	var providerID, raw *string
	if receipt != nil {
		if receipt.ProviderMessageID != "" {
			providerID = &receipt.ProviderMessageID
		}
		if receipt.RawResponse != "" {
			raw = &receipt.RawResponse
		}
	}

	if err := d.store.SetNotificationDispatched(ctx, notif.ID, channel, sentAt, providerID, raw); err != nil {
		d.logger.Error("failed to record delivery success",
			zap.Error(err),
			zap.String("notification_id", notif.ID.String()),
		)
	}
	notif.Status = db.StatusSent
	notif.Channel = channel
	notif.SentAt = &sentAt
	notif.ProviderMessageID = providerID
	notif.ProviderResponse = raw

	metrics.RecordNotificationDispatched(db.StatusSent, channel)

	d.logger.Info("notification dispatched",
		zap.String("notification_id", notif.ID.String()),
		zap.String("channel", channel),
	)
	return nil
}

// ReconcileProviderStatus applies an asynchronous delivery-status
// callback. Provider vocabulary maps onto the notification statuses:
// delivered/sent mean sent, failed/undelivered mean failed, everything
// else (queued, sending, ...) is an intermediate state and is ignored.
// Unknown message ids are tolerated so the provider does not retry
// forever.
func (d *Dispatcher) ReconcileProviderStatus(ctx context.Context, providerMessageID, providerStatus string, errMsg *string) error {
	status := mapProviderStatus(providerStatus)
	if status == "" {
		d.logger.Debug("ignoring intermediate provider status",
			zap.String("provider_message_id", providerMessageID),
			zap.String("provider_status", providerStatus),
		)
		return nil
	}

	notif, err := d.store.GetNotificationByProviderMessageID(ctx, providerMessageID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			d.logger.Warn("delivery callback for unknown message id",
				zap.String("provider_message_id", providerMessageID),
			)
			return nil
		}
		return fmt.Errorf("lookup notification: %w", err)
	}

	if err := d.store.UpdateDeliveryStatus(ctx, notif.ID, status, errMsg); err != nil {
		return fmt.Errorf("apply delivery status: %w", err)
	}

	metrics.RecordDeliveryCallback(status)

	d.logger.Info("delivery status reconciled",
		zap.String("notification_id", notif.ID.String()),
		zap.String("provider_status", providerStatus),
		zap.String("status", status),
	)
	return nil
}

func mapProviderStatus(providerStatus string) string {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "delivered", "sent":
		return db.StatusSent
	case "failed", "undelivered":
		return db.StatusFailed
	default:
		return ""
	}
}
