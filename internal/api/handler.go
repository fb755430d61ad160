package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ayursutra/scheduler/internal/db"
	"github.com/ayursutra/scheduler/internal/dispatch"
	"github.com/ayursutra/scheduler/internal/metrics"
	"github.com/ayursutra/scheduler/internal/redis"
	"github.com/ayursutra/scheduler/internal/schedule"
	"github.com/ayursutra/scheduler/internal/session"
)

// ScheduleGenerator creates sessions from treatment templates or
// single free slots.
type ScheduleGenerator interface {
	Generate(ctx context.Context, req schedule.GenerateRequest) ([]*db.Session, error)
	CreateSingle(ctx context.Context, req schedule.SingleRequest) (*db.Session, error)
}

// SessionService covers the lifecycle operations on existing sessions.
type SessionService interface {
	List(ctx context.Context, userID uuid.UUID, role string) ([]*db.Session, error)
	Get(ctx context.Context, id uuid.UUID) (*db.Session, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	Reschedule(ctx context.Context, id uuid.UUID, newDate *time.Time, newStart *string) (*db.Session, error)
	UpdateStatus(ctx context.Context, id, actingPractitionerID uuid.UUID, rawStatus string) (*db.Session, error)
	Update(ctx context.Context, id uuid.UUID, d db.SessionDetails) (*db.Session, error)
	Delete(ctx context.Context, id, actorID uuid.UUID, actorRole string) error
}

// NotificationRepository defines the notification database operations
// the handlers need.
type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *db.Notification) (bool, error)
	GetNotification(ctx context.Context, id uuid.UUID) (*db.Notification, error)
	ListNotificationsByUser(ctx context.Context, userID uuid.UUID) ([]*db.Notification, error)
	UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, status string, errMsg *string) error
}

// UserRepository resolves recipients.
type UserRepository interface {
	GetUser(ctx context.Context, id uuid.UUID) (*db.User, error)
	GetUserByEmail(ctx context.Context, email string) (*db.User, error)
}

// Dispatcher delivers notifications and applies provider callbacks.
type Dispatcher interface {
	Dispatch(ctx context.Context, notif *db.Notification, contact dispatch.Contact) error
	DispatchChannel(ctx context.Context, notif *db.Notification, contact dispatch.Contact, channel string) error
	ReconcileProviderStatus(ctx context.Context, providerMessageID, providerStatus string, errMsg *string) error
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger        *zap.Logger
	generator     ScheduleGenerator
	sessions      SessionService
	notifications NotificationRepository
	users         UserRepository
	dispatcher    Dispatcher
	idempotency   *redis.IdempotencyService // nil if Redis not configured
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, generator ScheduleGenerator, sessions SessionService, notifications NotificationRepository, users UserRepository, dispatcher Dispatcher) *Handler {
	return &Handler{
		logger:        logger,
		generator:     generator,
		sessions:      sessions,
		notifications: notifications,
		users:         users,
		dispatcher:    dispatcher,
	}
}

// NewHandlerWithIdempotency creates a handler with idempotency support
func NewHandlerWithIdempotency(logger *zap.Logger, generator ScheduleGenerator, sessions SessionService, notifications NotificationRepository, users UserRepository, dispatcher Dispatcher, idempotency *redis.IdempotencyService) *Handler {
	h := NewHandler(logger, generator, sessions, notifications, users, dispatcher)
	h.idempotency = idempotency
	return h
}

// ListSessions handles GET /v1/sessions?user_id=xxx&role=patient
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userIDStr := r.URL.Query().Get("user_id")
	if userIDStr == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing user_id", "user_id query parameter is required")
		return
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return
	}

	role := r.URL.Query().Get("role")

	sessions, err := h.sessions.List(ctx, userID, role)
	if err != nil {
		h.logger.Error("failed to list sessions",
			zap.Error(err),
			zap.String("user_id", userIDStr),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list sessions", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  sessions,
		"count": len(sessions),
	})
}

// CreateScheduleRequest represents the schedule generation request body
type CreateScheduleRequest struct {
	PatientID      string   `json:"patient_id"`
	PractitionerID string   `json:"practitioner_id,omitempty"`
	TherapyType    string   `json:"therapy_type"`
	StartDate      string   `json:"start_date"`
	SlotTimes      []string `json:"slot_times,omitempty"`
}

// CreateSessions handles POST /v1/sessions. It generates the full
// session plan for a treatment template.
func (h *Handler) CreateSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.PatientID == "" || req.TherapyType == "" || req.StartDate == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "patient_id, therapy_type, and start_date are required")
		return
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid patient_id", "patient_id must be a valid UUID")
		return
	}

	startDate, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid start_date", "start_date must be YYYY-MM-DD")
		return
	}

	genReq := schedule.GenerateRequest{
		PatientID:   patientID,
		TherapyType: req.TherapyType,
		StartDate:   startDate,
		SlotTimes:   req.SlotTimes,
	}

	if req.PractitionerID != "" {
		practitionerID, err := uuid.Parse(req.PractitionerID)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid practitioner_id", "practitioner_id must be a valid UUID")
			return
		}
		genReq.PractitionerID = &practitionerID
	}

	sessions, err := h.generator.Generate(ctx, genReq)
	if err != nil {
		h.writeScheduleError(w, err)
		return
	}
	metrics.RecordSessionsCreated(req.TherapyType, len(sessions))

	h.logger.Info("schedule created",
		zap.String("patient_id", req.PatientID),
		zap.String("therapy_type", req.TherapyType),
		zap.Int("sessions", len(sessions)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  sessions,
		"count": len(sessions),
	})
}

// CreateSlotRequest represents a single free-slot booking
type CreateSlotRequest struct {
	PatientID      string `json:"patient_id"`
	PractitionerID string `json:"practitioner_id,omitempty"`
	Date           string `json:"date"`
	StartTime      string `json:"start_time"`
	DurationMins   int    `json:"duration_minutes,omitempty"`
	TherapyType    string `json:"therapy_type"`
	SessionName    string `json:"session_name,omitempty"`
}

// CreateSlot handles POST /v1/sessions/slot
func (h *Handler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.PatientID == "" || req.Date == "" || req.StartTime == "" || req.TherapyType == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "patient_id, date, start_time, and therapy_type are required")
		return
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid patient_id", "patient_id must be a valid UUID")
		return
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid date", "date must be YYYY-MM-DD")
		return
	}

	singleReq := schedule.SingleRequest{
		PatientID:    patientID,
		Date:         date,
		StartTime:    req.StartTime,
		DurationMins: req.DurationMins,
		TherapyType:  req.TherapyType,
		SessionName:  req.SessionName,
	}

	if req.PractitionerID != "" {
		practitionerID, err := uuid.Parse(req.PractitionerID)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid practitioner_id", "practitioner_id must be a valid UUID")
			return
		}
		singleReq.PractitionerID = &practitionerID
	}

	sess, err := h.generator.CreateSingle(ctx, singleReq)
	if err != nil {
		h.writeScheduleError(w, err)
		return
	}
	metrics.RecordSessionsCreated(req.TherapyType, 1)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(sess)
}

// UpdateSessionRequest covers reschedule, cancel, and annotation in a
// single PUT body. All fields are optional; set fields are applied.
type UpdateSessionRequest struct {
	Status          *string `json:"status,omitempty"`
	SessionDate     *string `json:"session_date,omitempty"`
	StartTime       *string `json:"start_time,omitempty"`
	Notes           *string `json:"notes,omitempty"`
	SessionNotes    *string `json:"session_notes,omitempty"`
	ProgressNotes   *string `json:"progress_notes,omitempty"`
	Recommendations *string `json:"recommendations,omitempty"`
	SessionName     *string `json:"session_name,omitempty"`
}

// UpdateSession handles PUT /v1/sessions/{id}
func (h *Handler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID, ok := h.parseID(w, r, "session")
	if !ok {
		return
	}

	var req UpdateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.Status != nil {
		if strings.ToLower(strings.TrimSpace(*req.Status)) != db.SessionCancelled {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid status",
				"only cancellation is allowed here; use the status endpoint for other transitions")
			return
		}
		if err := h.sessions.Cancel(ctx, sessionID); err != nil {
			h.writeSessionError(w, err)
			return
		}
	}

	if req.SessionDate != nil || req.StartTime != nil {
		var newDate *time.Time
		if req.SessionDate != nil {
			d, err := time.Parse("2006-01-02", *req.SessionDate)
			if err != nil {
				h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid session_date", "session_date must be YYYY-MM-DD")
				return
			}
			newDate = &d
		}
		if _, err := h.sessions.Reschedule(ctx, sessionID, newDate, req.StartTime); err != nil {
			h.writeSessionError(w, err)
			return
		}
	}

	if req.Notes != nil || req.SessionNotes != nil || req.ProgressNotes != nil || req.Recommendations != nil || req.SessionName != nil {
		details := db.SessionDetails{
			Notes:           req.Notes,
			SessionNotes:    req.SessionNotes,
			ProgressNotes:   req.ProgressNotes,
			Recommendations: req.Recommendations,
			SessionName:     req.SessionName,
		}
		if _, err := h.sessions.Update(ctx, sessionID, details); err != nil {
			h.writeSessionError(w, err)
			return
		}
	}

	sess, err := h.sessions.Get(ctx, sessionID)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(sess)
}

// UpdateSessionStatus handles PUT /v1/sessions/{id}/status. The acting
// practitioner comes from the X-Practitioner-ID header.
func (h *Handler) UpdateSessionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID, ok := h.parseID(w, r, "session")
	if !ok {
		return
	}

	practitionerIDStr := r.Header.Get("X-Practitioner-ID")
	if practitionerIDStr == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing practitioner", "X-Practitioner-ID header is required")
		return
	}
	practitionerID, err := uuid.Parse(practitionerIDStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid practitioner", "X-Practitioner-ID must be a valid UUID")
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.Status == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing status", "status is required")
		return
	}

	sess, err := h.sessions.UpdateStatus(ctx, sessionID, practitionerID, req.Status)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}

	h.logger.Info("session status updated",
		zap.String("session_id", sessionID.String()),
		zap.String("status", sess.Status),
		zap.String("practitioner_id", practitionerIDStr),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(sess)
}

// DeleteSession handles DELETE /v1/sessions/delete/{id}?user_id=xxx&user_type=patient
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID, ok := h.parseID(w, r, "session")
	if !ok {
		return
	}

	userIDStr := r.URL.Query().Get("user_id")
	if userIDStr == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing user_id", "user_id query parameter is required")
		return
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return
	}

	userType := r.URL.Query().Get("user_type")

	if err := h.sessions.Delete(ctx, sessionID, userID, userType); err != nil {
		h.writeSessionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":     sessionID.String(),
		"status": "deleted",
	})
}

// NotificationRequest represents the manual notification request body
type NotificationRequest struct {
	UserEmail   string `json:"user_email"`
	SessionID   string `json:"session_id,omitempty"`
	Channel     string `json:"channel"`
	ScheduledAt string `json:"scheduled_at,omitempty"`
	Payload     struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	} `json:"payload"`
}

var validChannels = map[string]bool{
	db.ChannelInApp:    true,
	db.ChannelEmail:    true,
	db.ChannelSMS:      true,
	db.ChannelWhatsApp: true,
}

// CreateNotification handles POST /v1/notifications.
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idempotencyKey := r.Header.Get("Idempotency-Key")

	var req NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.UserEmail == "" || req.Channel == "" || req.Payload.Title == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "user_email, channel, and payload.title are required")
		return
	}

	if !validChannels[req.Channel] {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel", "channel must be in_app, email, sms, or whatsapp")
		return
	}

	user, err := h.users.GetUserByEmail(ctx, req.UserEmail)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "User not found", "")
			return
		}
		h.logger.Error("failed to resolve user", zap.Error(err), zap.String("email", req.UserEmail))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to resolve user", "")
		return
	}

	var sessionID *uuid.UUID
	if req.SessionID != "" {
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid session_id", "session_id must be a valid UUID")
			return
		}
		sessionID = &id
	}

	scheduledAt := time.Now()
	if req.ScheduledAt != "" {
		t, err := time.Parse(time.RFC3339, req.ScheduledAt)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid scheduled_at", "scheduled_at must be RFC 3339")
			return
		}
		scheduledAt = t
	}

	// Check idempotency if key provided
	if idempotencyKey != "" && h.idempotency != nil {
		cachedResult, err := h.idempotency.CheckOrReserve(ctx, user.ID.String(), idempotencyKey)
		if err != nil {
			if errors.Is(err, redis.ErrDuplicateRequest) {
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another request with this idempotency key is in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		} else if cachedResult != nil {
			metrics.RecordIdempotencyHit()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cachedResult.StatusCode)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": cachedResult.NotificationID})
			return
		}
	}

	notif := &db.Notification{
		ID:          uuid.New(),
		UserID:      user.ID,
		SessionID:   sessionID,
		Channel:     req.Channel,
		Title:       req.Payload.Title,
		Body:        req.Payload.Body,
		ScheduledAt: scheduledAt,
		Status:      db.StatusPending,
	}

	created, err := h.notifications.CreateNotification(ctx, notif)
	if err != nil {
		h.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("user_email", req.UserEmail),
			zap.String("channel", req.Channel),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create notification", "")
		return
	}
	if !created {
		h.writeError(w, http.StatusConflict, "duplicate_notification",
			"Notification already exists",
			"A notification for this user, session, and time already exists")
		return
	}

	h.logger.Info("notification created",
		zap.String("id", notif.ID.String()),
		zap.String("user_id", user.ID.String()),
		zap.String("channel", req.Channel),
	)

	// Store idempotency result
	if idempotencyKey != "" && h.idempotency != nil {
		result := &redis.IdempotencyResult{
			NotificationID: notif.ID.String(),
			StatusCode:     http.StatusCreated,
		}
		if err := h.idempotency.Store(ctx, user.ID.String(), idempotencyKey, result, redis.IdempotencyTTL); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	// Delivery failures are recorded on the row; the notification
	// itself was created, so the client still gets a 201.
	contact := contactFor(user)
	if err := h.dispatcher.Dispatch(ctx, notif, contact); err != nil {
		h.logger.Error("notification dispatch failed",
			zap.Error(err),
			zap.String("notification_id", notif.ID.String()),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(notif)
}

// ListNotifications handles GET /v1/notifications?user_email=xxx
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	email := r.URL.Query().Get("user_email")
	if email == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing user_email", "user_email query parameter is required")
		return
	}

	user, err := h.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "User not found", "")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to resolve user", "")
		return
	}

	notifications, err := h.notifications.ListNotificationsByUser(ctx, user.ID)
	if err != nil {
		h.logger.Error("failed to list notifications",
			zap.Error(err),
			zap.String("user_id", user.ID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list notifications", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  notifications,
		"count": len(notifications),
	})
}

// MarkNotificationSent handles POST /v1/notifications/{id}/mark-sent.
// In-app notifications have no provider callback, so the client
// acknowledges them explicitly.
func (h *Handler) MarkNotificationSent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	notifID, ok := h.parseID(w, r, "notification")
	if !ok {
		return
	}

	if err := h.notifications.UpdateDeliveryStatus(ctx, notifID, db.StatusSent, nil); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
			return
		}
		h.logger.Error("failed to mark notification sent",
			zap.Error(err),
			zap.String("id", notifID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to update notification", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":     notifID.String(),
		"status": db.StatusSent,
	})
}

// SendTestWhatsApp handles POST /v1/admin/send-test-whatsapp
func (h *Handler) SendTestWhatsApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Email   string `json:"email"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.Email == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing email", "email is required")
		return
	}

	user, err := h.users.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "User not found", "")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to resolve user", "")
		return
	}

	message := req.Message
	if message == "" {
		message = "AyurSutra test message"
	}

	notif := &db.Notification{
		ID:          uuid.New(),
		UserID:      user.ID,
		Channel:     db.ChannelWhatsApp,
		Title:       "Test Message",
		Body:        message,
		ScheduledAt: time.Now(),
		Status:      db.StatusPending,
	}

	if _, err := h.notifications.CreateNotification(ctx, notif); err != nil {
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create notification", "")
		return
	}

	if err := h.dispatcher.DispatchChannel(ctx, notif, contactFor(user), db.ChannelWhatsApp); err != nil {
		if errors.Is(err, dispatch.ErrGatewayNotConfigured) {
			h.writeError(w, http.StatusInternalServerError, "gateway_not_configured",
				"WhatsApp gateway is not configured",
				"Set the Twilio credentials and WhatsApp sender number")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "delivery_error", "Failed to send test message", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"notification_id": notif.ID.String(),
		"status":          "sent",
	})
}

// TwilioStatus handles POST /v1/admin/twilio-status. Twilio posts
// form-encoded callbacks; JSON is accepted for manual testing. The
// response is 200 for everything except a missing MessageSid so the
// provider does not retry callbacks we will never be able to apply.
func (h *Handler) TwilioStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var messageSid, messageStatus string
	var errorMessage *string

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req struct {
			MessageSid    string  `json:"MessageSid"`
			MessageStatus string  `json:"MessageStatus"`
			ErrorMessage  *string `json:"ErrorMessage,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
			return
		}
		messageSid = req.MessageSid
		messageStatus = req.MessageStatus
		errorMessage = req.ErrorMessage
	} else {
		if err := r.ParseForm(); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed form body", err.Error())
			return
		}
		messageSid = r.PostFormValue("MessageSid")
		messageStatus = r.PostFormValue("MessageStatus")
		if msg := r.PostFormValue("ErrorMessage"); msg != "" {
			errorMessage = &msg
		}
	}

	if messageSid == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing MessageSid", "MessageSid is required")
		return
	}

	if err := h.dispatcher.ReconcileProviderStatus(ctx, messageSid, messageStatus, errorMessage); err != nil {
		h.logger.Warn("failed to apply provider status callback",
			zap.Error(err),
			zap.String("message_sid", messageSid),
			zap.String("message_status", messageStatus),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "received"})
}

func contactFor(user *db.User) dispatch.Contact {
	var c dispatch.Contact
	if user.Email != nil {
		c.Email = *user.Email
	}
	if user.Phone != nil {
		c.Phone = *user.Phone
	}
	return c
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid "+what+" ID", "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeScheduleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schedule.ErrPatientNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Patient not found", "")
	case errors.Is(err, schedule.ErrUnknownTherapy):
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Unknown therapy type", err.Error())
	case errors.Is(err, schedule.ErrInvalidTime):
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid start time", err.Error())
	case errors.Is(err, schedule.ErrSlotConflict):
		metrics.RecordScheduleConflict()
		h.writeError(w, http.StatusBadRequest, "slot_conflict", "Slot already booked", err.Error())
	default:
		h.logger.Error("schedule operation failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to create schedule", "")
	}
}

func (h *Handler) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Session not found", "")
	case errors.Is(err, session.ErrUnauthorized):
		h.writeError(w, http.StatusForbidden, "forbidden", "Not authorized for this session", "")
	case errors.Is(err, session.ErrInvalidStatus):
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid status", err.Error())
	case errors.Is(err, session.ErrInvalidTransition):
		h.writeError(w, http.StatusBadRequest, "invalid_transition", "Status transition not allowed", err.Error())
	case errors.Is(err, session.ErrInvalidTime):
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid start time", err.Error())
	case errors.Is(err, session.ErrPastDate):
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Date is in the past", err.Error())
	case errors.Is(err, session.ErrSlotConflict):
		metrics.RecordScheduleConflict()
		h.writeError(w, http.StatusBadRequest, "slot_conflict", "Slot already booked", err.Error())
	default:
		h.logger.Error("session operation failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Session operation failed", "")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
