package db

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

var startTimeRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// ValidStartTime reports whether s is a strict 24-hour HH:MM value,
// the only shape the sessions table stores.
func ValidStartTime(s string) bool {
	return startTimeRe.MatchString(s)
}

// Session status constants
const (
	SessionScheduled  = "scheduled"
	SessionInProgress = "in_progress"
	SessionCompleted  = "completed"
	SessionCancelled  = "cancelled"
)

// Session phase constants
const (
	PhasePre    = "pre"
	PhaseMain   = "main"
	PhasePost   = "post"
	PhaseCustom = "custom"
)

// Notification status constants
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Channel constants
const (
	ChannelInApp    = "in_app"
	ChannelEmail    = "email"
	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
)

// User role constants
const (
	RolePatient      = "patient"
	RolePractitioner = "practitioner"
)

// Session represents one scheduled therapy appointment.
// SessionDate carries the calendar day; StartTime is a naive local
// "HH:MM" string, matching how slots are booked at the front desk.
type Session struct {
	ID              uuid.UUID  `json:"id"`
	PractitionerID  uuid.UUID  `json:"practitioner_id"`
	PatientID       *uuid.UUID `json:"patient_id,omitempty"`
	SessionDate     time.Time  `json:"session_date"`
	StartTime       string     `json:"start_time"`
	DurationMinutes int        `json:"duration_minutes"`
	TherapyType     string     `json:"therapy_type"`
	Phase           string     `json:"phase"`
	SessionName     string     `json:"session_name"`
	Status          string     `json:"status"`
	Notes           string     `json:"notes"`
	SessionNotes    string     `json:"session_notes"`
	ProgressNotes   string     `json:"progress_notes"`
	Recommendations string     `json:"recommendations"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// StartsAt reconstructs the exact instant a session begins from its
// day-granularity date and the HH:MM start time. Returns false when
// either piece is missing or malformed.
func (s *Session) StartsAt() (time.Time, bool) {
	if s.SessionDate.IsZero() || s.StartTime == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("15:04", s.StartTime)
	if err != nil {
		return time.Time{}, false
	}
	d := s.SessionDate
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), 0, 0, d.Location()), true
}

// Notification is one reminder instance for one recipient. The
// (UserID, SessionID, ScheduledAt) triple is unique for session-bound
// reminders; rows are never deleted so delivery history stays auditable.
type Notification struct {
	ID                uuid.UUID  `json:"id"`
	UserID            uuid.UUID  `json:"user_id"`
	SessionID         *uuid.UUID `json:"session_id,omitempty"`
	Channel           string     `json:"channel"`
	Title             string     `json:"title"`
	Body              string     `json:"body"`
	ScheduledAt       time.Time  `json:"scheduled_at"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	Status            string     `json:"status"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
	ProviderMessageID *string    `json:"provider_message_id,omitempty"`
	ProviderResponse  *string    `json:"provider_response,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// User is the slice of the identity directory this service consumes:
// contact info for delivery, the assigned practitioner for
// authorization, and the derived progress percentage.
type User struct {
	ID                     uuid.UUID  `json:"id"`
	Name                   string     `json:"name"`
	Email                  *string    `json:"email,omitempty"`
	Phone                  *string    `json:"phone,omitempty"`
	Role                   string     `json:"role"`
	AssignedPractitionerID *uuid.UUID `json:"assigned_practitioner_id,omitempty"`
	Progress               int        `json:"progress"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}
