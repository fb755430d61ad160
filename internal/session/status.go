package session

import (
	"strings"

	"github.com/ayursutra/scheduler/internal/db"
)

// Status is a session lifecycle state. The set is closed: anything the
// API carries is parsed into one of these four values or rejected.
type Status string

const (
	StatusScheduled  Status = db.SessionScheduled
	StatusInProgress Status = db.SessionInProgress
	StatusCompleted  Status = db.SessionCompleted
	StatusCancelled  Status = db.SessionCancelled
)

// ParseStatus normalizes raw API input (lowercase, trimmed, hyphen
// variants collapsed) and maps it onto the closed status set.
func ParseStatus(raw string) (Status, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "-", "_")
	switch Status(s) {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled:
		return Status(s), true
	}
	return "", false
}

// transitions is the explicit state machine. Completed and cancelled
// are terminal; cancellation is reachable from any live state.
var transitions = map[Status][]Status{
	StatusScheduled:  {StatusInProgress, StatusCompleted, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

// AllowedNextStates returns the states reachable from current.
func AllowedNextStates(current Status) []Status {
	return transitions[current]
}

// CanTransition reports whether current may move to next. Cancelling an
// already-cancelled session is accepted as an idempotent no-op.
func CanTransition(current, next Status) bool {
	if current == StatusCancelled && next == StatusCancelled {
		return true
	}
	for _, s := range transitions[current] {
		if s == next {
			return true
		}
	}
	return false
}
