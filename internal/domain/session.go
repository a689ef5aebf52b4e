package domain

import "time"

// SessionStatus is the lifecycle status of the external session.
type SessionStatus string

const (
	StatusIdle      SessionStatus = "idle"
	StatusOpening   SessionStatus = "opening"
	StatusOpen      SessionStatus = "open"
	StatusRecovered SessionStatus = "recovered" // restored from a persisted hint after a host restart
	StatusClosed    SessionStatus = "closed"
	StatusError     SessionStatus = "error"
)

// Active reports whether the status counts as an open session for locking and
// for the single-active-session rule.
func (s SessionStatus) Active() bool {
	return s == StatusOpen || s == StatusRecovered
}

// Busy reports whether a new open request must be rejected.
func (s SessionStatus) Busy() bool {
	return s == StatusOpening || s.Active()
}

// SessionState is the single per-instance view of the external session.
type SessionState struct {
	Status          SessionStatus `json:"status"`
	SessionID       string        `json:"session_id,omitempty"`
	TransactionID   string        `json:"transaction_id,omitempty"`
	ResourceLocator string        `json:"resource_locator,omitempty"`
	OpenedAt        time.Time     `json:"opened_at,omitzero"`
	ClosedAt        time.Time     `json:"closed_at,omitzero"`
	LastError       string        `json:"last_error,omitempty"`
}

// SessionOpened is emitted when an external session becomes open or is recovered.
type SessionOpened struct {
	Type            string `json:"type"`          // "session_opened"
	SchemaVersion   int    `json:"schemaVersion"` // 1
	Alert           string `json:"alert,omitempty"`
	SessionID       string `json:"session_id"`
	TransactionID   string `json:"transaction_id,omitempty"`
	ResourceLocator string `json:"resource_locator"`
	Timestamp       string `json:"timestamp"`
}

// SessionClosed is emitted once per session when the close path has run.
type SessionClosed struct {
	Type            string  `json:"type"`          // "session_closed"
	SchemaVersion   int     `json:"schemaVersion"` // 1
	SessionID       string  `json:"session_id"`
	Source          string  `json:"source"`
	DurationSeconds float64 `json:"duration_seconds"`
	Timestamp       string  `json:"timestamp"`
}

// NewSessionOpened creates a SessionOpened event. Recovered sessions carry the
// SESSION_RECOVERED alert.
func NewSessionOpened(st SessionState, now time.Time) *SessionOpened {
	ev := &SessionOpened{
		Type:            "session_opened",
		SchemaVersion:   1,
		SessionID:       st.SessionID,
		TransactionID:   st.TransactionID,
		ResourceLocator: st.ResourceLocator,
		Timestamp:       now.UTC().Format(time.RFC3339),
	}
	if st.Status == StatusRecovered {
		ev.Alert = "SESSION_RECOVERED"
	}
	return ev
}

// NewSessionClosed creates a SessionClosed event
func NewSessionClosed(sessionID string, source EvidenceSource, openedAt, now time.Time) *SessionClosed {
	dur := 0.0
	if !openedAt.IsZero() {
		dur = now.Sub(openedAt).Seconds()
	}
	return &SessionClosed{
		Type:            "session_closed",
		SchemaVersion:   1,
		SessionID:       sessionID,
		Source:          string(source),
		DurationSeconds: dur,
		Timestamp:       now.UTC().Format(time.RFC3339),
	}
}
