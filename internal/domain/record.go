package domain

import "time"

// SessionRecord is the persisted reload-recovery hint. It is never
// authoritative: after a restart nothing can confirm the session still exists.
type SessionRecord struct {
	SessionID       string    `json:"sessionId"`
	TransactionID   string    `json:"transactionId,omitempty"`
	ResourceLocator string    `json:"resourceLocator"`
	CreatedAt       time.Time `json:"createdAt"`
	Confirmed       bool      `json:"confirmed"`
}

// Age returns how old the record is at now.
func (r SessionRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// HeartbeatRecord tracks the last liveness signal of a cooperating participant.
type HeartbeatRecord struct {
	ParticipantID string    `json:"participant_id"`
	SessionID     string    `json:"session_id,omitempty"`
	LastSeenAt    time.Time `json:"last_seen_at"`
}
