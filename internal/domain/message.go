package domain

import (
	"encoding/json"
	"time"
)

// Message types exchanged between host instances and external participants.
const (
	MsgHeartbeat       = "heartbeat"
	MsgClosing         = "closing"
	MsgProbe           = "probe"
	MsgProbeAck        = "probe-ack"
	MsgSessionOpened   = "session-opened"
	MsgSessionClosed   = "session-closed"
	MsgParticipantLost = "participant-lost" // synthesized locally, never sent
)

// Message is the envelope for every cross-context message.
type Message struct {
	ID            string          `json:"id,omitempty"`
	Type          string          `json:"type"`
	SessionID     string          `json:"session_id,omitempty"`
	ParticipantID string          `json:"participant_id,omitempty"`
	Sender        string          `json:"sender,omitempty"`
	Seq           uint64          `json:"seq,omitempty"`
	SentAt        time.Time       `json:"sent_at,omitzero"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// FromParticipant reports whether the message originates from an external
// participant rather than a sibling host instance.
func (m Message) FromParticipant() bool {
	switch m.Type {
	case MsgHeartbeat, MsgClosing, MsgProbeAck:
		return true
	}
	return false
}
