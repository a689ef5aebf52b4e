package messenger

import (
	"errors"

	"github.com/vburojevic/heirlock/internal/domain"
)

var (
	// ErrUnknownParticipant is returned when probing a participant that is not connected.
	ErrUnknownParticipant = errors.New("unknown participant")
	// ErrNoParticipantLink is returned when no participant link is configured.
	ErrNoParticipantLink = errors.New("no participant link configured")
)

// Handler handles an incoming message.
type Handler func(domain.Message)

// Broadcaster is the capability the orchestrator depends on.
type Broadcaster interface {
	// Broadcast sends msg to every sibling host instance, at most once.
	Broadcast(msg domain.Message) error
	// OnMessage registers h for msgType, replacing any previous handler.
	OnMessage(msgType string, h Handler)
}

// Transport carries messages between sibling host instances.
type Transport interface {
	Start(deliver func(domain.Message)) error
	Send(msg domain.Message) error
	Close() error
}

// ParticipantLink carries messages to and from external participants.
type ParticipantLink interface {
	Start(deliver func(domain.Message)) error
	Send(participantID string, msg domain.Message) error
	Close() error
}
