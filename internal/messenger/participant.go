package messenger

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vburojevic/heirlock/internal/domain"
)

// ParticipantOptions configures a Participant.
type ParticipantOptions struct {
	ParticipantID string // defaults to a random id
	Interval      time.Duration
	Clock         clock.Clock
	Logger        *zap.Logger
}

// Participant is the cooperating side of the heartbeat protocol, run inside
// or next to the external session. It sends a heartbeat every interval,
// answers probes and announces a voluntary close.
type Participant struct {
	id        string
	sessionID string
	interval  time.Duration
	clock     clock.Clock
	logger    *zap.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// DialParticipant connects to a WSLink at linkURL (ws://host:port/participant)
// and starts heartbeating for sessionID.
func DialParticipant(ctx context.Context, linkURL, sessionID string, opts ParticipantOptions) (*Participant, error) {
	if opts.ParticipantID == "" {
		opts.ParticipantID = uuid.NewString()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultHeartbeatInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	u, err := url.Parse(linkURL)
	if err != nil {
		return nil, fmt.Errorf("invalid link url: %w", err)
	}
	q := u.Query()
	q.Set("participant", opts.ParticipantID)
	q.Set("session", sessionID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to host: %w", err)
	}

	p := &Participant{
		id:        opts.ParticipantID,
		sessionID: sessionID,
		interval:  opts.Interval,
		clock:     opts.Clock,
		logger:    opts.Logger.With(zap.String("participant", opts.ParticipantID), zap.String("session_id", sessionID)),
		conn:      conn,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	if err := p.send(domain.MsgHeartbeat); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send first heartbeat: %w", err)
	}
	go p.heartbeat()
	go p.read()
	return p, nil
}

// ID returns the participant id.
func (p *Participant) ID() string { return p.id }

// Done is closed when the connection to the host is gone.
func (p *Participant) Done() <-chan struct{} { return p.done }

func (p *Participant) send(msgType string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteJSON(domain.Message{
		ID:            uuid.NewString(),
		Type:          msgType,
		SessionID:     p.sessionID,
		ParticipantID: p.id,
		SentAt:        p.clock.Now(),
	})
}

func (p *Participant) heartbeat() {
	ticker := p.clock.Ticker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-p.done:
			return
		case <-ticker.C:
			if err := p.send(domain.MsgHeartbeat); err != nil {
				p.logger.Warn("heartbeat failed", zap.Error(err))
			}
		}
	}
}

func (p *Participant) read() {
	defer close(p.done)
	for {
		var msg domain.Message
		if err := p.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type == domain.MsgProbe {
			if err := p.send(domain.MsgProbeAck); err != nil {
				p.logger.Warn("probe ack failed", zap.Error(err))
			}
		}
	}
}

// Stop halts heartbeats without announcing anything, as a crashed or
// suspended participant would.
func (p *Participant) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Close sends the voluntary closing message and disconnects.
func (p *Participant) Close() error {
	p.Stop()
	err := p.send(domain.MsgClosing)

	p.writeMu.Lock()
	p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	p.writeMu.Unlock()

	select {
	case <-p.done:
	case <-time.After(time.Second):
	}
	p.conn.Close()
	return err
}
