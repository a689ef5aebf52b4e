package messenger

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vburojevic/heirlock/internal/domain"
)

// ParticipantPath is where WSLink accepts participant connections.
const ParticipantPath = "/participant"

const writeTimeout = 5 * time.Second

// WSLink accepts websocket connections from cooperating participants.
// Participants identify themselves with the participant and session query
// parameters and then send JSON messages.
type WSLink struct {
	mu       sync.Mutex
	upgrader websocket.Upgrader
	conns    map[string]*wsConn
	deliver  func(domain.Message)
	logger   *zap.Logger
	server   *http.Server
}

type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) write(msg domain.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(msg)
}

var _ ParticipantLink = (*WSLink)(nil)

// NewWSLink creates a link. The external page is served from another origin,
// so every origin is accepted.
func NewWSLink(logger *zap.Logger) *WSLink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSLink{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns:  make(map[string]*wsConn),
		logger: logger.With(zap.String("component", "ws-link")),
	}
}

// Start sets the delivery function.
func (l *WSLink) Start(deliver func(domain.Message)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deliver = deliver
	return nil
}

// ServeHTTP upgrades a participant connection and reads its messages until it
// disconnects.
func (l *WSLink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	participantID := r.URL.Query().Get("participant")
	sessionID := r.URL.Query().Get("session")
	if participantID == "" {
		http.Error(w, "participant is required", http.StatusBadRequest)
		return
	}

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	c := &wsConn{conn: conn}

	l.mu.Lock()
	if old, ok := l.conns[participantID]; ok {
		old.conn.Close()
	}
	l.conns[participantID] = c
	l.mu.Unlock()
	l.logger.Debug("participant connected", zap.String("participant", participantID), zap.String("session_id", sessionID))

	defer func() {
		l.mu.Lock()
		if l.conns[participantID] == c {
			delete(l.conns, participantID)
		}
		l.mu.Unlock()
		conn.Close()
	}()

	for {
		var msg domain.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.logger.Debug("participant read ended", zap.String("participant", participantID), zap.Error(err))
			}
			return
		}
		// the connection identity wins over whatever the payload claims
		msg.ParticipantID = participantID
		if msg.SessionID == "" {
			msg.SessionID = sessionID
		}
		msg.Sender = ""

		l.mu.Lock()
		deliver := l.deliver
		l.mu.Unlock()
		if deliver != nil {
			deliver(msg)
		}
	}
}

// Send writes msg to a connected participant.
func (l *WSLink) Send(participantID string, msg domain.Message) error {
	l.mu.Lock()
	c, ok := l.conns[participantID]
	l.mu.Unlock()
	if !ok {
		return ErrUnknownParticipant
	}
	return c.write(msg)
}

// Connected returns the number of connected participants.
func (l *WSLink) Connected() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// Serve listens on addr until ctx is cancelled.
func (l *WSLink) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle(ParticipantPath, l)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	l.mu.Lock()
	l.server = srv
	l.mu.Unlock()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close drops every participant connection and stops the server if running.
func (l *WSLink) Close() error {
	l.mu.Lock()
	conns := l.conns
	l.conns = make(map[string]*wsConn)
	srv := l.server
	l.server = nil
	l.mu.Unlock()

	for _, c := range conns {
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "host closing"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.conn.Close()
	}
	if srv != nil {
		return srv.Close()
	}
	return nil
}
