package messenger

import (
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/vburojevic/heirlock/internal/domain"
	"github.com/vburojevic/heirlock/internal/filter"
)

// Defaults for the heartbeat protocol.
const (
	DefaultHeartbeatInterval = 2 * time.Second
	DefaultHeartbeatTimeout  = 5 * time.Second
	DefaultSweepInterval     = 3 * time.Second
	DefaultDedupeWindow      = 30 * time.Second
)

// Options configures a Messenger.
type Options struct {
	Clock      clock.Clock
	Logger     *zap.Logger
	InstanceID string // defaults to a random id

	Transport Transport       // sibling instances; nil disables broadcast
	Link      ParticipantLink // external participants; nil disables probes

	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration
	DedupeWindow     time.Duration
}

type beat struct {
	record domain.HeartbeatRecord
	sentAt time.Time // newest SentAt seen from the participant
	timer  *clock.Timer
}

// Messenger implements Broadcaster and tracks participant heartbeats.
type Messenger struct {
	mu     sync.Mutex
	clock  clock.Clock
	logger *zap.Logger
	id     string
	seq    uint64

	transport Transport
	link      ParticipantLink
	dedupe    *filter.DedupeFilter

	timeout time.Duration
	sweep   time.Duration

	handlers map[string]Handler
	beats    map[string]*beat

	ticker  *clock.Ticker
	stop    chan struct{}
	started bool
	closed  bool
}

var _ Broadcaster = (*Messenger)(nil)

// New creates a messenger. Call Start to begin receiving.
func New(opts Options) *Messenger {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.DedupeWindow <= 0 {
		opts.DedupeWindow = DefaultDedupeWindow
	}
	return &Messenger{
		clock:     opts.Clock,
		logger:    opts.Logger.With(zap.String("component", "messenger"), zap.String("instance", opts.InstanceID)),
		id:        opts.InstanceID,
		transport: opts.Transport,
		link:      opts.Link,
		dedupe:    filter.NewDedupeFilter(opts.Clock, opts.DedupeWindow),
		timeout:   opts.HeartbeatTimeout,
		sweep:     opts.SweepInterval,
		handlers:  make(map[string]Handler),
		beats:     make(map[string]*beat),
	}
}

// ID returns the instance id stamped on outgoing messages.
func (m *Messenger) ID() string { return m.id }

// Start starts the transports and the heartbeat sweep.
func (m *Messenger) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.ticker = m.clock.Ticker(m.sweep)
	m.stop = make(chan struct{})
	ticker, stop := m.ticker, m.stop
	m.mu.Unlock()

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()

	if m.transport != nil {
		if err := m.transport.Start(m.Deliver); err != nil {
			return err
		}
	}
	if m.link != nil {
		if err := m.link.Start(m.Deliver); err != nil {
			return err
		}
	}
	return nil
}

// OnMessage registers h for msgType. A later registration replaces the earlier one.
func (m *Messenger) OnMessage(msgType string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h == nil {
		delete(m.handlers, msgType)
		return
	}
	m.handlers[msgType] = h
}

// Broadcast stamps msg and hands it to the sibling transport. Failures are
// logged and returned; nothing is retried.
func (m *Messenger) Broadcast(msg domain.Message) error {
	m.mu.Lock()
	if m.closed || m.transport == nil {
		m.mu.Unlock()
		m.logger.Debug("broadcast skipped", zap.String("type", msg.Type))
		return nil
	}
	m.seq++
	msg.Seq = m.seq
	msg.Sender = m.id
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = m.clock.Now()
	}
	transport := m.transport
	m.mu.Unlock()

	if err := transport.Send(msg); err != nil {
		m.logger.Warn("broadcast failed", zap.String("type", msg.Type), zap.Error(err))
		return err
	}
	return nil
}

// SendHeartbeatProbe asks a participant to acknowledge liveness.
func (m *Messenger) SendHeartbeatProbe(participantID string) error {
	m.mu.Lock()
	link := m.link
	sessionID := ""
	if b, ok := m.beats[participantID]; ok {
		sessionID = b.record.SessionID
	}
	m.mu.Unlock()

	if link == nil {
		return ErrNoParticipantLink
	}
	return link.Send(participantID, domain.Message{
		ID:            uuid.NewString(),
		Type:          domain.MsgProbe,
		SessionID:     sessionID,
		ParticipantID: participantID,
		Sender:        m.id,
		SentAt:        m.clock.Now(),
	})
}

// Deliver is the single ingress for every transport. It drops duplicates and
// our own echoes, updates heartbeat bookkeeping, then runs the handler.
func (m *Messenger) Deliver(msg domain.Message) {
	if msg.Sender == m.id && !msg.FromParticipant() {
		return
	}
	if res := m.dedupe.Check(msg.ID); !res.Deliver {
		m.logger.Debug("duplicate message dropped", zap.String("id", msg.ID), zap.Int("count", res.Count))
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	switch msg.Type {
	case domain.MsgHeartbeat, domain.MsgProbeAck:
		if msg.ParticipantID != "" {
			m.touchLocked(msg)
		}
	case domain.MsgClosing:
		m.forgetLocked(msg.ParticipantID)
	}
	h := m.handlers[msg.Type]
	m.mu.Unlock()

	m.dispatch(h, msg)
}

func (m *Messenger) touchLocked(msg domain.Message) {
	now := m.clock.Now()
	b, ok := m.beats[msg.ParticipantID]
	if !ok {
		b = &beat{}
		m.beats[msg.ParticipantID] = b
		m.logger.Debug("participant cooperating", zap.String("participant", msg.ParticipantID))
	}
	if !msg.SentAt.IsZero() {
		if msg.SentAt.Before(b.sentAt) {
			m.logger.Debug("out-of-order heartbeat ignored",
				zap.String("participant", msg.ParticipantID),
				zap.Time("sent_at", msg.SentAt),
				zap.Time("newest", b.sentAt))
			return
		}
		b.sentAt = msg.SentAt
	}
	b.record = domain.HeartbeatRecord{
		ParticipantID: msg.ParticipantID,
		SessionID:     lo.Ternary(msg.SessionID != "", msg.SessionID, b.record.SessionID),
		LastSeenAt:    now,
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	pid := msg.ParticipantID
	b.timer = m.clock.AfterFunc(m.timeout, func() { m.expire(pid) })
}

func (m *Messenger) forgetLocked(participantID string) {
	if b, ok := m.beats[participantID]; ok {
		if b.timer != nil {
			b.timer.Stop()
		}
		delete(m.beats, participantID)
	}
}

// expire is the per-participant staleness timer; Sweep is the backstop for
// timers that did not fire.
func (m *Messenger) expire(participantID string) {
	m.mu.Lock()
	b, ok := m.beats[participantID]
	if !ok || m.closed || m.clock.Since(b.record.LastSeenAt) < m.timeout {
		m.mu.Unlock()
		return
	}
	lost := m.lostLocked(b.record)
	h := m.handlers[domain.MsgParticipantLost]
	m.mu.Unlock()

	m.dispatch(h, lost)
}

// Sweep removes every participant whose last heartbeat is older than the
// timeout and reports each one as lost.
func (m *Messenger) Sweep() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	now := m.clock.Now()
	stale := lo.Filter(lo.Values(m.beats), func(b *beat, _ int) bool {
		return now.Sub(b.record.LastSeenAt) >= m.timeout
	})
	sort.Slice(stale, func(i, j int) bool { return stale[i].record.ParticipantID < stale[j].record.ParticipantID })
	lost := make([]domain.Message, 0, len(stale))
	for _, b := range stale {
		lost = append(lost, m.lostLocked(b.record))
	}
	h := m.handlers[domain.MsgParticipantLost]
	m.mu.Unlock()

	for _, msg := range lost {
		m.dispatch(h, msg)
	}
}

func (m *Messenger) lostLocked(rec domain.HeartbeatRecord) domain.Message {
	m.forgetLocked(rec.ParticipantID)
	m.logger.Info("participant presumed dead",
		zap.String("participant", rec.ParticipantID),
		zap.String("session_id", rec.SessionID),
		zap.Time("last_seen", rec.LastSeenAt))
	return domain.Message{
		Type:          domain.MsgParticipantLost,
		SessionID:     rec.SessionID,
		ParticipantID: rec.ParticipantID,
		Sender:        m.id,
		SentAt:        m.clock.Now(),
	}
}

// Participants returns the heartbeat records of cooperating participants.
func (m *Messenger) Participants() []domain.HeartbeatRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := lo.Map(lo.Values(m.beats), func(b *beat, _ int) domain.HeartbeatRecord { return b.record })
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}

// Cooperating reports whether any participant of sessionID has sent a heartbeat
// and is still tracked.
func (m *Messenger) Cooperating(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo.SomeBy(lo.Values(m.beats), func(b *beat) bool { return b.record.SessionID == sessionID })
}

// Close stops the sweep, every staleness timer and the transports. It is safe
// to call more than once.
func (m *Messenger) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.ticker != nil {
		m.ticker.Stop()
		close(m.stop)
		m.ticker = nil
	}
	for id := range m.beats {
		m.forgetLocked(id)
	}
	transport, link := m.transport, m.link
	m.mu.Unlock()

	if dups := m.dedupe.Duplicates(); len(dups) > 0 {
		m.logger.Debug("suppressed duplicate deliveries", zap.Int("messages", len(dups)))
	}

	var firstErr error
	if transport != nil {
		if err := transport.Close(); err != nil {
			firstErr = err
		}
	}
	if link != nil {
		if err := link.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Messenger) dispatch(h Handler, msg domain.Message) {
	if h == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("message handler panicked",
				zap.String("type", msg.Type), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()
	h(msg)
}
