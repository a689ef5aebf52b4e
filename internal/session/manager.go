// Package session owns the external session state machine: spawning,
// confirming, polling for closure and forced close.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vburojevic/heirlock/internal/domain"
)

// Defaults for the handle manager.
const (
	DefaultConfirmDelay     = 500 * time.Millisecond
	DefaultPollInterval     = 2 * time.Second
	DefaultWatchdogInterval = 10 * time.Second
)

// ErrAbandoned is returned by Spawn when the session was force-closed while
// it was still opening.
var ErrAbandoned = errors.New("session closed before it finished opening")

// CloseHandler receives liveness evidence when the manager detects closure.
type CloseHandler func(domain.Evidence)

// Options configures a Manager.
type Options struct {
	Spawner          Spawner
	Clock            clock.Clock
	Logger           *zap.Logger
	ConfirmDelay     time.Duration
	PollInterval     time.Duration
	WatchdogInterval time.Duration
	AllowedSchemes   []string
}

// Manager holds the single SessionState of the host instance and the handle
// of the live external session, if any.
type Manager struct {
	mu      sync.Mutex
	clock   clock.Clock
	logger  *zap.Logger
	spawner Spawner

	confirm  time.Duration
	poll     time.Duration
	watchdog time.Duration
	schemes  []string

	state      domain.SessionState
	handle     Handle
	generation uint64

	ticker        *clock.Ticker
	watchdogTimer *clock.Timer
	stop          chan struct{}

	onClose CloseHandler
}

// NewManager creates an idle manager.
func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ConfirmDelay <= 0 {
		opts.ConfirmDelay = DefaultConfirmDelay
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.WatchdogInterval <= 0 {
		opts.WatchdogInterval = DefaultWatchdogInterval
	}
	return &Manager{
		clock:    opts.Clock,
		logger:   opts.Logger.With(zap.String("component", "session")),
		spawner:  opts.Spawner,
		confirm:  opts.ConfirmDelay,
		poll:     opts.PollInterval,
		watchdog: opts.WatchdogInterval,
		schemes:  opts.AllowedSchemes,
		state:    domain.SessionState{Status: domain.StatusIdle},
	}
}

// OnCloseDetected registers the handler fired once per session when polling
// finds the handle dead.
func (m *Manager) OnCloseDetected(h CloseHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = h
}

// State returns a snapshot of the session state.
func (m *Manager) State() domain.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Spawn creates an external session for locator and returns its new session
// id once the spawn is confirmed. It fails with InvalidResource for a bad
// locator and SpawnBlocked when the environment refuses or the surface
// disappears before the confirmation delay elapses.
func (m *Manager) Spawn(ctx context.Context, transactionID, locator string) (string, error) {
	if err := ValidateLocator(locator, m.schemes); err != nil {
		return "", err
	}

	m.mu.Lock()
	if m.state.Status.Busy() {
		m.mu.Unlock()
		return "", domain.ErrAlreadyOpen
	}
	if m.spawner == nil {
		m.mu.Unlock()
		return "", domain.NewError(domain.CodeSpawnBlocked, "no spawner configured")
	}
	m.generation++
	gen := m.generation
	id := uuid.NewString()
	// a fresh state; nothing carries over from a closed or failed session
	m.state = domain.SessionState{
		Status:          domain.StatusOpening,
		SessionID:       id,
		TransactionID:   transactionID,
		ResourceLocator: locator,
	}
	spawner := m.spawner
	m.mu.Unlock()

	logger := m.logger.With(zap.String("session_id", id))
	logger.Debug("spawning external session", zap.String("locator", locator))

	handle, err := spawner.Spawn(ctx, locator, id)
	if err != nil {
		m.fail(gen, err.Error())
		logger.Warn("spawn refused", zap.Error(err))
		return "", domain.WrapError(err, domain.CodeSpawnBlocked, "host environment refused to open the session")
	}

	timer := m.clock.Timer(m.confirm)
	select {
	case <-ctx.Done():
		timer.Stop()
		closeQuietly(handle, logger)
		m.fail(gen, ctx.Err().Error())
		return "", ctx.Err()
	case <-timer.C:
	}

	if !handle.Alive() {
		closeQuietly(handle, logger)
		m.fail(gen, "session disappeared before confirmation")
		logger.Warn("spawned session vanished before confirmation")
		return "", domain.NewError(domain.CodeSpawnBlocked, "external session closed immediately after opening")
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		closeQuietly(handle, logger)
		return "", ErrAbandoned
	}
	m.handle = handle
	m.state.Status = domain.StatusOpen
	m.state.OpenedAt = m.clock.Now()
	m.startPollingLocked(gen)
	m.mu.Unlock()

	logger.Info("external session open")
	return id, nil
}

// Restore marks a session recovered from a persisted record. There is no
// handle, so nothing is polled.
func (m *Manager) Restore(rec domain.SessionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.stopPollingLocked()
	m.handle = nil
	m.state = domain.SessionState{
		Status:          domain.StatusRecovered,
		SessionID:       rec.SessionID,
		TransactionID:   rec.TransactionID,
		ResourceLocator: rec.ResourceLocator,
		OpenedAt:        rec.CreatedAt,
	}
}

// HasHandle reports whether a live handle is retained.
func (m *Manager) HasHandle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle != nil
}

// IsAlive reports whether the retained handle says it is alive. It never
// changes state.
func (m *Manager) IsAlive() bool {
	m.mu.Lock()
	handle := m.handle
	m.mu.Unlock()
	return handle != nil && handle.Alive()
}

// ForceClose asks the handle to close, if one is retained, and ends in closed
// whether or not the request was honored, idle included.
func (m *Manager) ForceClose() {
	m.mu.Lock()
	handle := m.handle
	m.handle = nil
	m.generation++
	m.stopPollingLocked()
	prev := m.state.Status
	if prev != domain.StatusClosed {
		m.state.Status = domain.StatusClosed
		m.state.ClosedAt = m.clock.Now()
	}
	id := m.state.SessionID
	m.mu.Unlock()

	if handle != nil {
		closeQuietly(handle, m.logger.With(zap.String("session_id", id)))
	}
	if prev != domain.StatusClosed {
		m.logger.Debug("session force-closed", zap.String("session_id", id), zap.String("from", string(prev)))
	}
}

// Reset returns a closed or failed manager to idle. Other states are kept.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status == domain.StatusClosed || m.state.Status == domain.StatusError {
		m.state = domain.SessionState{Status: domain.StatusIdle}
	}
}

// Stop tears down polling and drops the handle without closing it, leaving
// the external session running. Used when the host instance goes away.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.stopPollingLocked()
	m.handle = nil
}

// Check queries liveness once and fires close detection when the handle is
// dead. The poll ticker and the watchdog both call it.
func (m *Manager) Check(via string) {
	m.mu.Lock()
	gen := m.generation
	handle := m.handle
	open := m.state.Status == domain.StatusOpen
	m.mu.Unlock()

	if !open || handle == nil || handle.Alive() {
		return
	}
	m.closeDetected(gen, via)
}

func (m *Manager) closeDetected(gen uint64, via string) {
	m.mu.Lock()
	if gen != m.generation || m.state.Status != domain.StatusOpen {
		m.mu.Unlock()
		return
	}
	handle := m.handle
	m.handle = nil
	m.generation++
	m.stopPollingLocked()
	now := m.clock.Now()
	m.state.Status = domain.StatusClosed
	m.state.ClosedAt = now
	id := m.state.SessionID
	h := m.onClose
	m.mu.Unlock()

	logger := m.logger.With(zap.String("session_id", id))
	logger.Info("external session closed", zap.String("detected_by", via))
	// reap whatever is left of the surface
	closeQuietly(handle, logger)
	if h != nil {
		h(domain.NewEvidence(domain.SourceLiveness, id, now, via))
	}
}

func (m *Manager) fail(gen uint64, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return
	}
	m.state.Status = domain.StatusError
	m.state.LastError = reason
	m.state.ClosedAt = m.clock.Now()
}

func (m *Manager) startPollingLocked(gen uint64) {
	ticker := m.clock.Ticker(m.poll)
	stop := make(chan struct{})
	m.ticker = ticker
	m.stop = stop
	m.armWatchdogLocked(gen)

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.Check("poll")
			}
		}
	}()
}

// armWatchdogLocked schedules the coarse check that catches a poll loop that
// silently stopped firing.
func (m *Manager) armWatchdogLocked(gen uint64) {
	m.watchdogTimer = m.clock.AfterFunc(m.watchdog, func() {
		m.Check("watchdog")
		m.mu.Lock()
		defer m.mu.Unlock()
		if gen == m.generation && m.state.Status == domain.StatusOpen {
			m.armWatchdogLocked(gen)
		}
	})
}

func (m *Manager) stopPollingLocked() {
	if m.ticker != nil {
		m.ticker.Stop()
		close(m.stop)
		m.ticker = nil
		m.stop = nil
	}
	if m.watchdogTimer != nil {
		m.watchdogTimer.Stop()
		m.watchdogTimer = nil
	}
}

func closeQuietly(h Handle, logger *zap.Logger) {
	if h == nil {
		return
	}
	if err := h.Close(); err != nil {
		logger.Debug("close request not honored", zap.Error(err))
	}
}
