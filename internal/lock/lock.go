// Package lock holds the process-wide interaction lock and its safety valve.
package lock

import (
	"errors"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/vburojevic/heirlock/internal/domain"
)

// Defaults for the safety valve.
const (
	DefaultSafetyTimeout = 10 * time.Minute
	DefaultCheckInterval = time.Second
)

// ErrEmptyReason is returned by Lock when no reason is given.
var ErrEmptyReason = errors.New("lock reason is required")

// Cause describes why a lock change happened.
type Cause string

const (
	CauseLock          Cause = "lock"
	CauseRelock        Cause = "relock"
	CauseUnlock        Cause = "unlock"
	CauseSafetyTimeout Cause = "safety-timeout"
)

// Change is delivered to subscribers after every state change.
type Change struct {
	State    domain.LockState
	Previous domain.LockState
	Cause    Cause
}

// Handler receives lock changes.
type Handler func(Change)

// Options configures a Coordinator.
type Options struct {
	Clock         clock.Clock
	Logger        *zap.Logger
	SafetyTimeout time.Duration
	CheckInterval time.Duration
}

// Coordinator owns the LockState. It is safe for concurrent use; handlers are
// called without the internal mutex held.
type Coordinator struct {
	mu     sync.Mutex
	clock  clock.Clock
	logger *zap.Logger

	safety time.Duration
	every  time.Duration

	state  domain.LockState
	subs   map[uint64]Handler
	nextID uint64

	ticker *clock.Ticker
	stop   chan struct{}
}

// New creates an unlocked coordinator.
func New(opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SafetyTimeout <= 0 {
		opts.SafetyTimeout = DefaultSafetyTimeout
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	return &Coordinator{
		clock:  opts.Clock,
		logger: opts.Logger.With(zap.String("component", "lock")),
		safety: opts.SafetyTimeout,
		every:  opts.CheckInterval,
		subs:   make(map[uint64]Handler),
	}
}

// Lock locks with reason at the current time.
func (c *Coordinator) Lock(reason string) error {
	return c.LockAt(reason, time.Time{})
}

// LockAt locks with reason and an explicit lockedAt, used when a lock is
// restored from a persisted hint. A zero at means now. Locking while already
// locked replaces the reason and keeps the original lockedAt.
func (c *Coordinator) LockAt(reason string, at time.Time) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrEmptyReason
	}

	c.mu.Lock()
	prev := c.state
	cause := CauseLock
	if prev.Locked {
		if prev.Reason == reason {
			c.mu.Unlock()
			return nil
		}
		c.logger.Warn("lock reason replaced while locked",
			zap.String("previous", prev.Reason), zap.String("reason", reason))
		c.state.Reason = reason
		cause = CauseRelock
	} else {
		if at.IsZero() {
			at = c.clock.Now()
		}
		c.state = domain.LockState{Locked: true, Reason: reason, LockedAt: at}
		c.startValveLocked()
	}
	change := Change{State: c.state, Previous: prev, Cause: cause}
	subs := c.handlersLocked()
	c.mu.Unlock()

	c.logger.Debug("locked", zap.String("reason", reason), zap.Time("locked_at", change.State.LockedAt))
	c.notify(subs, change)
	return nil
}

// Unlock clears the lock. Unlocking an unlocked coordinator is a no-op.
func (c *Coordinator) Unlock() {
	c.unlock(CauseUnlock)
}

func (c *Coordinator) unlock(cause Cause) {
	c.mu.Lock()
	if !c.state.Locked {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = domain.LockState{}
	c.stopValveLocked()
	change := Change{State: c.state, Previous: prev, Cause: cause}
	subs := c.handlersLocked()
	c.mu.Unlock()

	c.logger.Debug("unlocked", zap.String("cause", string(cause)), zap.String("reason", prev.Reason))
	c.notify(subs, change)
}

// State returns a snapshot of the lock.
func (c *Coordinator) State() domain.LockState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// View returns the UI snapshot with the current duration.
func (c *Coordinator) View() domain.LockView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.View(c.clock.Now())
}

// IsLockedBy reports whether the lock is held with a reason starting with prefix.
func (c *Coordinator) IsLockedBy(prefix string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Locked && strings.HasPrefix(c.state.Reason, prefix)
}

// Duration returns how long the lock has been held, false when unlocked.
func (c *Coordinator) Duration() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Duration(c.clock.Now())
}

// OnChange subscribes h and returns a function that unsubscribes it.
func (c *Coordinator) OnChange(h Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.subs[id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// Stop cancels the safety valve ticker without changing the lock.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopValveLocked()
}

// Check runs one safety-valve check. The ticker calls it every CheckInterval.
func (c *Coordinator) Check() {
	c.mu.Lock()
	st := c.state
	now := c.clock.Now()
	c.mu.Unlock()

	if !st.Locked || now.Sub(st.LockedAt) < c.safety {
		return
	}
	c.logger.Warn("safety timeout reached, force-unlocking",
		zap.String("reason", st.Reason),
		zap.Duration("held", now.Sub(st.LockedAt)))
	c.unlock(CauseSafetyTimeout)
}

func (c *Coordinator) startValveLocked() {
	if c.ticker != nil {
		return
	}
	ticker := c.clock.Ticker(c.every)
	stop := make(chan struct{})
	c.ticker = ticker
	c.stop = stop
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.Check()
			}
		}
	}()
}

func (c *Coordinator) stopValveLocked() {
	if c.ticker == nil {
		return
	}
	c.ticker.Stop()
	close(c.stop)
	c.ticker = nil
	c.stop = nil
}

func (c *Coordinator) handlersLocked() []Handler {
	ids := make([]uint64, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Handler, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.subs[id])
	}
	return out
}

func (c *Coordinator) notify(subs []Handler, change Change) {
	for _, h := range subs {
		c.safeCall(h, change)
	}
}

func (c *Coordinator) safeCall(h Handler, change Change) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("lock change handler panicked",
				zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()
	h(change)
}
