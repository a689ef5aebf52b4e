// Package orchestrator ties the session handle manager, the lock coordinator,
// the persistent store and the messenger into the single facade the host
// uses to hand a transaction off to an external session.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/vburojevic/heirlock/internal/domain"
	"github.com/vburojevic/heirlock/internal/lock"
	"github.com/vburojevic/heirlock/internal/messenger"
	"github.com/vburojevic/heirlock/internal/session"
)

// LockReasonPrefix starts the reason of every lock taken for an external session.
const LockReasonPrefix = "external-session:"

// Defaults for the orchestrator.
const (
	DefaultFocusSettle = time.Second
	DefaultRecordStale = 10 * time.Minute
)

// ErrShutdown is returned by Open after Shutdown.
var ErrShutdown = errors.New("orchestrator is shut down")

// RecordStore persists the reload-recovery hint.
type RecordStore interface {
	Save(domain.SessionRecord)
	Load() *domain.SessionRecord
	Clear()
}

// Options wires an Orchestrator. Manager and Lock are required.
type Options struct {
	Clock     clock.Clock
	Logger    *zap.Logger
	Store     RecordStore
	Manager   *session.Manager
	Lock      *lock.Coordinator
	Messenger messenger.Broadcaster
	Policy    Policy

	FocusSettle time.Duration
	RecordStale time.Duration
}

// Orchestrator is the facade over one host instance's external session.
type Orchestrator struct {
	mu         sync.Mutex
	clock      clock.Clock
	logger     *zap.Logger
	store      RecordStore
	manager    *session.Manager
	lock       *lock.Coordinator
	messenger  messenger.Broadcaster
	reconciler Reconciler

	settle time.Duration
	stale  time.Duration

	opening     bool
	closedFor   string // session id whose close path already ran
	focusLost   bool
	settleTimer *clock.Timer
	unsubLock   func()
	shut        bool

	onOpened    func(*domain.SessionOpened)
	onClosed    func(*domain.SessionClosed)
	onDetection func(*domain.DetectionDebug)
}

// New builds the orchestrator and recovers a persisted session, if a fresh
// record exists.
func New(opts Options) (*Orchestrator, error) {
	if opts.Manager == nil || opts.Lock == nil {
		return nil, errors.New("orchestrator needs a session manager and a lock coordinator")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Store == nil {
		opts.Store = nopStore{}
	}
	if opts.Messenger == nil {
		opts.Messenger = nopBroadcaster{}
	}
	if opts.Policy == "" {
		opts.Policy = PolicyEager
	}
	if opts.FocusSettle <= 0 {
		opts.FocusSettle = DefaultFocusSettle
	}
	if opts.RecordStale <= 0 {
		opts.RecordStale = DefaultRecordStale
	}

	o := &Orchestrator{
		clock:      opts.Clock,
		logger:     opts.Logger.With(zap.String("component", "orchestrator")),
		store:      opts.Store,
		manager:    opts.Manager,
		lock:       opts.Lock,
		messenger:  opts.Messenger,
		reconciler: Reconciler{Policy: opts.Policy},
		settle:     opts.FocusSettle,
		stale:      opts.RecordStale,
	}

	o.manager.OnCloseDetected(o.handleEvidence)
	o.unsubLock = o.lock.OnChange(o.lockChanged)
	o.messenger.OnMessage(domain.MsgClosing, o.closingReceived)
	o.messenger.OnMessage(domain.MsgParticipantLost, o.participantLost)
	o.messenger.OnMessage(domain.MsgSessionClosed, o.siblingClosed)
	o.messenger.OnMessage(domain.MsgSessionOpened, o.siblingOpened)

	o.recover()
	return o, nil
}

// LockReason returns the lock reason for a transaction.
func LockReason(transactionID string) string {
	return LockReasonPrefix + transactionID
}

func (o *Orchestrator) recover() {
	rec := o.store.Load()
	if rec == nil {
		return
	}
	now := o.clock.Now()
	logger := o.logger.With(zap.String("session_id", rec.SessionID))
	if age := rec.Age(now); age >= o.stale {
		logger.Info("discarding stale session record", zap.Duration("age", age))
		o.store.Clear()
		return
	}

	lockedAt := rec.CreatedAt
	if lockedAt.After(now) {
		lockedAt = now
	}
	o.manager.Restore(*rec)
	if err := o.lock.LockAt(LockReason(rec.TransactionID), lockedAt); err != nil {
		logger.Warn("failed to restore lock", zap.Error(err))
	}
	logger.Info("session recovered from record",
		zap.String("transaction_id", rec.TransactionID),
		zap.Time("created_at", rec.CreatedAt))
}

// Open spawns an external session for the transaction and takes the lock.
func (o *Orchestrator) Open(ctx context.Context, transactionID, locator string) (string, error) {
	o.mu.Lock()
	if o.shut {
		o.mu.Unlock()
		return "", ErrShutdown
	}
	if o.opening || o.manager.State().Status.Busy() {
		o.mu.Unlock()
		return "", domain.ErrAlreadyOpen
	}
	o.opening = true
	o.focusLost = false
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.opening = false
		o.mu.Unlock()
	}()

	id, err := o.manager.Spawn(ctx, transactionID, locator)
	if err != nil {
		return "", err
	}

	now := o.clock.Now()
	logger := o.logger.With(zap.String("session_id", id))
	o.store.Save(domain.SessionRecord{
		SessionID:       id,
		TransactionID:   transactionID,
		ResourceLocator: locator,
		CreatedAt:       now,
		Confirmed:       true,
	})
	if err := o.lock.Lock(LockReason(transactionID)); err != nil {
		logger.Warn("failed to take lock", zap.Error(err))
	}

	// closure may have been detected before the lock was taken
	st := o.manager.State()
	if st.SessionID != id || !st.Status.Active() {
		logger.Info("session closed while opening")
		o.lock.Unlock()
		o.store.Clear()
		return id, nil
	}

	o.broadcast(domain.MsgSessionOpened, id, map[string]string{
		"transactionId":   transactionID,
		"resourceLocator": locator,
	})
	o.mu.Lock()
	h := o.onOpened
	o.mu.Unlock()
	if h != nil {
		h(domain.NewSessionOpened(st, now))
	}
	logger.Info("external session opened", zap.String("transaction_id", transactionID))
	return id, nil
}

// Close runs the close path for the current session. Repeated calls are no-ops.
func (o *Orchestrator) Close() {
	o.closeSession(domain.NewEvidence(domain.SourceManual, "", o.clock.Now(), "close requested"))
}

// Session returns the current session state.
func (o *Orchestrator) Session() domain.SessionState {
	return o.manager.State()
}

// LockState returns the lock snapshot for the UI.
func (o *Orchestrator) LockState() domain.LockView {
	return o.lock.View()
}

// OnLockChange subscribes h to lock changes and returns the unsubscribe func.
func (o *Orchestrator) OnLockChange(h func(domain.LockView)) func() {
	return o.lock.OnChange(func(c lock.Change) {
		h(c.State.View(o.clock.Now()))
	})
}

// OnSessionOpened registers the handler for newly opened sessions.
func (o *Orchestrator) OnSessionOpened(h func(*domain.SessionOpened)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onOpened = h
}

// OnSessionClosed registers the handler fired once per closed session.
func (o *Orchestrator) OnSessionClosed(h func(*domain.SessionClosed)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onClosed = h
}

// OnDetection registers a handler for every reconciled piece of evidence.
func (o *Orchestrator) OnDetection(h func(*domain.DetectionDebug)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onDetection = h
}

// FocusLost records that the host lost focus, usually to the external session.
func (o *Orchestrator) FocusLost() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.focusLost = true
	o.stopSettleLocked()
}

// FocusReturned schedules a liveness re-check after the settle delay when
// focus comes back while a session is active.
func (o *Orchestrator) FocusReturned() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.focusLost || o.shut {
		return
	}
	o.focusLost = false
	st := o.manager.State()
	if !st.Status.Active() {
		return
	}
	if !o.manager.HasHandle() {
		o.logger.Debug("focus returned but there is no handle to re-check", zap.String("session_id", st.SessionID))
		return
	}
	o.stopSettleLocked()
	id := st.SessionID
	o.settleTimer = o.clock.AfterFunc(o.settle, func() { o.focusCheck(id) })
}

func (o *Orchestrator) focusCheck(sessionID string) {
	o.mu.Lock()
	o.settleTimer = nil
	o.mu.Unlock()
	if o.manager.State().SessionID != sessionID {
		return
	}
	o.manager.Check("focus")
}

// Shutdown stops every timer and drops the messenger subscriptions. The
// external session and the record are left as they are.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	if o.shut {
		o.mu.Unlock()
		return
	}
	o.shut = true
	o.stopSettleLocked()
	unsub := o.unsubLock
	o.unsubLock = nil
	o.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	for _, t := range []string{domain.MsgClosing, domain.MsgParticipantLost, domain.MsgSessionClosed, domain.MsgSessionOpened} {
		o.messenger.OnMessage(t, nil)
	}
	o.manager.OnCloseDetected(nil)
	o.manager.Stop()
	o.lock.Stop()
}

// Teardown is the host going away on purpose: close, then shut down.
func (o *Orchestrator) Teardown() {
	o.Close()
	o.Shutdown()
}

func (o *Orchestrator) closingReceived(msg domain.Message) {
	o.handleEvidence(domain.NewEvidence(domain.SourceClosing, msg.SessionID, o.clock.Now(), msg.ParticipantID))
}

func (o *Orchestrator) participantLost(msg domain.Message) {
	o.handleEvidence(domain.NewEvidence(domain.SourceHeartbeat, msg.SessionID, o.clock.Now(), msg.ParticipantID))
}

func (o *Orchestrator) siblingClosed(msg domain.Message) {
	if msg.SessionID == "" {
		return
	}
	o.handleEvidence(domain.NewEvidence(domain.SourceSibling, msg.SessionID, o.clock.Now(), msg.Sender))
}

func (o *Orchestrator) siblingOpened(msg domain.Message) {
	o.logger.Debug("sibling opened a session",
		zap.String("sender", msg.Sender),
		zap.String("session_id", msg.SessionID))
}

func (o *Orchestrator) lockChanged(c lock.Change) {
	if c.Cause != lock.CauseSafetyTimeout {
		return
	}
	o.closeSession(domain.NewEvidence(domain.SourceSafetyValve, "", o.clock.Now(), c.Previous.Reason))
}

func (o *Orchestrator) handleEvidence(ev domain.Evidence) {
	obs := Observation{State: o.manager.State(), HasHandle: o.manager.HasHandle()}
	if obs.HasHandle && ev.Source != domain.SourceLiveness {
		obs.HandleAlive = o.manager.IsAlive()
	}
	if ev.SessionID == "" {
		ev.SessionID = obs.State.SessionID
	}
	d := o.reconciler.Decide(ev, obs)

	logger := o.logger.With(
		zap.String("session_id", ev.SessionID),
		zap.String("source", string(ev.Source)),
		zap.String("confidence", ev.Confidence.String()))
	if d.Ambiguous {
		err := domain.NewError(domain.CodeDetectionAmbiguous, d.Reason)
		logger.Warn("conflicting closure evidence", zap.Error(err), zap.Bool("closing", d.Close))
	} else {
		logger.Debug("evidence reconciled", zap.Bool("closing", d.Close), zap.String("reason", d.Reason))
	}

	o.mu.Lock()
	h := o.onDetection
	o.mu.Unlock()
	if h != nil {
		h(d.Debug(ev))
	}
	if d.Close {
		o.closeSession(ev)
	}
}

// closeSession is the single close path: force-close the handle, release the
// lock, clear the record, tell the siblings. It runs once per session.
func (o *Orchestrator) closeSession(ev domain.Evidence) {
	o.mu.Lock()
	st := o.manager.State()
	id := st.SessionID
	if id == "" || id == o.closedFor || st.Status == domain.StatusIdle || st.Status == domain.StatusError {
		o.mu.Unlock()
		return
	}
	o.closedFor = id
	o.focusLost = false
	o.stopSettleLocked()
	h := o.onClosed
	o.mu.Unlock()

	o.manager.ForceClose()
	o.lock.Unlock()
	o.store.Clear()
	if ev.Source != domain.SourceSibling {
		o.broadcast(domain.MsgSessionClosed, id, map[string]string{"source": string(ev.Source)})
	}

	now := o.clock.Now()
	o.logger.Info("external session closed",
		zap.String("session_id", id),
		zap.String("source", string(ev.Source)),
		zap.String("detail", ev.Detail))
	if h != nil {
		h(domain.NewSessionClosed(id, ev.Source, st.OpenedAt, now))
	}
}

func (o *Orchestrator) broadcast(msgType, sessionID string, payload map[string]string) {
	msg := domain.Message{Type: msgType, SessionID: sessionID}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			msg.Payload = raw
		}
	}
	if err := o.messenger.Broadcast(msg); err != nil {
		o.logger.Debug("broadcast failed", zap.String("type", msgType), zap.Error(err))
	}
}

func (o *Orchestrator) stopSettleLocked() {
	if o.settleTimer != nil {
		o.settleTimer.Stop()
		o.settleTimer = nil
	}
}

type nopStore struct{}

func (nopStore) Save(domain.SessionRecord)   {}
func (nopStore) Load() *domain.SessionRecord { return nil }
func (nopStore) Clear()                      {}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(domain.Message) error      { return nil }
func (nopBroadcaster) OnMessage(string, messenger.Handler) {}
