package lock

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	c := New(Options{Clock: mock})
	t.Cleanup(c.Stop)
	return c, mock
}

// advance moves the mock clock forward one step at a time so ticker
// goroutines get a chance to observe every tick.
func advance(mock *clock.Mock, total, step time.Duration) {
	for elapsed := time.Duration(0); elapsed < total; elapsed += step {
		mock.Add(step)
	}
}

type recorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recorder) handle(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) causes() []Cause {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Cause, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.Cause)
	}
	return out
}

func TestLockAndUnlock(t *testing.T) {
	c, mock := newTestCoordinator(t)

	require.NoError(t, c.Lock("external-session:tx-1"))
	st := c.State()
	assert.True(t, st.Locked)
	assert.Equal(t, "external-session:tx-1", st.Reason)
	assert.Equal(t, mock.Now(), st.LockedAt)

	mock.Add(1500 * time.Millisecond)
	d, ok := c.Duration()
	require.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, d)

	c.Unlock()
	st = c.State()
	assert.False(t, st.Locked)
	assert.Empty(t, st.Reason)
	assert.True(t, st.LockedAt.IsZero())

	_, ok = c.Duration()
	assert.False(t, ok)
}

func TestLockRequiresReason(t *testing.T) {
	c, _ := newTestCoordinator(t)
	assert.ErrorIs(t, c.Lock("  "), ErrEmptyReason)
	assert.False(t, c.State().Locked)
}

func TestRelockReplacesReasonKeepsLockedAt(t *testing.T) {
	c, mock := newTestCoordinator(t)
	rec := &recorder{}
	c.OnChange(rec.handle)

	require.NoError(t, c.Lock("external-session:a"))
	lockedAt := c.State().LockedAt
	mock.Add(time.Second)

	require.NoError(t, c.Lock("external-session:a"))
	require.NoError(t, c.Lock("external-session:b"))

	st := c.State()
	assert.Equal(t, "external-session:b", st.Reason)
	assert.Equal(t, lockedAt, st.LockedAt)
	assert.Equal(t, []Cause{CauseLock, CauseRelock}, rec.causes())
}

func TestIsLockedBy(t *testing.T) {
	c, _ := newTestCoordinator(t)
	assert.False(t, c.IsLockedBy("external-session"))

	require.NoError(t, c.Lock("external-session:tx-9"))
	assert.True(t, c.IsLockedBy("external-session"))
	assert.True(t, c.IsLockedBy("external-session:tx-9"))
	assert.False(t, c.IsLockedBy("upload"))
}

func TestUnlockIsIdempotent(t *testing.T) {
	c, _ := newTestCoordinator(t)
	rec := &recorder{}
	c.OnChange(rec.handle)

	require.NoError(t, c.Lock("x"))
	c.Unlock()
	c.Unlock()
	assert.Equal(t, []Cause{CauseLock, CauseUnlock}, rec.causes())
}

func TestSafetyValveForcesUnlock(t *testing.T) {
	c, mock := newTestCoordinator(t)
	rec := &recorder{}
	c.OnChange(rec.handle)

	require.NoError(t, c.Lock("external-session:tx"))

	advance(mock, DefaultSafetyTimeout-time.Second, time.Second)
	assert.True(t, c.State().Locked, "lock must hold until the safety timeout")

	mock.Add(time.Second)
	require.Eventually(t, func() bool { return !c.State().Locked }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []Cause{CauseLock, CauseSafetyTimeout}, rec.causes())
}

func TestSafetyValveCountsFromLockedAt(t *testing.T) {
	c, mock := newTestCoordinator(t)

	// restored lock taken two minutes before the coordinator existed
	require.NoError(t, c.LockAt("external-session:recovered", mock.Now().Add(-2*time.Minute)))

	advance(mock, 8*time.Minute-time.Second, time.Second)
	assert.True(t, c.State().Locked)

	mock.Add(time.Second)
	require.Eventually(t, func() bool { return !c.State().Locked }, time.Second, 5*time.Millisecond)
}

func TestCheckDirect(t *testing.T) {
	c, mock := newTestCoordinator(t)
	require.NoError(t, c.Lock("x"))
	c.Stop()

	mock.Set(mock.Now().Add(DefaultSafetyTimeout))
	c.Check()
	assert.False(t, c.State().Locked)
}

func TestUnsubscribeAndPanickingHandler(t *testing.T) {
	c, _ := newTestCoordinator(t)
	rec := &recorder{}

	c.OnChange(func(Change) { panic("boom") })
	unsubscribe := c.OnChange(rec.handle)

	require.NoError(t, c.Lock("x"))
	unsubscribe()
	c.Unlock()

	assert.Equal(t, []Cause{CauseLock}, rec.causes())
	assert.False(t, c.State().Locked)
}

func TestView(t *testing.T) {
	c, mock := newTestCoordinator(t)
	require.NoError(t, c.Lock("external-session:tx"))
	mock.Add(3 * time.Second)

	v := c.View()
	assert.True(t, v.Locked)
	assert.Equal(t, "external-session:tx", v.Reason)
	assert.Equal(t, 3*time.Second, v.Duration)
}
