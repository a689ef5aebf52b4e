package tui

import (
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/heirlock/internal/domain"
)

type fakeSource struct {
	mu      sync.Mutex
	lock    domain.LockView
	session domain.SessionState
	lost    int
	back    int
	closes  int
}

func (f *fakeSource) LockState() domain.LockView {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lock
}

func (f *fakeSource) Session() domain.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

func (f *fakeSource) FocusLost()     { f.mu.Lock(); f.lost++; f.mu.Unlock() }
func (f *fakeSource) FocusReturned() { f.mu.Lock(); f.back++; f.mu.Unlock() }

func (f *fakeSource) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.lock = domain.LockView{}
}

func lockedSource() *fakeSource {
	return &fakeSource{
		lock: domain.LockView{Locked: true, Reason: "external-session:T1", Duration: 75 * time.Second},
		session: domain.SessionState{
			Status:          domain.StatusOpen,
			SessionID:       "S1",
			ResourceLocator: "https://pay.example.com/checkout",
		},
	}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	require.True(t, ok)
	return model, cmd
}

func TestFocusMessagesReachSource(t *testing.T) {
	src := lockedSource()
	m := New(src)

	m, _ = update(t, m, tea.BlurMsg{})
	assert.Contains(t, m.View(), "waiting for you")
	m, _ = update(t, m, tea.FocusMsg{})
	assert.NotContains(t, m.View(), "waiting for you")

	assert.Equal(t, 1, src.lost)
	assert.Equal(t, 1, src.back)
}

func TestViewShowsLock(t *testing.T) {
	m := New(lockedSource())
	view := m.View()
	assert.Contains(t, view, "LOCKED")
	assert.Contains(t, view, "external-session:T1")
	assert.Contains(t, view, "held 1:15")
	assert.Contains(t, view, "S1 (open)")
	assert.Contains(t, view, "https://pay.example.com/checkout")
	assert.Contains(t, view, "close session")
}

func TestUnlockQuits(t *testing.T) {
	src := lockedSource()
	m := New(src)

	m, cmd := update(t, m, LockMsg(domain.LockView{}))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, ExitReleased, m.Exit())
	assert.Contains(t, m.View(), "UNLOCKED")
}

func TestTickRefreshesAndQuitsWhenReleased(t *testing.T) {
	src := lockedSource()
	m := New(src)

	m, cmd := update(t, m, tickMsg(time.Now()))
	require.NotNil(t, cmd)
	assert.Equal(t, ExitNone, m.Exit())

	src.mu.Lock()
	src.lock = domain.LockView{}
	src.mu.Unlock()
	m, cmd = update(t, m, tickMsg(time.Now()))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, ExitReleased, m.Exit())
}

func TestCloseKey(t *testing.T) {
	src := lockedSource()
	m := New(src)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	require.NotNil(t, cmd)
	assert.Contains(t, m.View(), "closing...")

	// a second press while closing is ignored
	_, again := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	assert.Nil(t, again)

	m, _ = update(t, m, cmd())
	assert.Equal(t, 1, src.closes)
	assert.NotContains(t, m.View(), "closing...")
}

func TestQuitKey(t *testing.T) {
	m := New(lockedSource())
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, ExitQuit, m.Exit())
}

func TestFormatHeld(t *testing.T) {
	assert.Equal(t, "0:00", formatHeld(0))
	assert.Equal(t, "1:05", formatHeld(65*time.Second))
	assert.Equal(t, "10:00", formatHeld(10*time.Minute))
}

func TestViewShowsAccess(t *testing.T) {
	m := New(lockedSource())
	assert.NotContains(t, m.View(), "attach")

	m = m.WithAccess("tmux attach -t heirlock-S1", "ws://127.0.0.1:7717/participant?session=S1")
	view := m.View()
	assert.Contains(t, view, "tmux attach -t heirlock-S1")
	assert.Contains(t, view, "/participant?session=S1")
}
