package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStatusPredicates(t *testing.T) {
	tests := []struct {
		status SessionStatus
		active bool
		busy   bool
	}{
		{StatusIdle, false, false},
		{StatusOpening, false, true},
		{StatusOpen, true, true},
		{StatusRecovered, true, true},
		{StatusClosed, false, false},
		{StatusError, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.active, tt.status.Active())
			assert.Equal(t, tt.busy, tt.status.Busy())
		})
	}
}

func TestLockStateDuration(t *testing.T) {
	now := time.Date(2025, 12, 14, 22, 0, 0, 0, time.UTC)

	d, ok := LockState{}.Duration(now)
	assert.False(t, ok)
	assert.Zero(t, d)

	st := LockState{Locked: true, Reason: "external-session:tx", LockedAt: now.Add(-90 * time.Second)}
	d, ok = st.Duration(now)
	require.True(t, ok)
	assert.Equal(t, 90*time.Second, d)

	view := st.View(now)
	assert.True(t, view.Locked)
	assert.Equal(t, "external-session:tx", view.Reason)
	assert.Equal(t, 90*time.Second, view.Duration)
}

func TestErrorMatching(t *testing.T) {
	cause := fmt.Errorf("tmux not installed")
	err := WrapError(cause, CodeSpawnBlocked, "spawner refused")
	wrapped := fmt.Errorf("open: %w", err)

	assert.True(t, errors.Is(wrapped, ErrSpawnBlocked))
	assert.False(t, errors.Is(wrapped, ErrAlreadyOpen))
	assert.True(t, errors.Is(wrapped, cause))
	assert.Equal(t, CodeSpawnBlocked, CodeOf(wrapped))
	assert.Equal(t, ErrorCode(""), CodeOf(cause))
	assert.Contains(t, err.Error(), "caused by: tmux not installed")
}

func TestDefaultConfidence(t *testing.T) {
	assert.Equal(t, ConfidenceHigh, DefaultConfidence(SourceLiveness))
	assert.Equal(t, ConfidenceHigh, DefaultConfidence(SourceClosing))
	assert.Equal(t, ConfidenceMedium, DefaultConfidence(SourceHeartbeat))
	assert.Equal(t, ConfidenceLow, DefaultConfidence(SourceFocus))
	assert.Equal(t, "medium", ConfidenceMedium.String())
}

func TestNewSessionOpenedRecoveredAlert(t *testing.T) {
	now := time.Now()
	ev := NewSessionOpened(SessionState{Status: StatusRecovered, SessionID: "s-1", ResourceLocator: "https://ex/form"}, now)
	assert.Equal(t, "session_opened", ev.Type)
	assert.Equal(t, "SESSION_RECOVERED", ev.Alert)

	ev = NewSessionOpened(SessionState{Status: StatusOpen, SessionID: "s-2"}, now)
	assert.Empty(t, ev.Alert)
}

func TestMessageFromParticipant(t *testing.T) {
	assert.True(t, Message{Type: MsgHeartbeat}.FromParticipant())
	assert.True(t, Message{Type: MsgClosing}.FromParticipant())
	assert.False(t, Message{Type: MsgSessionClosed}.FromParticipant())
}

func TestLockViewJSONDuration(t *testing.T) {
	b, err := json.Marshal(LockView{Locked: true, Reason: "external-session:T1", Duration: 1500 * time.Millisecond})
	require.NoError(t, err)
	assert.JSONEq(t, `{"locked":true,"reason":"external-session:T1","duration_ns":1500000000}`, string(b))
}
