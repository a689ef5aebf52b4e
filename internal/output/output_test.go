package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/heirlock/internal/domain"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	line, err := buf.ReadBytes('\n')
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(line, &m))
	return m
}

var now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestWriteError(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewNDJSONWriter(buf)

	require.NoError(t, w.WriteError("SPAWN_BLOCKED", "popup blocked", "allow popups"))

	m := decodeLine(t, buf)
	require.Equal(t, "error", m["type"])
	require.EqualValues(t, SchemaVersion, m["schemaVersion"])
	require.Equal(t, "SPAWN_BLOCKED", m["code"])
	require.Equal(t, "popup blocked", m["message"])
	require.Equal(t, "allow popups", m["hint"])
}

func TestWriteLock(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewNDJSONWriter(buf)

	require.NoError(t, w.WriteLock(domain.LockView{Locked: true, Reason: "external-session:T1", Duration: 1500 * time.Millisecond}, now))
	require.NoError(t, w.WriteLock(domain.LockView{}, now))

	m := decodeLine(t, buf)
	require.Equal(t, "lock", m["type"])
	require.Equal(t, true, m["locked"])
	require.Equal(t, "external-session:T1", m["reason"])
	require.EqualValues(t, 1.5, m["held_seconds"])
	require.Equal(t, "2026-03-01T10:00:00Z", m["timestamp"])

	m = decodeLine(t, buf)
	require.Equal(t, false, m["locked"])
	require.NotContains(t, m, "reason")
}

func TestWriteSessionEvents(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewNDJSONWriter(buf)

	st := domain.SessionState{Status: domain.StatusRecovered, SessionID: "S1", ResourceLocator: "https://x.test/"}
	require.NoError(t, w.WriteSessionOpened(domain.NewSessionOpened(st, now)))
	require.NoError(t, w.WriteSessionClosed(domain.NewSessionClosed("S1", domain.SourceClosing, now.Add(-time.Minute), now)))

	m := decodeLine(t, buf)
	require.Equal(t, "session_opened", m["type"])
	require.Equal(t, "SESSION_RECOVERED", m["alert"])

	m = decodeLine(t, buf)
	require.Equal(t, "session_closed", m["type"])
	require.Equal(t, "closing", m["source"])
	require.EqualValues(t, 60, m["duration_seconds"])
}

func TestWriteReadyAndStatus(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewNDJSONWriter(buf)

	require.NoError(t, w.WriteReady(&ReadyOutput{SessionID: "S1", ParticipantURL: "ws://127.0.0.1:7717/participant"}))
	require.NoError(t, w.WriteStatus(&StatusOutput{Namespace: "default", Path: "/tmp/default.json"}))

	m := decodeLine(t, buf)
	require.Equal(t, "ready", m["type"])
	require.EqualValues(t, 1, m["schemaVersion"])
	require.Equal(t, "ws://127.0.0.1:7717/participant", m["participant_url"])

	m = decodeLine(t, buf)
	require.Equal(t, "status", m["type"])
	require.Equal(t, false, m["present"])
	require.Equal(t, false, m["recoverable"])
}

func TestTextWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewTextWriter(buf)

	require.NoError(t, w.WriteError("INVALID_RESOURCE", "bad url", "use https"))
	require.NoError(t, w.WriteLock(domain.LockView{Locked: true, Reason: "external-session:T1"}, now))
	require.NoError(t, w.WriteLock(domain.LockView{}, now))
	require.NoError(t, w.WriteSessionClosed(domain.NewSessionClosed("S1", domain.SourceLiveness, now.Add(-2*time.Second), now)))
	require.NoError(t, w.WriteDetection(&domain.DetectionDebug{Source: "heartbeat", Confidence: "medium", Decision: "close", Ambiguous: true}))

	out := buf.String()
	assert.Contains(t, out, "Error [INVALID_RESOURCE]: bad url (hint: use https)")
	assert.Contains(t, out, "LOCKED")
	assert.Contains(t, out, "external-session:T1")
	assert.Contains(t, out, "UNLOCKED")
	assert.Contains(t, out, "Session closed: S1 (by liveness after 2.0s)")
	assert.Contains(t, out, "ambiguous")
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 5)
}

func TestTextWriterStatus(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewTextWriter(buf)

	require.NoError(t, w.WriteStatus(&StatusOutput{Namespace: "default", Path: "/tmp/default.json"}))
	assert.Contains(t, buf.String(), "No session record")

	buf.Reset()
	require.NoError(t, w.WriteStatus(&StatusOutput{
		Namespace:   "default",
		Path:        "/tmp/default.json",
		Present:     true,
		SessionID:   "S1",
		AgeSeconds:  90,
		Recoverable: true,
	}))
	out := buf.String()
	assert.Contains(t, out, "S1")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "true")
}
