package messenger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/heirlock/internal/domain"
)

func TestFSTransportBroadcastBetweenInstances(t *testing.T) {
	dir := t.TempDir()

	a := New(Options{InstanceID: "tab-a", Transport: NewFSTransport(dir, nil, nil)})
	b := New(Options{InstanceID: "tab-b", Transport: NewFSTransport(dir, nil, nil)})
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})

	var gotA, gotB inbox
	a.OnMessage(domain.MsgSessionClosed, gotA.add)
	b.OnMessage(domain.MsgSessionClosed, gotB.add)

	require.NoError(t, a.Broadcast(domain.Message{Type: domain.MsgSessionClosed, SessionID: "s-1"}))

	require.Eventually(t, func() bool { return gotB.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "s-1", gotB.all()[0].SessionID)
	assert.Equal(t, "tab-a", gotB.all()[0].Sender)

	// give the watcher time to deliver any duplicate or echo
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, gotB.len())
	assert.Equal(t, 0, gotA.len())
}

func TestFSTransportPrunesOldFiles(t *testing.T) {
	dir := t.TempDir()
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 12, 14, 22, 0, 0, 0, time.UTC))
	tr := NewFSTransport(dir, mock, nil)

	require.NoError(t, tr.Send(domain.Message{ID: "1", Type: domain.MsgSessionOpened, Sender: "x", Seq: 1}))
	mock.Add(2 * DefaultSpoolRetention)
	require.NoError(t, tr.Send(domain.Message{ID: "2", Type: domain.MsgSessionClosed, Sender: "x", Seq: 2}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	msg, err := readSpoolFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "2", msg.ID)
}

func TestIsSpoolFile(t *testing.T) {
	assert.True(t, isSpoolFile("/tmp/spool/00000000000000000001-a-00000001.json"))
	assert.False(t, isSpoolFile("/tmp/spool/.tmp-1234"))
	assert.False(t, isSpoolFile("/tmp/spool/notes.txt"))
	assert.Equal(t, "a_b_c", sanitizeSender("a-b/c"))
	assert.Equal(t, "anon", sanitizeSender(""))
}
