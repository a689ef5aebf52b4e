package messenger

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/heirlock/internal/domain"
)

type inbox struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (i *inbox) add(m domain.Message) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.msgs = append(i.msgs, m)
}

func (i *inbox) all() []domain.Message {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]domain.Message(nil), i.msgs...)
}

func (i *inbox) len() int { return len(i.all()) }

func newPair(t *testing.T, hub *MemoryHub, mock *clock.Mock) (*Messenger, *Messenger) {
	t.Helper()
	a := New(Options{Clock: mock, InstanceID: "a", Transport: hub.Transport("a")})
	b := New(Options{Clock: mock, InstanceID: "b", Transport: hub.Transport("b")})
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestBroadcastReachesSiblingsOnly(t *testing.T) {
	hub := NewMemoryHub()
	mock := clock.NewMock()
	a, b := newPair(t, hub, mock)

	var gotA, gotB inbox
	a.OnMessage(domain.MsgSessionClosed, gotA.add)
	b.OnMessage(domain.MsgSessionClosed, gotB.add)

	require.NoError(t, a.Broadcast(domain.Message{Type: domain.MsgSessionClosed, SessionID: "s-1"}))

	assert.Equal(t, 0, gotA.len())
	msgs := gotB.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "a", msgs[0].Sender)
	assert.Equal(t, uint64(1), msgs[0].Seq)
	assert.NotEmpty(t, msgs[0].ID)
	assert.Equal(t, mock.Now(), msgs[0].SentAt)
}

func TestOnMessageLastRegistrationWins(t *testing.T) {
	hub := NewMemoryHub()
	a, b := newPair(t, hub, clock.NewMock())

	var first, second inbox
	b.OnMessage(domain.MsgSessionOpened, first.add)
	b.OnMessage(domain.MsgSessionOpened, second.add)

	require.NoError(t, a.Broadcast(domain.Message{Type: domain.MsgSessionOpened}))
	assert.Equal(t, 0, first.len())
	assert.Equal(t, 1, second.len())
}

func TestDeliverDropsDuplicates(t *testing.T) {
	m := New(Options{Clock: clock.NewMock(), InstanceID: "host"})
	var got inbox
	m.OnMessage(domain.MsgSessionClosed, got.add)

	msg := domain.Message{ID: "dup", Type: domain.MsgSessionClosed, Sender: "other"}
	m.Deliver(msg)
	m.Deliver(msg)
	assert.Equal(t, 1, got.len())
}

func TestDeliverIgnoresOwnEcho(t *testing.T) {
	m := New(Options{Clock: clock.NewMock(), InstanceID: "host"})
	var got inbox
	m.OnMessage(domain.MsgSessionClosed, got.add)

	m.Deliver(domain.Message{ID: "1", Type: domain.MsgSessionClosed, Sender: "host"})
	assert.Equal(t, 0, got.len())
}

func TestHeartbeatTimeoutSynthesizesLost(t *testing.T) {
	mock := clock.NewMock()
	m := New(Options{Clock: mock, InstanceID: "host"})
	require.NoError(t, m.Start())
	t.Cleanup(func() { m.Close() })

	var lost inbox
	m.OnMessage(domain.MsgParticipantLost, lost.add)

	for i := 0; i < 3; i++ {
		m.Deliver(domain.Message{Type: domain.MsgHeartbeat, ParticipantID: "page", SessionID: "s-1"})
		if i < 2 {
			mock.Add(2 * time.Second)
		}
	}
	require.True(t, m.Cooperating("s-1"))
	lastSeen := mock.Now()

	mock.Add(4 * time.Second)
	assert.Equal(t, 0, lost.len())

	mock.Add(time.Second)
	require.Eventually(t, func() bool { return lost.len() == 1 }, time.Second, 5*time.Millisecond)

	got := lost.all()[0]
	assert.Equal(t, "page", got.ParticipantID)
	assert.Equal(t, "s-1", got.SessionID)
	assert.Equal(t, lastSeen.Add(DefaultHeartbeatTimeout), got.SentAt)
	assert.Empty(t, m.Participants())
	assert.False(t, m.Cooperating("s-1"))
}

func TestOlderHeartbeatDoesNotRefresh(t *testing.T) {
	mock := clock.NewMock()
	m := New(Options{Clock: mock, InstanceID: "host"})
	require.NoError(t, m.Start())
	t.Cleanup(func() { m.Close() })

	var lost inbox
	m.OnMessage(domain.MsgParticipantLost, lost.add)

	first := mock.Now()
	mock.Add(2 * time.Second)
	newest := mock.Now()
	m.Deliver(domain.Message{ID: "hb-2", Type: domain.MsgHeartbeat, ParticipantID: "page", SessionID: "s-1", SentAt: newest})
	lastSeen := mock.Now()

	mock.Add(3 * time.Second)
	m.Deliver(domain.Message{ID: "hb-1", Type: domain.MsgHeartbeat, ParticipantID: "page", SessionID: "s-1", SentAt: first})
	require.Len(t, m.Participants(), 1)
	assert.Equal(t, lastSeen, m.Participants()[0].LastSeenAt)

	mock.Add(2 * time.Second)
	require.Eventually(t, func() bool { return lost.len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSilentParticipantIsNeverLost(t *testing.T) {
	mock := clock.NewMock()
	m := New(Options{Clock: mock, InstanceID: "host"})
	require.NoError(t, m.Start())
	t.Cleanup(func() { m.Close() })

	var lost inbox
	m.OnMessage(domain.MsgParticipantLost, lost.add)

	for i := 0; i < 10; i++ {
		mock.Add(time.Second)
	}
	m.Sweep()
	assert.Equal(t, 0, lost.len())
}

func TestClosingForgetsParticipant(t *testing.T) {
	mock := clock.NewMock()
	m := New(Options{Clock: mock, InstanceID: "host"})
	require.NoError(t, m.Start())
	t.Cleanup(func() { m.Close() })

	var lost, closing inbox
	m.OnMessage(domain.MsgParticipantLost, lost.add)
	m.OnMessage(domain.MsgClosing, closing.add)

	m.Deliver(domain.Message{Type: domain.MsgHeartbeat, ParticipantID: "page", SessionID: "s-1"})
	m.Deliver(domain.Message{Type: domain.MsgClosing, ParticipantID: "page", SessionID: "s-1"})
	assert.Equal(t, 1, closing.len())

	for i := 0; i < 10; i++ {
		mock.Add(time.Second)
	}
	assert.Equal(t, 0, lost.len())
}

func TestSweepReportsStaleParticipants(t *testing.T) {
	mock := clock.NewMock()
	m := New(Options{Clock: mock, InstanceID: "host", HeartbeatTimeout: 5 * time.Second})
	var lost inbox
	m.OnMessage(domain.MsgParticipantLost, lost.add)

	m.Deliver(domain.Message{Type: domain.MsgHeartbeat, ParticipantID: "p1"})
	m.Deliver(domain.Message{Type: domain.MsgHeartbeat, ParticipantID: "p2"})
	mock.Add(6 * time.Second)
	m.Sweep()

	require.Eventually(t, func() bool { return lost.len() == 2 }, time.Second, 5*time.Millisecond)
	ids := []string{lost.all()[0].ParticipantID, lost.all()[1].ParticipantID}
	assert.ElementsMatch(t, []string{"p1", "p2"}, ids)
	assert.Empty(t, m.Participants())
}

func TestSendHeartbeatProbeWithoutLink(t *testing.T) {
	m := New(Options{Clock: clock.NewMock()})
	assert.ErrorIs(t, m.SendHeartbeatProbe("page"), ErrNoParticipantLink)
}

func TestMemoryHubDropsAndReorders(t *testing.T) {
	hub := NewMemoryHub()
	a, b := newPair(t, hub, clock.NewMock())

	var got inbox
	b.OnMessage(domain.MsgSessionOpened, got.add)

	hub.DropEvery(2)
	for i := 0; i < 4; i++ {
		require.NoError(t, a.Broadcast(domain.Message{Type: domain.MsgSessionOpened}))
	}
	assert.Equal(t, 2, got.len())
	assert.Equal(t, 2, hub.Dropped())

	hub.DropEvery(0)
	hub.Hold()
	require.NoError(t, a.Broadcast(domain.Message{Type: domain.MsgSessionOpened}))
	require.NoError(t, a.Broadcast(domain.Message{Type: domain.MsgSessionOpened}))
	assert.Equal(t, 2, got.len())

	hub.Release(true)
	msgs := got.all()
	require.Len(t, msgs, 4)
	assert.Greater(t, msgs[2].Seq, msgs[3].Seq)
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	m := New(Options{Clock: clock.NewMock(), InstanceID: "host"})
	m.OnMessage(domain.MsgSessionClosed, func(domain.Message) { panic("boom") })
	assert.NotPanics(t, func() {
		m.Deliver(domain.Message{ID: "1", Type: domain.MsgSessionClosed, Sender: "other"})
	})
}

func TestCloseIsIdempotentAndStopsDelivery(t *testing.T) {
	hub := NewMemoryHub()
	a, b := newPair(t, hub, clock.NewMock())
	var got inbox
	b.OnMessage(domain.MsgSessionClosed, got.add)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	require.NoError(t, a.Broadcast(domain.Message{Type: domain.MsgSessionClosed}))
	assert.Equal(t, 0, got.len())
}
