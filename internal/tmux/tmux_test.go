package tmux

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu       sync.Mutex
	sessions map[string]bool
	calls    [][]string
	fail     error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{sessions: map[string]bool{}}
}

func (r *fakeRunner) Command(req ...string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, req)
	if r.fail != nil {
		return "", r.fail
	}
	switch req[0] {
	case "new-session":
		r.sessions[req[3]] = true
	case "has-session":
		if !r.sessions[strings.TrimPrefix(req[2], "=")] {
			return "", errors.New("can't find session")
		}
	case "kill-session":
		delete(r.sessions, strings.TrimPrefix(req[2], "="))
	}
	return "", nil
}

func (r *fakeRunner) kill(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, name)
}

func newTestSpawner(r Runner, cfg Config) *Spawner {
	s := NewSpawner(cfg, nil)
	s.connect = func() (Runner, error) { return r, nil }
	return s
}

func TestSessionName(t *testing.T) {
	assert.Equal(t, "heirlock-3f2a9c1e", SessionName("heirlock", "3f2a9c1e-aaaa-bbbb-cccc-000000000000"))
	assert.Equal(t, "heirlock-S1", SessionName("heirlock", "S1"))
	assert.Equal(t, "my-app-a-b", SessionName("my.app", "a:b"))
}

func TestShellCommandQuotes(t *testing.T) {
	cmd := ShellCommand([]string{"w3m", "{url}"}, "https://x.test/?q=it's", "S1")
	assert.Contains(t, cmd, `exec 'w3m' 'https://x.test/?q=it'"'"'s'`)
	assert.Contains(t, cmd, "heirlock external session S1")

	cmd = ShellCommand(nil, "https://x.test/", "S1")
	assert.True(t, strings.HasSuffix(cmd, "read _"))
}

func TestSpawnAliveClose(t *testing.T) {
	r := newFakeRunner()
	s := newTestSpawner(r, Config{})

	h, err := s.Spawn(context.Background(), "https://x.test/", "S1")
	require.NoError(t, err)
	w := h.(*Window)
	assert.Equal(t, "heirlock-S1", w.Name())
	assert.Equal(t, "tmux attach -t heirlock-S1", w.AttachCommand())
	assert.True(t, h.Alive())

	require.NoError(t, h.Close())
	assert.False(t, h.Alive())
	assert.NoError(t, h.Close())
}

func TestWindowClosedByUser(t *testing.T) {
	r := newFakeRunner()
	s := newTestSpawner(r, Config{})
	h, err := s.Spawn(context.Background(), "https://x.test/", "S1")
	require.NoError(t, err)

	r.kill("heirlock-S1")
	assert.False(t, h.Alive())
}

func TestSpawnFailures(t *testing.T) {
	r := newFakeRunner()
	r.fail = errors.New("no server running")
	_, err := newTestSpawner(r, Config{}).Spawn(context.Background(), "https://x.test/", "S1")
	assert.Error(t, err)

	s := NewSpawner(Config{}, nil)
	s.connect = func() (Runner, error) { return nil, ErrTmuxUnavailable }
	_, err = s.Spawn(context.Background(), "https://x.test/", "S1")
	assert.ErrorIs(t, err, ErrTmuxUnavailable)
}
