package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrFakeRefused is the default refusal of a FakeSpawner.
var ErrFakeRefused = errors.New("spawn refused")

// FakeHandle is an in-memory Handle for tests and dry runs.
type FakeHandle struct {
	SessionID string
	Locator   string

	alive       atomic.Bool
	closes      atomic.Int32
	ignoreClose atomic.Bool
}

// NewFakeHandle returns a live handle.
func NewFakeHandle() *FakeHandle {
	h := &FakeHandle{}
	h.alive.Store(true)
	return h
}

// Alive reports whether the fake surface is up.
func (h *FakeHandle) Alive() bool { return h.alive.Load() }

// Close records the request and takes the surface down unless IgnoreClose is set.
func (h *FakeHandle) Close() error {
	h.closes.Add(1)
	if h.ignoreClose.Load() {
		return errors.New("close ignored")
	}
	h.alive.Store(false)
	return nil
}

// Kill simulates the user closing the surface.
func (h *FakeHandle) Kill() { h.alive.Store(false) }

// IgnoreClose makes Close a no-op that reports an error.
func (h *FakeHandle) IgnoreClose() { h.ignoreClose.Store(true) }

// Closes returns how many times Close was called.
func (h *FakeHandle) Closes() int { return int(h.closes.Load()) }

// FakeSpawner hands out FakeHandles.
type FakeSpawner struct {
	mu      sync.Mutex
	refuse  error
	dead    bool
	handles []*FakeHandle
}

// Refuse makes subsequent spawns fail with err, or ErrFakeRefused when nil.
func (s *FakeSpawner) Refuse(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		err = ErrFakeRefused
	}
	s.refuse = err
}

// SpawnDead makes subsequent spawns return handles that are already gone,
// like a popup blocker closing the window instantly.
func (s *FakeSpawner) SpawnDead(dead bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dead = dead
}

// Spawn implements Spawner.
func (s *FakeSpawner) Spawn(_ context.Context, locator, sessionID string) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refuse != nil {
		return nil, s.refuse
	}
	h := NewFakeHandle()
	h.SessionID = sessionID
	h.Locator = locator
	if s.dead {
		h.Kill()
	}
	s.handles = append(s.handles, h)
	return h, nil
}

// Last returns the most recently spawned handle.
func (s *FakeSpawner) Last() *FakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.handles) == 0 {
		return nil
	}
	return s.handles[len(s.handles)-1]
}

// Count returns how many handles were spawned.
func (s *FakeSpawner) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}
