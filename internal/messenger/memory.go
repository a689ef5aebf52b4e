package messenger

import (
	"errors"
	"sync"

	"github.com/samber/lo"

	"github.com/vburojevic/heirlock/internal/domain"
)

// ErrTransportClosed is returned when sending on a closed transport.
var ErrTransportClosed = errors.New("transport closed")

// MemoryHub connects MemoryTransports in one process. It can drop or hold
// messages to exercise the no-delivery-guarantee contract in tests.
type MemoryHub struct {
	mu        sync.Mutex
	members   map[string]*MemoryTransport
	order     []string
	dropEvery int
	sent      int
	dropped   int
	holding   bool
	held      []heldMessage
}

type heldMessage struct {
	from string
	msg  domain.Message
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{members: make(map[string]*MemoryTransport)}
}

// Transport returns a new member transport named id.
func (h *MemoryHub) Transport(id string) *MemoryTransport {
	return &MemoryTransport{hub: h, id: id}
}

// DropEvery drops every n-th message sent through the hub. Zero disables drops.
func (h *MemoryHub) DropEvery(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropEvery = n
}

// Hold queues messages instead of delivering them until Release.
func (h *MemoryHub) Hold() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.holding = true
}

// Release delivers held messages, in reverse order when reverse is set.
func (h *MemoryHub) Release(reverse bool) {
	h.mu.Lock()
	held := h.held
	h.held = nil
	h.holding = false
	h.mu.Unlock()

	if reverse {
		held = lo.Reverse(held)
	}
	for _, m := range held {
		h.fanout(m.from, m.msg)
	}
}

// Dropped returns how many messages were dropped.
func (h *MemoryHub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *MemoryHub) join(t *MemoryTransport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.members[t.id]; !ok {
		h.order = append(h.order, t.id)
	}
	h.members[t.id] = t
}

func (h *MemoryHub) leave(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.members, id)
	h.order = lo.Without(h.order, id)
}

func (h *MemoryHub) publish(from string, msg domain.Message) {
	h.mu.Lock()
	h.sent++
	if h.dropEvery > 0 && h.sent%h.dropEvery == 0 {
		h.dropped++
		h.mu.Unlock()
		return
	}
	if h.holding {
		h.held = append(h.held, heldMessage{from: from, msg: msg})
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	h.fanout(from, msg)
}

func (h *MemoryHub) fanout(from string, msg domain.Message) {
	h.mu.Lock()
	targets := make([]*MemoryTransport, 0, len(h.order))
	for _, id := range h.order {
		if id != from {
			targets = append(targets, h.members[id])
		}
	}
	h.mu.Unlock()

	for _, t := range targets {
		t.receive(msg)
	}
}

// MemoryTransport is a hub member. Delivery is synchronous.
type MemoryTransport struct {
	hub     *MemoryHub
	id      string
	mu      sync.Mutex
	deliver func(domain.Message)
	closed  bool
}

var _ Transport = (*MemoryTransport)(nil)

// Start joins the hub.
func (t *MemoryTransport) Start(deliver func(domain.Message)) error {
	t.mu.Lock()
	t.deliver = deliver
	t.closed = false
	t.mu.Unlock()
	t.hub.join(t)
	return nil
}

// Send publishes msg to every other member.
func (t *MemoryTransport) Send(msg domain.Message) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrTransportClosed
	}
	t.hub.publish(t.id, msg)
	return nil
}

// Close leaves the hub.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.deliver = nil
	t.mu.Unlock()
	t.hub.leave(t.id)
	return nil
}

func (t *MemoryTransport) receive(msg domain.Message) {
	t.mu.Lock()
	deliver := t.deliver
	t.mu.Unlock()
	if deliver != nil {
		deliver(msg)
	}
}
