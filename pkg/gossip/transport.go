package gossip

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Transport moves GossipMsg values between nodes, keyed by the destination id.
// Delivery may be best effort: messages can be delayed or dropped, and the
// protocol never waits for a reply.
type Transport interface {
	Send(ctx context.Context, to NodeID, msg GossipMsg) error
	Inbox() <-chan GossipMsg
	Close() error
}

var (
	ErrUnknownPeer     = errors.New("gossip: unknown peer")
	ErrInboxFull       = errors.New("gossip: inbox full")
	ErrTransportClosed = errors.New("gossip: transport closed")
)

// Hub connects ChannelTransports living in the same process.
type Hub struct {
	mu      sync.RWMutex
	buffer  int
	inboxes map[NodeID]chan GossipMsg
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{buffer: buffer, inboxes: make(map[NodeID]chan GossipMsg)}
}

// Join registers id on the hub and returns its transport. Joining an id twice
// replaces the previous registration.
func (h *Hub) Join(id NodeID) *ChannelTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.inboxes[id]; ok {
		close(old)
	}
	ch := make(chan GossipMsg, h.buffer)
	h.inboxes[id] = ch
	return &ChannelTransport{hub: h, id: id, inbox: ch}
}

func (h *Hub) deliver(ctx context.Context, to NodeID, msg GossipMsg) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	ch, ok := h.inboxes[to]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPeer, to)
	}
	select {
	case ch <- msg:
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrInboxFull, to)
	}
}

func (h *Hub) leave(id NodeID, ch chan GossipMsg) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.inboxes[id]; !ok || cur != ch {
		return false
	}
	delete(h.inboxes, id)
	close(ch)
	return true
}

// ChannelTransport is an in-process Transport backed by a buffered channel.
// A full inbox drops the message instead of blocking the sender.
type ChannelTransport struct {
	hub   *Hub
	id    NodeID
	inbox chan GossipMsg

	mu     sync.Mutex
	closed bool
}

func (t *ChannelTransport) Send(ctx context.Context, to NodeID, msg GossipMsg) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrTransportClosed
	}
	return t.hub.deliver(ctx, to, msg)
}

func (t *ChannelTransport) Inbox() <-chan GossipMsg {
	return t.inbox
}

// Close unregisters the transport and closes its inbox. It is idempotent.
func (t *ChannelTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.hub.leave(t.id, t.inbox)
	return nil
}
