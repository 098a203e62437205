package node

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/cyclon/pkg/addrbook"
	"github.com/ryandielhenn/cyclon/pkg/gossip"
)

const (
	GossipPath  = "/gossip"
	contentType = "application/x-protobuf"

	maxMessageSize = 1 << 10
)

// HTTPTransport carries gossip messages as HTTP POSTs to GossipPath on the
// destination's address. Inbound messages are accepted by ServeHTTP and queued
// on the inbox; a full inbox answers 503 and the message is lost.
type HTTPTransport struct {
	self   gossip.NodeID
	book   *addrbook.Book
	client *http.Client
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	inbox  chan gossip.GossipMsg
}

func NewHTTPTransport(self gossip.NodeID, book *addrbook.Book, client *http.Client, inboxSize int, logger *zap.Logger) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if inboxSize <= 0 {
		inboxSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPTransport{
		self:   self,
		book:   book,
		client: client,
		logger: logger,
		inbox:  make(chan gossip.GossipMsg, inboxSize),
	}
}

// Send posts msg to the node registered as to in the address book. Messages
// addressed to this node are queued locally.
func (t *HTTPTransport) Send(ctx context.Context, to gossip.NodeID, msg gossip.GossipMsg) error {
	if to == t.self {
		return t.enqueue(msg)
	}

	addr, ok := t.book.Addr(to)
	if !ok {
		return fmt.Errorf("%w: %d", gossip.ErrUnknownPeer, to)
	}
	url := "http://" + NormalizeHostPort(addr, DefaultPort) + GossipPath

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(gossip.Marshal(msg)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("post %s: unexpected status %s", url, resp.Status)
	}
	return nil
}

func (t *HTTPTransport) Inbox() <-chan gossip.GossipMsg {
	return t.inbox
}

// Close stops accepting messages and closes the inbox.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.inbox)
	return nil
}

func (t *HTTPTransport) enqueue(msg gossip.GossipMsg) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return gossip.ErrTransportClosed
	}
	select {
	case t.inbox <- msg:
		return nil
	default:
		return gossip.ErrInboxFull
	}
}

// ServeHTTP accepts a message posted by a peer.
func (t *HTTPTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) > maxMessageSize {
		http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
		return
	}

	msg, err := gossip.Unmarshal(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if msg.To != t.self {
		http.Error(w, "message addressed to another node", http.StatusMisdirectedRequest)
		return
	}

	if err := t.enqueue(msg); err != nil {
		t.logger.Debug("inbound message dropped",
			zap.Uint64("from", uint64(msg.From)),
			zap.Error(err))
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
