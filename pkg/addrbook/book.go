// Package addrbook resolves node ids to network addresses. It is independent
// of a node's view: the view decides who to talk to, the book decides where
// they live.
package addrbook

import (
	"maps"
	"slices"
	"sync"

	"github.com/ryandielhenn/cyclon/pkg/gossip"
)

type Book struct {
	mu    sync.RWMutex
	addrs map[gossip.NodeID]string // id -> host:port
}

func New() *Book {
	return &Book{addrs: make(map[gossip.NodeID]string)}
}

// Add records addr for id and reports whether the entry is new or changed.
// Empty addresses are ignored.
func (b *Book) Add(id gossip.NodeID, addr string) bool {
	if addr == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.addrs[id]; ok && cur == addr {
		return false
	}
	b.addrs[id] = addr
	return true
}

func (b *Book) Remove(id gossip.NodeID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.addrs[id]; !ok {
		return false
	}
	delete(b.addrs, id)
	return true
}

func (b *Book) Addr(id gossip.NodeID) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a, ok := b.addrs[id]
	return a, ok
}

func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.addrs)
}

// Nodes returns a copy of every entry.
func (b *Book) Nodes() map[gossip.NodeID]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.addrs)
}

// IDs returns the known ids in ascending order.
func (b *Book) IDs() []gossip.NodeID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Sorted(maps.Keys(b.addrs))
}

// Clear drops every entry except keep, if present.
func (b *Book) Clear(keep ...gossip.NodeID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id := range b.addrs {
		if !slices.Contains(keep, id) {
			delete(b.addrs, id)
		}
	}
}
