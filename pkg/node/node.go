// Package node exposes a gossiper over HTTP: the gossip transport endpoint
// plus a few operational handlers.
package node

import (
	"math/rand"
	"slices"

	"github.com/ryandielhenn/cyclon/pkg/addrbook"
	"github.com/ryandielhenn/cyclon/pkg/gossip"
)

type Node struct {
	g    *gossip.Gossiper
	book *addrbook.Book
	tx   *HTTPTransport
	addr string
}

func NewNode(g *gossip.Gossiper, book *addrbook.Book, tx *HTTPTransport, addr string) *Node {
	n := &Node{
		g:    g,
		book: book,
		tx:   tx,
		addr: addr,
	}
	book.Add(g.ID(), addr)
	return n
}

// AddPeer records the peer's address and seeds it into the view while the
// view is below the target degree. It reports whether the view changed. The
// node's own id only refreshes the address.
func (n *Node) AddPeer(id gossip.NodeID, hostport string) bool {
	n.book.Add(id, hostport)
	if id == n.g.ID() {
		return false
	}
	return n.g.Seed(id)
}

// Bootstrap records every peer and seeds the view from a random sample of
// them. It returns the number of peers that entered the view.
func (n *Node) Bootstrap(peers map[gossip.NodeID]string, rng *rand.Rand) int {
	ids := make([]gossip.NodeID, 0, len(peers))
	for id := range peers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	seeded := 0
	for _, id := range ids {
		if n.AddPeer(id, peers[id]) {
			seeded++
		}
	}
	return seeded
}

// RemovePeer forgets a departed peer: its address and its view entry.
func (n *Node) RemovePeer(id gossip.NodeID) {
	if id == n.g.ID() {
		return
	}
	n.book.Remove(id)
	n.g.RemoveConn(id)
}

func (n *Node) Addr() string {
	return n.addr
}

func (n *Node) ID() gossip.NodeID {
	return n.g.ID()
}
