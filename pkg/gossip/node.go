package gossip

import (
	"math/rand"
	"time"
)

// DefaultDegree is the target view size used when none is configured.
const DefaultDegree = 4

// Node owns one peer's view and runs the push-pull protocol steps on it.
// A Node is not safe for concurrent use; callers serialize access.
type Node struct {
	id     NodeID
	view   *View
	degree int
	policy ParticipationPolicy
	rng    *rand.Rand
}

type Option func(*Node)

// WithDegree sets the target degree. Non-positive values are ignored.
func WithDegree(d int) Option {
	return func(n *Node) {
		if d > 0 {
			n.degree = d
		}
	}
}

func WithPolicy(p ParticipationPolicy) Option {
	return func(n *Node) {
		if p != nil {
			n.policy = p
		}
	}
}

// WithRand sets the random source used for the gate and for peer selection.
func WithRand(r *rand.Rand) Option {
	return func(n *Node) {
		if r != nil {
			n.rng = r
		}
	}
}

// NewNode returns a node with an empty view.
func NewNode(id NodeID, opts ...Option) *Node {
	n := &Node{
		id:     id,
		view:   NewView(),
		degree: DefaultDegree,
		policy: ProbabilisticPolicy{},
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.rng == nil {
		n.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return n
}

func (n *Node) ID() NodeID     { return n.id }
func (n *Node) Degree() int    { return n.degree }
func (n *Node) ViewSize() int  { return n.view.Len() }
func (n *Node) View() []NodeID { return n.view.Members() }

func (n *Node) Has(peer NodeID) bool {
	return n.view.Contains(peer)
}

// AddConn adds peer to the view and reports whether the view changed.
// The node's own id is accepted like any other peer.
func (n *Node) AddConn(peer NodeID) bool {
	return n.view.Add(peer)
}

// RemoveConn drops peer from the view and reports whether it was present.
func (n *Node) RemoveConn(peer NodeID) bool {
	return n.view.Remove(peer)
}

// ShouldParticipate evaluates the participation gate. The same gate is used
// for initiating and for answering an exchange.
func (n *Node) ShouldParticipate() bool {
	return n.policy.Participate(n.rng, n.view.Len(), n.degree)
}

// pick selects a peer uniformly from the view, falling back to the node's own
// id when the view is empty.
func (n *Node) pick() NodeID {
	if id, ok := n.view.Pick(n.rng); ok {
		return id
	}
	return n.id
}

// StartPushPull decides whether to initiate an exchange and, if so, returns the
// request to send. The view is not modified.
func (n *Node) StartPushPull() (Request, bool) {
	if !n.ShouldParticipate() {
		return Request{}, false
	}
	return Request{From: n.id, To: n.pick()}, true
}

// HandlePushPullRequest answers req. When participating, a peer v3 is picked
// and removed before the requester is inserted, so the requester can never be
// handed straight back, and v3 == req.From is a legitimate outcome.
func (n *Node) HandlePushPullRequest(req Request) Response {
	resp := Response{From: n.id, To: req.From}
	if !n.ShouldParticipate() {
		return resp
	}
	v3 := n.pick()
	n.view.Remove(v3)
	n.view.Add(req.From)
	resp.Selected = &v3
	return resp
}

// HandlePushPullResponse applies the responder's answer. A declined response
// leaves the view untouched.
func (n *Node) HandlePushPullResponse(resp Response) {
	selected, ok := resp.SelectedPeer()
	if !ok {
		return
	}
	n.view.Remove(resp.From)
	n.view.Add(selected)
}
