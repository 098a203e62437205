// Package sim runs many gossip nodes in one process, delivering every message
// synchronously. It is used to observe how views evolve over rounds.
package sim

import (
	"math"
	"math/rand"

	"github.com/ryandielhenn/cyclon/pkg/gossip"
)

type Options struct {
	// Policy overrides the participation policy of every node.
	Policy gossip.ParticipationPolicy
	// Loss is the probability that any single message is dropped.
	Loss float64
}

// Cluster holds n nodes with ids 0..n-1.
type Cluster struct {
	nodes []*gossip.Node
	rng   *rand.Rand
	loss  float64
	round int
}

func NewCluster(n, degree int, seed int64, opts Options) *Cluster {
	c := &Cluster{
		nodes: make([]*gossip.Node, n),
		rng:   rand.New(rand.NewSource(seed)),
		loss:  min(max(opts.Loss, 0), 1),
	}
	for i := range c.nodes {
		c.nodes[i] = gossip.NewNode(gossip.NodeID(i),
			gossip.WithDegree(degree),
			gossip.WithPolicy(opts.Policy),
			gossip.WithRand(rand.New(rand.NewSource(seed+int64(i)+1))),
		)
	}
	return c
}

func (c *Cluster) Len() int { return len(c.nodes) }

func (c *Cluster) Node(id gossip.NodeID) *gossip.Node {
	return c.nodes[id]
}

// Bootstrap connects node i to its k successors on a ring, i+1 .. i+k.
// k is capped at n-1 so nobody starts with itself in its view.
func (c *Cluster) Bootstrap(k int) {
	n := len(c.nodes)
	k = min(k, n-1)
	for i, node := range c.nodes {
		for j := 1; j <= k; j++ {
			node.AddConn(gossip.NodeID((i + j) % n))
		}
	}
}

type RoundStats struct {
	Round     int
	Initiated int
	Accepted  int
	Declined  int
	Lost      int
}

// Round gives every node, in random order, one chance to start an exchange.
func (c *Cluster) Round() RoundStats {
	c.round++
	rs := RoundStats{Round: c.round}

	for _, i := range c.rng.Perm(len(c.nodes)) {
		req, ok := c.nodes[i].StartPushPull()
		if !ok {
			continue
		}
		rs.Initiated++
		if int(req.To) >= len(c.nodes) || c.dropped() {
			rs.Lost++
			continue
		}

		resp := c.nodes[req.To].HandlePushPullRequest(req)
		if resp.Selected == nil {
			rs.Declined++
		} else {
			rs.Accepted++
		}
		if c.dropped() {
			rs.Lost++
			continue
		}

		c.nodes[resp.To].HandlePushPullResponse(resp)
	}
	return rs
}

func (c *Cluster) dropped() bool {
	return c.loss > 0 && c.rng.Float64() < c.loss
}

type Stats struct {
	Nodes     int
	Edges     int
	SelfLoops int
	Isolated  int // nodes no other node knows about

	MinView  int
	MaxView  int
	MeanView float64

	InDegreeMean   float64
	InDegreeStdDev float64
}

func (c *Cluster) Stats() Stats {
	n := len(c.nodes)
	s := Stats{Nodes: n}
	if n == 0 {
		return s
	}

	in := make([]int, n)
	s.MinView = math.MaxInt
	for _, node := range c.nodes {
		view := node.View()
		s.Edges += len(view)
		s.MinView = min(s.MinView, len(view))
		s.MaxView = max(s.MaxView, len(view))
		for _, p := range view {
			switch {
			case p == node.ID():
				s.SelfLoops++
			case int(p) < n:
				in[p]++
			}
		}
	}
	s.MeanView = float64(s.Edges) / float64(n)

	var sum float64
	for _, d := range in {
		sum += float64(d)
		if d == 0 {
			s.Isolated++
		}
	}
	s.InDegreeMean = sum / float64(n)

	var sq float64
	for _, d := range in {
		diff := float64(d) - s.InDegreeMean
		sq += diff * diff
	}
	s.InDegreeStdDev = math.Sqrt(sq / float64(n))
	return s
}
