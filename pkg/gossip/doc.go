// Package gossip implements a push-pull membership shuffling protocol for
// cyclon. Every node keeps a small, randomized partial view of its peers and
// periodically swaps one entry of that view with a randomly chosen neighbour,
// which keeps views bounded and lets the overlay heal itself without a
// coordinator.
//
// Node holds the protocol state and the three protocol operations. It is
// synchronous and not safe for concurrent use. Gossiper wraps a Node with a
// scheduler, a Transport and a mutex so it can be run inside a daemon.
//
// Typical usage:
//
//	hub := gossip.NewHub(64)
//	g, _ := gossip.New(gossip.Config{NodeID: 1}, hub.Join(1))
//	g.AddConn(2)
//	g.Start()
//	defer g.Stop()
//
// The in-process channel transport is meant for tests and simulations;
// deployments use the HTTP transport from pkg/node.
package gossip
