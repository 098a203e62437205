package node

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/ryandielhenn/cyclon/internal/telemetry"
	"github.com/ryandielhenn/cyclon/pkg/gossip"
)

// Healthz returns 200 OK to indicate the Node is alive.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Info writes a JSON payload describing this node.
func (n *Node) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		ID       gossip.NodeID `json:"id"`
		Addr     string        `json:"addr"`
		Degree   int           `json:"degree"`
		ViewSize int           `json:"view_size"`
		Known    int           `json:"known_addrs"`
		PID      int           `json:"pid"`
		Now      time.Time     `json:"now"`
	}
	writeJSON(w, resp{
		ID:       n.g.ID(),
		Addr:     n.addr,
		Degree:   n.g.Degree(),
		ViewSize: len(n.g.View()),
		Known:    n.book.Len(),
		PID:      os.Getpid(),
		Now:      time.Now(),
	})
}

// ViewPeer is one entry of the /view response. Addr is empty when the peer's
// address is unknown.
type ViewPeer struct {
	ID   gossip.NodeID `json:"id"`
	Addr string        `json:"addr,omitempty"`
}

// View writes the current view with the known address of each peer.
func (n *Node) View(w http.ResponseWriter, _ *http.Request) {
	ids := n.g.View()
	out := make([]ViewPeer, 0, len(ids))
	for _, id := range ids {
		addr, _ := n.book.Addr(id)
		out = append(out, ViewPeer{ID: id, Addr: addr})
	}
	writeJSON(w, out)
}

// Handler wires every endpoint of the node, each instrumented.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", telemetry.Instrument("healthz", http.HandlerFunc(n.Healthz)))
	mux.Handle("/info", telemetry.Instrument("info", http.HandlerFunc(n.Info)))
	mux.Handle("/view", telemetry.Instrument("view", http.HandlerFunc(n.View)))
	mux.Handle(GossipPath, telemetry.Instrument("gossip", n.tx))
	mux.Handle("/metrics", telemetry.MetricsHandler())
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
