package node

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ryandielhenn/cyclon/pkg/addrbook"
	"github.com/ryandielhenn/cyclon/pkg/gossip"
)

type testNode struct {
	*Node
	g    *gossip.Gossiper
	tx   *HTTPTransport
	book *addrbook.Book
	srv  *httptest.Server
}

func startNode(t *testing.T, id gossip.NodeID, policy gossip.ParticipationPolicy) *testNode {
	t.Helper()
	logger := zaptest.NewLogger(t)
	book := addrbook.New()
	tx := NewHTTPTransport(id, book, nil, 8, logger)
	g, err := gossip.New(gossip.Config{NodeID: id, Policy: policy, Seed: int64(id), Logger: logger}, tx)
	require.NoError(t, err)

	tn := &testNode{g: g, tx: tx, book: book}
	srv := httptest.NewUnstartedServer(nil)
	tn.Node = NewNode(g, book, tx, srv.Listener.Addr().String())
	srv.Config.Handler = tn.Handler()
	srv.Start()
	tn.srv = srv
	t.Cleanup(srv.Close)
	return tn
}

func next(t *testing.T, tx *HTTPTransport) gossip.GossipMsg {
	t.Helper()
	select {
	case msg := <-tx.Inbox():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message in inbox")
		return gossip.GossipMsg{}
	}
}

func TestRoundOverHTTP(t *testing.T) {
	ctx := context.Background()
	a := startNode(t, 1, gossip.AlwaysParticipate)
	b := startNode(t, 2, gossip.AlwaysParticipate)

	require.True(t, a.AddPeer(2, b.srv.URL))
	require.True(t, b.g.AddConn(3))
	b.book.Add(1, a.srv.URL)

	require.NoError(t, a.g.Tick(ctx))
	require.NoError(t, b.g.Deliver(ctx, next(t, b.tx)))
	require.NoError(t, a.g.Deliver(ctx, next(t, a.tx)))

	require.Equal(t, []gossip.NodeID{3}, a.g.View())
	require.Equal(t, []gossip.NodeID{1}, b.g.View())
}

func TestSendUnknownPeer(t *testing.T) {
	a := startNode(t, 1, gossip.AlwaysParticipate)
	err := a.tx.Send(context.Background(), 7, gossip.RequestMsg(gossip.Request{From: 1, To: 7}))
	require.ErrorIs(t, err, gossip.ErrUnknownPeer)
}

func TestSendToSelfLoopsBack(t *testing.T) {
	a := startNode(t, 1, gossip.AlwaysParticipate)
	msg := gossip.RequestMsg(gossip.Request{From: 1, To: 1})
	require.NoError(t, a.tx.Send(context.Background(), 1, msg))
	require.Equal(t, msg, next(t, a.tx))
}

func TestGossipEndpointRejects(t *testing.T) {
	a := startNode(t, 1, gossip.AlwaysParticipate)
	url := a.srv.URL + GossipPath

	resp, err := http.Get(url)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(url, contentType, bytes.NewReader([]byte{0xff}))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	misrouted := gossip.Marshal(gossip.RequestMsg(gossip.Request{From: 5, To: 6}))
	resp, err = http.Post(url, contentType, bytes.NewReader(misrouted))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMisdirectedRequest, resp.StatusCode)

	resp, err = http.Post(url, contentType, bytes.NewReader(make([]byte, maxMessageSize+1)))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestGossipEndpointInboxFull(t *testing.T) {
	a := startNode(t, 1, gossip.AlwaysParticipate)
	b := startNode(t, 2, gossip.AlwaysParticipate)
	a.book.Add(2, b.srv.URL)

	msg := gossip.RequestMsg(gossip.Request{From: 1, To: 2})
	for range cap(b.tx.inbox) {
		require.NoError(t, a.tx.Send(context.Background(), 2, msg))
	}
	err := a.tx.Send(context.Background(), 2, msg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}

func TestTransportClose(t *testing.T) {
	a := startNode(t, 1, gossip.AlwaysParticipate)
	require.NoError(t, a.tx.Close())
	require.NoError(t, a.tx.Close())

	err := a.tx.Send(context.Background(), 1, gossip.RequestMsg(gossip.Request{From: 1, To: 1}))
	require.ErrorIs(t, err, gossip.ErrTransportClosed)

	body := gossip.Marshal(gossip.RequestMsg(gossip.Request{From: 2, To: 1}))
	resp, err := http.Post(a.srv.URL+GossipPath, contentType, bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandlers(t *testing.T) {
	a := startNode(t, 1, gossip.NeverParticipate)
	a.AddPeer(2, "peer2:9000")
	a.AddPeer(3, "")
	require.False(t, a.AddPeer(1, a.Addr()), "own id is never seeded into the view")

	rec := httptest.NewRecorder()
	a.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	a.Info(rec, httptest.NewRequest(http.MethodGet, "/info", nil))
	var info struct {
		ID       gossip.NodeID `json:"id"`
		Degree   int           `json:"degree"`
		ViewSize int           `json:"view_size"`
		Known    int           `json:"known_addrs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Equal(t, gossip.NodeID(1), info.ID)
	require.Equal(t, gossip.DefaultDegree, info.Degree)
	require.Equal(t, 2, info.ViewSize)
	require.Equal(t, 2, info.Known) // self + peer2

	rec = httptest.NewRecorder()
	a.View(rec, httptest.NewRequest(http.MethodGet, "/view", nil))
	var view []ViewPeer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, []ViewPeer{{ID: 2, Addr: "peer2:9000"}, {ID: 3}}, view)

	a.RemovePeer(2)
	a.RemovePeer(1)
	_, ok := a.book.Addr(2)
	require.False(t, ok)
	_, ok = a.book.Addr(1)
	require.True(t, ok, "own address must survive RemovePeer")
	require.Equal(t, []gossip.NodeID{3}, a.g.View())
}

func TestAddPeerCapsViewAtDegree(t *testing.T) {
	a := startNode(t, 1, gossip.NeverParticipate)
	for id := gossip.NodeID(2); id <= 101; id++ {
		a.AddPeer(id, "peer:9000")
	}
	require.Len(t, a.g.View(), gossip.DefaultDegree)
	require.Equal(t, 101, a.book.Len(), "every address is still recorded")

	// a departure frees a slot for the next registration
	a.RemovePeer(a.g.View()[0])
	require.True(t, a.AddPeer(200, "peer200:9000"))
	require.Len(t, a.g.View(), gossip.DefaultDegree)
}

func TestBootstrapSamplesPeers(t *testing.T) {
	peers := make(map[gossip.NodeID]string)
	for id := gossip.NodeID(2); id <= 41; id++ {
		peers[id] = "peer:9000"
	}

	seen := make(map[gossip.NodeID]bool)
	for seed := int64(1); seed <= 20; seed++ {
		a := startNode(t, 1, gossip.NeverParticipate)
		got := a.Bootstrap(peers, rand.New(rand.NewSource(seed)))
		require.Equal(t, gossip.DefaultDegree, got)
		require.Len(t, a.g.View(), gossip.DefaultDegree)
		require.Equal(t, len(peers)+1, a.book.Len())
		for _, id := range a.g.View() {
			seen[id] = true
		}
	}
	// map order would keep picking from the same few ids
	require.Greater(t, len(seen), 2*gossip.DefaultDegree)
}

func TestHandlerRoutes(t *testing.T) {
	a := startNode(t, 1, gossip.NeverParticipate)
	for _, path := range []string{"/healthz", "/info", "/view", "/metrics"} {
		resp, err := http.Get(a.srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
