package gossip

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ryandielhenn/cyclon/internal/telemetry"
)

func newTestGossiper(t *testing.T, hub *Hub, id NodeID, policy ParticipationPolicy, peers ...NodeID) (*Gossiper, *ChannelTransport) {
	t.Helper()
	tx := hub.Join(id)
	g, err := New(Config{
		NodeID: id,
		Period: 5 * time.Millisecond,
		Jitter: 2 * time.Millisecond,
		Seed:   int64(id),
		Policy: policy,
		Logger: zaptest.NewLogger(t),
	}, tx)
	require.NoError(t, err)
	for _, p := range peers {
		g.AddConn(p)
	}
	return g, tx
}

func recv(t *testing.T, tx *ChannelTransport) GossipMsg {
	t.Helper()
	select {
	case msg := <-tx.Inbox():
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return GossipMsg{}
	}
}

func TestGossiperManualRound(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(8)
	g1, tx1 := newTestGossiper(t, hub, 1, AlwaysParticipate, 2)
	g2, tx2 := newTestGossiper(t, hub, 2, AlwaysParticipate, 3)

	accepted := testutil.ToFloat64(telemetry.ShuffleRequests.WithLabelValues("accepted"))
	applied := testutil.ToFloat64(telemetry.ShuffleResponses.WithLabelValues("applied"))

	require.NoError(t, g1.Tick(ctx))
	req := recv(t, tx2)
	require.Equal(t, MsgPushPullReq, req.Type)

	require.NoError(t, g2.Deliver(ctx, req))
	resp := recv(t, tx1)
	require.Equal(t, MsgPushPullResp, resp.Type)

	require.NoError(t, g1.Deliver(ctx, resp))

	require.Equal(t, []NodeID{3}, g1.View())
	require.Equal(t, []NodeID{1}, g2.View())
	require.Equal(t, accepted+1, testutil.ToFloat64(telemetry.ShuffleRequests.WithLabelValues("accepted")))
	require.Equal(t, applied+1, testutil.ToFloat64(telemetry.ShuffleResponses.WithLabelValues("applied")))
	require.Equal(t, 1.0, testutil.ToFloat64(telemetry.ViewSize.WithLabelValues("1")))
}

func TestGossiperDeclinedRound(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(8)
	g1, tx1 := newTestGossiper(t, hub, 11, AlwaysParticipate, 12)
	g2, tx2 := newTestGossiper(t, hub, 12, NeverParticipate, 13)

	require.NoError(t, g1.Tick(ctx))
	require.NoError(t, g2.Deliver(ctx, recv(t, tx2)))
	resp := recv(t, tx1)
	require.Nil(t, resp.Selected)
	require.NoError(t, g1.Deliver(ctx, resp))

	require.Equal(t, []NodeID{12}, g1.View())
	require.Equal(t, []NodeID{13}, g2.View())
}

func TestGossiperTickSkipped(t *testing.T) {
	hub := NewHub(1)
	g, _ := newTestGossiper(t, hub, 21, NeverParticipate, 22)

	skipped := testutil.ToFloat64(telemetry.ShuffleRounds.WithLabelValues("skipped"))
	require.NoError(t, g.Tick(context.Background()))
	require.Equal(t, skipped+1, testutil.ToFloat64(telemetry.ShuffleRounds.WithLabelValues("skipped")))
}

func TestGossiperTickSendError(t *testing.T) {
	hub := NewHub(1)
	g, _ := newTestGossiper(t, hub, 31, AlwaysParticipate, 99) // 99 never joined

	before := testutil.ToFloat64(telemetry.ShuffleSendErrors.WithLabelValues("request"))
	err := g.Tick(context.Background())
	require.ErrorIs(t, err, ErrUnknownPeer)
	require.Equal(t, before+1, testutil.ToFloat64(telemetry.ShuffleSendErrors.WithLabelValues("request")))
	require.Equal(t, []NodeID{99}, g.View(), "failed send must not change the view")
}

func TestGossiperDeliverRejects(t *testing.T) {
	hub := NewHub(1)
	g, _ := newTestGossiper(t, hub, 41, AlwaysParticipate)

	err := g.Deliver(context.Background(), RequestMsg(Request{From: 1, To: 42}))
	require.ErrorIs(t, err, ErrMisrouted)

	err = g.Deliver(context.Background(), GossipMsg{Type: 9, From: 1, To: 41})
	require.ErrorIs(t, err, ErrUnknownMsgType)
	require.Empty(t, g.View())
}

func TestGossiperEmptyViewSelfExchange(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(4)
	g, tx := newTestGossiper(t, hub, 51, AlwaysParticipate)

	require.NoError(t, g.Tick(ctx))
	req := recv(t, tx)
	require.Equal(t, NodeID(51), req.To)
	require.NoError(t, g.Deliver(ctx, req))
	require.NoError(t, g.Deliver(ctx, recv(t, tx)))

	require.Equal(t, []NodeID{51}, g.View())
}

func TestGossiperStartStop(t *testing.T) {
	hub := NewHub(64)
	ids := []NodeID{61, 62, 63, 64, 65}
	var gs []*Gossiper
	for i, id := range ids {
		g, _ := newTestGossiper(t, hub, id, AlwaysParticipate, ids[(i+1)%len(ids)], ids[(i+2)%len(ids)])
		gs = append(gs, g)
	}

	applied := testutil.ToFloat64(telemetry.ShuffleResponses.WithLabelValues("applied"))
	for _, g := range gs {
		g.Start()
	}
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(telemetry.ShuffleResponses.WithLabelValues("applied")) >= applied+10
	}, 5*time.Second, 10*time.Millisecond)

	for _, g := range gs {
		g.Stop()
		g.Stop()
	}
	// views only ever hold ids that were already in circulation
	for _, g := range gs {
		for _, p := range g.View() {
			require.Contains(t, ids, p)
		}
	}
}

func TestGossiperSeedStopsAtDegree(t *testing.T) {
	hub := NewHub(1)
	g, _ := newTestGossiper(t, hub, 71, NeverParticipate)

	for p := NodeID(100); p < 120; p++ {
		g.Seed(p)
	}
	require.Len(t, g.View(), DefaultDegree)
	require.False(t, g.Seed(100), "already in view")
	require.Equal(t, float64(DefaultDegree), testutil.ToFloat64(telemetry.ViewSize.WithLabelValues("71")))

	require.True(t, g.RemoveConn(100))
	require.False(t, g.RemoveConn(100))
	require.Equal(t, float64(DefaultDegree-1), testutil.ToFloat64(telemetry.ViewSize.WithLabelValues("71")))
	require.True(t, g.Seed(200))
	require.Contains(t, g.View(), NodeID(200))
}

func TestGossiperStartTwice(t *testing.T) {
	hub := NewHub(8)
	g, _ := newTestGossiper(t, hub, 81, NeverParticipate)
	g.Start()
	g.Start()
	g.Stop()
}

func TestGossiperViewSizeGaugeUnderConcurrency(t *testing.T) {
	hub := NewHub(1)
	g, _ := newTestGossiper(t, hub, 91, NeverParticipate)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(base NodeID) {
			defer wg.Done()
			for i := NodeID(0); i < 50; i++ {
				g.AddConn(base + i)
				if i%3 == 0 {
					g.RemoveConn(base + i)
				}
			}
		}(NodeID(1000 * (w + 1)))
	}
	wg.Wait()
	require.Equal(t, float64(len(g.View())), testutil.ToFloat64(telemetry.ViewSize.WithLabelValues("91")))
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{NodeID: 1}, nil)
	require.Error(t, err)

	hub := NewHub(1)
	_, err = New(Config{NodeID: 1, Degree: -1}, hub.Join(1))
	require.Error(t, err)
	_, err = New(Config{NodeID: 1, Jitter: -time.Second}, hub.Join(1))
	require.Error(t, err)

	g, err := New(Config{NodeID: 1}, hub.Join(1))
	require.NoError(t, err)
	require.Equal(t, DefaultDegree, g.Degree())
	require.Equal(t, NodeID(1), g.ID())
}
