package gossip

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/cyclon/internal/telemetry"
)

var (
	ErrMisrouted      = errors.New("gossip: message addressed to another node")
	ErrUnknownMsgType = errors.New("gossip: unknown message type")
)

const (
	defaultPeriod = time.Second
	sendTimeout   = 2 * time.Second
)

// Config configures a Gossiper.
type Config struct {
	NodeID NodeID
	Degree int           // target view size, DefaultDegree when zero
	Period time.Duration // time between rounds
	Jitter time.Duration // extra random delay in [0, Jitter) added to each round
	Seed   int64         // random seed, time based when zero
	Policy ParticipationPolicy
	Logger *zap.Logger
}

// Gossiper runs a Node: it schedules rounds, dispatches incoming messages and
// serializes every access to the node's view.
type Gossiper struct {
	cfg    Config
	tx     Transport
	logger *zap.Logger
	label  string

	mu   sync.Mutex
	node *Node

	jitter *rand.Rand // tick loop only

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	start  sync.Once
	stop   sync.Once
}

func New(cfg Config, tx Transport) (*Gossiper, error) {
	if tx == nil {
		return nil, errors.New("gossip: nil transport")
	}
	if cfg.Degree < 0 {
		return nil, fmt.Errorf("gossip: negative degree %d", cfg.Degree)
	}
	if cfg.Jitter < 0 {
		return nil, fmt.Errorf("gossip: negative jitter %s", cfg.Jitter)
	}
	if cfg.Period <= 0 {
		cfg.Period = defaultPeriod
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gossiper{
		cfg:    cfg,
		tx:     tx,
		logger: logger.With(zap.Uint64("node", uint64(cfg.NodeID))),
		label:  strconv.FormatUint(uint64(cfg.NodeID), 10),
		node: NewNode(cfg.NodeID,
			WithDegree(cfg.Degree),
			WithPolicy(cfg.Policy),
			WithRand(rand.New(rand.NewSource(cfg.Seed))),
		),
		jitter: rand.New(rand.NewSource(cfg.Seed ^ 0x5deece66d)),
		ctx:    ctx,
		cancel: cancel,
	}
	g.recordViewSizeLocked()
	return g, nil
}

func (g *Gossiper) ID() NodeID { return g.cfg.NodeID }

func (g *Gossiper) Degree() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.node.Degree()
}

// AddConn seeds the view with peer.
func (g *Gossiper) AddConn(peer NodeID) bool {
	g.mu.Lock()
	added := g.node.AddConn(peer)
	g.recordViewSizeLocked()
	g.mu.Unlock()

	if added {
		g.logger.Debug("peer added", zap.Uint64("peer", uint64(peer)))
	}
	return added
}

// Seed adds peer only while the view is below the target degree. It is the
// entry point for bootstrap and discovery, which may know far more nodes than
// a partial view should hold.
func (g *Gossiper) Seed(peer NodeID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.node.ViewSize() >= g.node.Degree() || g.node.Has(peer) {
		return false
	}
	g.node.AddConn(peer)
	g.recordViewSizeLocked()
	g.logger.Debug("peer seeded", zap.Uint64("peer", uint64(peer)))
	return true
}

// RemoveConn drops peer from the view, for peers known to have left.
func (g *Gossiper) RemoveConn(peer NodeID) bool {
	g.mu.Lock()
	removed := g.node.RemoveConn(peer)
	g.recordViewSizeLocked()
	g.mu.Unlock()

	if removed {
		g.logger.Debug("peer removed", zap.Uint64("peer", uint64(peer)))
	}
	return removed
}

// View returns a sorted snapshot of the current view.
func (g *Gossiper) View() []NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.node.View()
}

// Start launches the round scheduler and the inbox dispatcher. Later calls
// are no-ops.
func (g *Gossiper) Start() {
	g.start.Do(func() {
		g.wg.Add(2)
		go g.tickLoop()
		go g.inboxLoop()
		g.logger.Info("gossiper started",
			zap.Duration("period", g.cfg.Period),
			zap.Duration("jitter", g.cfg.Jitter),
			zap.Int("degree", g.Degree()))
	})
}

// Stop halts both loops and closes the transport. It is safe to call more
// than once.
func (g *Gossiper) Stop() {
	g.stop.Do(func() {
		g.cancel()
		if err := g.tx.Close(); err != nil {
			g.logger.Warn("closing transport", zap.Error(err))
		}
		g.wg.Wait()
		g.logger.Info("gossiper stopped")
	})
}

func (g *Gossiper) tickLoop() {
	defer g.wg.Done()
	t := time.NewTimer(g.nextDelay())
	defer t.Stop()

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(g.ctx, sendTimeout)
			if err := g.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				g.logger.Warn("round failed", zap.Error(err))
			}
			cancel()
			t.Reset(g.nextDelay())
		}
	}
}

func (g *Gossiper) nextDelay() time.Duration {
	d := g.cfg.Period
	if g.cfg.Jitter > 0 {
		d += time.Duration(g.jitter.Int63n(int64(g.cfg.Jitter)))
	}
	return d
}

func (g *Gossiper) inboxLoop() {
	defer g.wg.Done()
	in := g.tx.Inbox()
	for {
		select {
		case <-g.ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(g.ctx, sendTimeout)
			if err := g.Deliver(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
				g.logger.Warn("dropping message",
					zap.Stringer("type", msg.Type),
					zap.Uint64("from", uint64(msg.From)),
					zap.Error(err))
			}
			cancel()
		}
	}
}

// Tick runs one scheduler invocation: the node may start an exchange, in which
// case the request is handed to the transport.
func (g *Gossiper) Tick(ctx context.Context) error {
	g.mu.Lock()
	req, ok := g.node.StartPushPull()
	g.mu.Unlock()

	if !ok {
		telemetry.ShuffleRounds.WithLabelValues("skipped").Inc()
		return nil
	}
	telemetry.ShuffleRounds.WithLabelValues("initiated").Inc()
	g.logger.Debug("starting exchange", zap.Uint64("peer", uint64(req.To)))

	if err := g.tx.Send(ctx, req.To, RequestMsg(req)); err != nil {
		telemetry.ShuffleSendErrors.WithLabelValues("request").Inc()
		return fmt.Errorf("send request to %d: %w", req.To, err)
	}
	return nil
}

// Deliver processes a message that arrived from the transport.
func (g *Gossiper) Deliver(ctx context.Context, msg GossipMsg) error {
	if msg.To != g.cfg.NodeID {
		return fmt.Errorf("%w: to=%d self=%d", ErrMisrouted, msg.To, g.cfg.NodeID)
	}

	switch msg.Type {
	case MsgPushPullReq:
		return g.handleRequest(ctx, msg.Request())
	case MsgPushPullResp:
		g.handleResponse(msg.Response())
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownMsgType, msg.Type)
	}
}

func (g *Gossiper) handleRequest(ctx context.Context, req Request) error {
	g.mu.Lock()
	resp := g.node.HandlePushPullRequest(req)
	g.recordViewSizeLocked()
	g.mu.Unlock()

	if sel, ok := resp.SelectedPeer(); ok {
		telemetry.ShuffleRequests.WithLabelValues("accepted").Inc()
		g.logger.Debug("accepted exchange",
			zap.Uint64("peer", uint64(req.From)),
			zap.Uint64("selected", uint64(sel)))
	} else {
		telemetry.ShuffleRequests.WithLabelValues("declined").Inc()
		g.logger.Debug("declined exchange", zap.Uint64("peer", uint64(req.From)))
	}

	if err := g.tx.Send(ctx, resp.To, ResponseMsg(resp)); err != nil {
		telemetry.ShuffleSendErrors.WithLabelValues("response").Inc()
		return fmt.Errorf("send response to %d: %w", resp.To, err)
	}
	return nil
}

func (g *Gossiper) handleResponse(resp Response) {
	g.mu.Lock()
	g.node.HandlePushPullResponse(resp)
	g.recordViewSizeLocked()
	g.mu.Unlock()

	sel, ok := resp.SelectedPeer()
	if !ok {
		telemetry.ShuffleResponses.WithLabelValues("declined").Inc()
		return
	}
	telemetry.ShuffleResponses.WithLabelValues("applied").Inc()
	g.logger.Debug("exchange applied",
		zap.Uint64("peer", uint64(resp.From)),
		zap.Uint64("selected", uint64(sel)))
}

// recordViewSizeLocked publishes the view size; g.mu must be held so the
// gauge never lags behind a concurrent update.
func (g *Gossiper) recordViewSizeLocked() {
	telemetry.ViewSize.WithLabelValues(g.label).Set(float64(g.node.ViewSize()))
}
