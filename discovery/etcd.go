// Package discovery bootstraps views from etcd. Each node registers
// <prefix>/<id> -> addr under a lease, and peers are listed and watched under
// the same prefix.
package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/cyclon/pkg/gossip"
)

const DefaultPrefix = "/cyclon/nodes"

// PeerHandler receives membership changes seen in etcd.
type PeerHandler interface {
	AddPeer(id gossip.NodeID, addr string) bool
	RemovePeer(id gossip.NodeID)
}

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

func PeerKey(prefix string, id gossip.NodeID) string {
	return strings.TrimSuffix(prefix, "/") + "/" + strconv.FormatUint(uint64(id), 10)
}

// ParsePeerKey extracts the node id from a key written by RegisterNode.
func ParsePeerKey(prefix, key string) (gossip.NodeID, bool) {
	rest, ok := strings.CutPrefix(key, strings.TrimSuffix(prefix, "/")+"/")
	if !ok || rest == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return gossip.NodeID(id), true
}

// RegisterNode publishes addr under a lease with ttl seconds and keeps the
// lease alive until the returned cancel func is called.
func RegisterNode(ctx context.Context, cli *clientv3.Client, prefix string, id gossip.NodeID, addr string, ttl int64) (clientv3.LeaseID, context.CancelFunc, error) {
	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		return 0, nil, fmt.Errorf("grant lease: %w", err)
	}
	if _, err := cli.Put(ctx, PeerKey(prefix, id), addr, clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, fmt.Errorf("register %d: %w", id, err)
	}

	kctx, cancel := context.WithCancel(context.Background())
	ch, err := cli.KeepAlive(kctx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, fmt.Errorf("keepalive: %w", err)
	}
	go func() {
		for range ch {
		}
	}()

	return lease.ID, cancel, nil
}

// ListPeers returns every registered node and the revision the listing was
// taken at, for use with WatchPeers.
func ListPeers(ctx context.Context, cli *clientv3.Client, prefix string) (map[gossip.NodeID]string, int64, error) {
	resp, err := cli.Get(ctx, strings.TrimSuffix(prefix, "/")+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, 0, err
	}
	return peersFromKVs(prefix, resp.Kvs), resp.Header.Revision, nil
}

// WatchPeers applies registrations and departures after rev to h until ctx is
// done or the watch channel closes.
func WatchPeers(ctx context.Context, cli *clientv3.Client, prefix string, rev int64, h PeerHandler, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []clientv3.OpOption{clientv3.WithPrefix()}
	if rev > 0 {
		opts = append(opts, clientv3.WithRev(rev+1))
	}

	for wresp := range cli.Watch(ctx, strings.TrimSuffix(prefix, "/")+"/", opts...) {
		if err := wresp.Err(); err != nil {
			logger.Warn("peer watch", zap.Error(err))
			continue
		}
		applyEvents(prefix, wresp.Events, h, logger)
	}
}

func peersFromKVs(prefix string, kvs []*mvccpb.KeyValue) map[gossip.NodeID]string {
	peers := make(map[gossip.NodeID]string, len(kvs))
	for _, kv := range kvs {
		id, ok := ParsePeerKey(prefix, string(kv.Key))
		if !ok {
			continue
		}
		peers[id] = string(kv.Value)
	}
	return peers
}

func applyEvents(prefix string, events []*clientv3.Event, h PeerHandler, logger *zap.Logger) {
	for _, ev := range events {
		id, ok := ParsePeerKey(prefix, string(ev.Kv.Key))
		if !ok {
			logger.Debug("ignoring foreign key", zap.ByteString("key", ev.Kv.Key))
			continue
		}
		switch ev.Type {
		case mvccpb.PUT:
			addr := string(ev.Kv.Value)
			added := h.AddPeer(id, addr)
			logger.Info("peer registered", zap.Uint64("peer", uint64(id)), zap.String("addr", addr), zap.Bool("seeded", added))
		case mvccpb.DELETE:
			h.RemovePeer(id)
			logger.Info("peer left", zap.Uint64("peer", uint64(id)))
		}
	}
}
