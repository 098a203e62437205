// Package config holds the daemon configuration and reads it from viper, which
// merges command line flags with SHUFFLE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ryandielhenn/cyclon/discovery"
	"github.com/ryandielhenn/cyclon/pkg/gossip"
)

// Keys understood by FromViper. Flags use the same names; environment
// variables are upper-cased with dashes turned into underscores.
const (
	KeyNodeID         = "node-id"
	KeyListenAddr     = "listen-addr"
	KeyAdvertiseAddr  = "advertise-addr"
	KeyDegree         = "degree"
	KeyPeriod         = "period"
	KeyJitter         = "jitter"
	KeyInboxSize      = "inbox-size"
	KeySeeds          = "seeds"
	KeyEtcdEndpoints  = "etcd-endpoints"
	KeyEtcdPrefix     = "etcd-prefix"
	KeyLeaseTTL       = "lease-ttl"
	KeyLogLevel       = "log-level"
	KeyLogDevelopment = "log-dev"
)

// Peer is a statically configured seed.
type Peer struct {
	ID   gossip.NodeID
	Addr string
}

type Config struct {
	NodeID        gossip.NodeID
	ListenAddr    string
	AdvertiseAddr string

	Degree    int
	Period    time.Duration
	Jitter    time.Duration
	InboxSize int
	Seeds     []Peer

	EtcdEndpoints []string
	EtcdPrefix    string
	LeaseTTL      int64

	LogLevel       string
	LogDevelopment bool
}

func Default() Config {
	return Config{
		ListenAddr: ":8080",
		Degree:     gossip.DefaultDegree,
		Period:     time.Second,
		Jitter:     200 * time.Millisecond,
		InboxSize:  64,
		EtcdPrefix: discovery.DefaultPrefix,
		LeaseTTL:   10,
		LogLevel:   "info",
	}
}

// SetDefaults registers Default() on v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyListenAddr, d.ListenAddr)
	v.SetDefault(KeyDegree, d.Degree)
	v.SetDefault(KeyPeriod, d.Period)
	v.SetDefault(KeyJitter, d.Jitter)
	v.SetDefault(KeyInboxSize, d.InboxSize)
	v.SetDefault(KeyEtcdPrefix, d.EtcdPrefix)
	v.SetDefault(KeyLeaseTTL, d.LeaseTTL)
	v.SetDefault(KeyLogLevel, d.LogLevel)
}

// FromViper builds and validates a Config.
func FromViper(v *viper.Viper) (Config, error) {
	c := Default()

	id, err := ParseNodeID(v.GetString(KeyNodeID))
	if err != nil {
		return Config{}, err
	}
	c.NodeID = id

	if s := v.GetString(KeyListenAddr); s != "" {
		c.ListenAddr = s
	}
	c.AdvertiseAddr = v.GetString(KeyAdvertiseAddr)
	if v.IsSet(KeyDegree) {
		c.Degree = v.GetInt(KeyDegree)
	}
	if v.IsSet(KeyPeriod) {
		c.Period = v.GetDuration(KeyPeriod)
	}
	if v.IsSet(KeyJitter) {
		c.Jitter = v.GetDuration(KeyJitter)
	}
	if v.IsSet(KeyInboxSize) {
		c.InboxSize = v.GetInt(KeyInboxSize)
	}

	if c.Seeds, err = ParsePeers(v.GetString(KeySeeds)); err != nil {
		return Config{}, err
	}
	c.EtcdEndpoints = splitList(v.GetString(KeyEtcdEndpoints))
	if s := v.GetString(KeyEtcdPrefix); s != "" {
		c.EtcdPrefix = s
	}
	if v.IsSet(KeyLeaseTTL) {
		c.LeaseTTL = v.GetInt64(KeyLeaseTTL)
	}

	if s := v.GetString(KeyLogLevel); s != "" {
		c.LogLevel = s
	}
	c.LogDevelopment = v.GetBool(KeyLogDevelopment)

	return c, c.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.AdvertiseAddr == "" {
		errs = append(errs, errors.New("advertise address is required"))
	}
	if c.Degree <= 0 {
		errs = append(errs, fmt.Errorf("degree must be positive, got %d", c.Degree))
	}
	if c.Period <= 0 {
		errs = append(errs, fmt.Errorf("period must be positive, got %s", c.Period))
	}
	if c.Jitter < 0 {
		errs = append(errs, fmt.Errorf("jitter must not be negative, got %s", c.Jitter))
	}
	if c.InboxSize < 1 {
		errs = append(errs, fmt.Errorf("inbox size must be at least 1, got %d", c.InboxSize))
	}
	if len(c.EtcdEndpoints) > 0 && c.LeaseTTL <= 0 {
		errs = append(errs, fmt.Errorf("lease ttl must be positive, got %d", c.LeaseTTL))
	}
	return errors.Join(errs...)
}

func ParseNodeID(s string) (gossip.NodeID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("node id is required")
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	return gossip.NodeID(id), nil
}

// ParsePeers parses a comma-separated list of peers in the format:
// "1=host1:8080,2=host2:8080"
func ParsePeers(peersStr string) ([]Peer, error) {
	parts := splitList(peersStr)
	peers := make([]Peer, 0, len(parts))

	for _, part := range parts {
		idStr, addr, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid peer format: %s (expected id=addr)", part)
		}
		addr = strings.TrimSpace(addr)
		if addr == "" {
			return nil, fmt.Errorf("peer address cannot be empty: %s", part)
		}
		id, err := ParseNodeID(idStr)
		if err != nil {
			return nil, fmt.Errorf("peer %s: %w", part, err)
		}
		peers = append(peers, Peer{ID: id, Addr: addr})
	}

	return peers, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
