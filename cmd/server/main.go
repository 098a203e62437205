package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/cyclon/discovery"
	"github.com/ryandielhenn/cyclon/internal/config"
	"github.com/ryandielhenn/cyclon/internal/telemetry"
	"github.com/ryandielhenn/cyclon/pkg/addrbook"
	"github.com/ryandielhenn/cyclon/pkg/gossip"
	"github.com/ryandielhenn/cyclon/pkg/node"
)

const envPrefix = "SHUFFLE"

var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "cyclon",
		Short:         "Push-pull membership shuffling node",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return v.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromViper(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	config.SetDefaults(v)

	d := config.Default()
	f := cmd.Flags()
	f.String(config.KeyNodeID, "", "numeric id of this node")
	f.String(config.KeyListenAddr, d.ListenAddr, "HTTP listen address")
	f.String(config.KeyAdvertiseAddr, "", "host:port peers use to reach this node")
	f.Int(config.KeyDegree, d.Degree, "target view size")
	f.Duration(config.KeyPeriod, d.Period, "time between shuffle rounds")
	f.Duration(config.KeyJitter, d.Jitter, "maximum random delay added to each round")
	f.Int(config.KeyInboxSize, d.InboxSize, "inbound message queue size")
	f.String(config.KeySeeds, "", "static seed peers, id=addr,...")
	f.String(config.KeyEtcdEndpoints, "", "comma-separated etcd endpoints; empty disables discovery")
	f.String(config.KeyEtcdPrefix, d.EtcdPrefix, "etcd key prefix for node registrations")
	f.Int64(config.KeyLeaseTTL, d.LeaseTTL, "etcd registration lease in seconds")
	f.String(config.KeyLogLevel, d.LogLevel, "log level: debug, info, warn, error")
	f.Bool(config.KeyLogDevelopment, false, "human readable logs")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s (%s)\n", version, gitSHA)
		},
	})
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger = logger.With(zap.Uint64("node", uint64(cfg.NodeID)))
	telemetry.SetBuildInfo(version, gitSHA)

	// 1. Gossiper over HTTP
	book := addrbook.New()
	tx := node.NewHTTPTransport(cfg.NodeID, book, &http.Client{Timeout: 5 * time.Second}, cfg.InboxSize, logger)
	g, err := gossip.New(gossip.Config{
		NodeID: cfg.NodeID,
		Degree: cfg.Degree,
		Period: cfg.Period,
		Jitter: cfg.Jitter,
		Logger: logger,
	}, tx)
	if err != nil {
		return err
	}
	n := node.NewNode(g, book, tx, cfg.AdvertiseAddr)

	// 2. Static seeds
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	if len(cfg.Seeds) > 0 {
		seeds := make(map[gossip.NodeID]string, len(cfg.Seeds))
		for _, p := range cfg.Seeds {
			seeds[p.ID] = node.NormalizeHostPort(p.Addr, node.DefaultPort)
		}
		seeded := n.Bootstrap(seeds, rng)
		logger.Info("seeded from static peers", zap.Int("known", len(seeds)), zap.Int("in_view", seeded))
	}

	grp, ctx := errgroup.WithContext(ctx)

	// 3. etcd bootstrap, registration and watch
	if len(cfg.EtcdEndpoints) > 0 {
		cli, err := discovery.NewClient(cfg.EtcdEndpoints)
		if err != nil {
			return fmt.Errorf("etcd client: %w", err)
		}
		defer cli.Close()

		peers, rev, err := discovery.ListPeers(ctx, cli, cfg.EtcdPrefix)
		if err != nil {
			return fmt.Errorf("list peers: %w", err)
		}
		for id, addr := range peers {
			peers[id] = node.NormalizeHostPort(addr, node.DefaultPort)
		}
		seeded := n.Bootstrap(peers, rng)
		logger.Info("bootstrapped from etcd", zap.Int("known", len(peers)), zap.Int("in_view", seeded))

		leaseID, cancel, err := discovery.RegisterNode(ctx, cli, cfg.EtcdPrefix, cfg.NodeID, n.Addr(), cfg.LeaseTTL)
		if err != nil {
			return fmt.Errorf("register: %w", err)
		}
		defer func() {
			cancel()
			rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer rcancel()
			_, _ = cli.Revoke(rctx, leaseID)
		}()
		logger.Info("registered with etcd", zap.Strings("endpoints", cfg.EtcdEndpoints))

		grp.Go(func() error {
			discovery.WatchPeers(ctx, cli, cfg.EtcdPrefix, rev, n, logger)
			return nil
		})
	}

	// 4. HTTP endpoints
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           n.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	grp.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr), zap.String("advertise", n.Addr()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// 5. Shuffle rounds until shutdown
	g.Start()
	grp.Go(func() error {
		<-ctx.Done()
		g.Stop()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return grp.Wait()
}
