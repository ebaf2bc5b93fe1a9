package node

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quoin-dev/scuttle/pkg/config"
	"github.com/quoin-dev/scuttle/pkg/gossip"
	"github.com/quoin-dev/scuttle/pkg/log"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "start a cluster member",
		Long: `Start a cluster member.

A node gossips its local key/value entries with the rest of the cluster using
an anti-entropy protocol. Membership and liveness changes are not logged as
they happen; with --node.status-interval set, the known membership (including
left/unreachable flags) is logged periodically.

Examples:
  # Start a standalone node.
  scuttle node --node.gossip.bind-addr :7946

  # Start a node and join an existing cluster.
  scuttle node --node.gossip.bind-addr :7946 --node.join 10.26.104.11:7946
`,
	}

	var nodeID string
	var join []string
	var gracePeriodSeconds int
	var statusInterval time.Duration

	gossipConf := gossip.Config{
		BindAddr:      ":7946",
		Interval:      time.Second,
		MaxPacketSize: 1400,
		GracePeriod:   10000,
		GCInterval:    time.Minute,
	}
	logConf := log.Config{
		Level: "info",
	}
	fileConf := config.Config{}

	cmd.Flags().StringVar(
		&nodeID,
		"node.id",
		"",
		`
Unique identifier for this node. Defaults to a randomly generated UUID.`,
	)
	cmd.Flags().StringSliceVar(
		&join,
		"node.join",
		nil,
		`
Addresses of existing cluster members to contact on startup in order to join
the cluster.

Addresses may be IP addresses or domain names, and a domain may resolve to
multiple members. If the port is omitted the gossip bind port is used.`,
	)
	cmd.Flags().IntVar(
		&gracePeriodSeconds,
		"node.grace-period-seconds",
		30,
		`
Maximum number of seconds after a shutdown signal is received (SIGTERM or
SIGINT) to notify the cluster this node is leaving before terminating
anyway.`,
	)
	cmd.Flags().DurationVar(
		&statusInterval,
		"node.status-interval",
		0,
		`
If non-zero, periodically logs a snapshot of the known cluster state at this
interval. Intended for local debugging; see also 'scuttle keys'.`,
	)

	gossipConf.RegisterFlags(cmd.Flags(), "node")
	logConf.RegisterFlags(cmd.Flags())
	fileConf.RegisterFlags(cmd.Flags())

	cmd.Run = func(cmd *cobra.Command, args []string) {
		if err := fileConf.Load(&gossipConf); err != nil {
			fmt.Printf("failed to load config: %s\n", err.Error())
			os.Exit(1)
		}

		if nodeID == "" {
			nodeID = uuid.NewString()
		}

		if err := gossipConf.Validate(); err != nil {
			fmt.Printf("invalid gossip config: %s\n", err.Error())
			os.Exit(1)
		}
		if err := logConf.Validate(); err != nil {
			fmt.Printf("invalid log config: %s\n", err.Error())
			os.Exit(1)
		}

		logger, err := log.NewLogger(logConf.Level, logConf.Subsystems)
		if err != nil {
			fmt.Printf("failed to setup logger: %s\n", err.Error())
			os.Exit(1)
		}

		run(nodeID, join, gracePeriodSeconds, statusInterval, &gossipConf, logger)
	}

	return cmd
}

func run(
	nodeID string,
	join []string,
	gracePeriodSeconds int,
	statusInterval time.Duration,
	gossipConf *gossip.Config,
	logger log.Logger,
) {
	logger.Info("starting scuttle node", zap.String("node-id", nodeID))

	streamLn, err := net.Listen("tcp", gossipConf.BindAddr)
	if err != nil {
		logger.Error("failed to listen", zap.Error(err))
		os.Exit(1)
	}
	packetLn, err := net.ListenPacket("udp", gossipConf.BindAddr)
	if err != nil {
		logger.Error("failed to listen", zap.Error(err))
		os.Exit(1)
	}

	g := gossip.New(nodeID, gossipConf, streamLn, packetLn, nil, logger)

	registry := prometheus.NewRegistry()
	g.Metrics().Register(registry)
	g.ScuttleMetrics().Register(registry)

	if len(join) > 0 {
		joined, err := g.Join(join)
		if err != nil {
			logger.Warn("failed to join cluster", zap.Error(err))
		} else {
			logger.Info("joined cluster", zap.Strings("nodes", joined))
		}
	}

	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)
	if statusInterval > 0 {
		group.Go(func() error {
			logStatus(ctx, g, statusInterval, logger)
			return nil
		})
	}
	group.Go(func() error {
		<-ctx.Done()

		logger.Info("starting shutdown")

		leaveDone := make(chan error, 1)
		go func() { leaveDone <- g.Leave() }()

		select {
		case err := <-leaveDone:
			if err != nil {
				logger.Warn("failed to leave cluster gracefully", zap.Error(err))
			}
		case <-time.After(time.Duration(gracePeriodSeconds) * time.Second):
			logger.Warn("timed out leaving cluster gracefully")
		}

		return g.Close()
	})

	if err := group.Wait(); err != nil {
		logger.Error("node exited with error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func logStatus(ctx context.Context, g *gossip.Gossip, interval time.Duration, logger log.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b, err := renderStatus(g.Nodes())
			if err != nil {
				logger.Warn("failed to render status", zap.Error(err))
				continue
			}
			logger.Info("cluster status", zap.String("nodes", b))
		case <-ctx.Done():
			return
		}
	}
}
