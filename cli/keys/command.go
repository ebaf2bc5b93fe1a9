package keys

import (
	"fmt"
	"net"
	"os"
	"time"

	yaml "github.com/goccy/go-yaml"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/quoin-dev/scuttle/pkg/gossip"
	"github.com/quoin-dev/scuttle/pkg/log"
)

// NewCommand returns the 'scuttle keys' command tree, a debugging tool that
// joins the target cluster as a short-lived, non-voting member purely to
// read back its converged key/value state.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "inspect cluster key/value state",
	}

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newGetCommand())
	cmd.AddCommand(newRawCommand())

	return cmd
}

type clientConfig struct {
	join        []string
	settleDelay time.Duration
}

func registerClientFlags(cmd *cobra.Command, conf *clientConfig) {
	cmd.Flags().StringSliceVar(
		&conf.join,
		"join",
		nil,
		`
Addresses of existing cluster members to contact in order to read back
cluster state. At least one is required.`,
	)
	cmd.Flags().DurationVar(
		&conf.settleDelay,
		"settle-delay",
		2*time.Second,
		`
How long to wait after joining for further gossip rounds to fill in state not
carried by the initial join exchange.`,
	)
}

func newListCommand() *cobra.Command {
	var conf clientConfig

	cmd := &cobra.Command{
		Use:   "list",
		Short: "list all known nodes and their entries",
		Long: `List all known nodes and their entries.

Joins the cluster as an ephemeral member to read back its converged
key/value state, then leaves again.

Examples:
  scuttle keys list --join 10.26.104.11:7946
`,
	}

	registerClientFlags(cmd, &conf)

	cmd.Run = func(cmd *cobra.Command, args []string) {
		if len(conf.join) == 0 {
			fmt.Println("at least one --join address is required")
			os.Exit(1)
		}

		g, err := connect(conf.join, conf.settleDelay)
		if err != nil {
			fmt.Printf("failed to connect: %s\n", err.Error())
			os.Exit(1)
		}
		defer disconnect(g)

		nodes := g.Nodes()
		output := make([]nodeOutput, 0, len(nodes))
		for _, meta := range nodes {
			state, ok := g.Node(meta.ID)
			if !ok {
				continue
			}
			output = append(output, toNodeOutput(state))
		}

		b, err := yaml.Marshal(output)
		if err != nil {
			fmt.Printf("failed to marshal output: %s\n", err.Error())
			os.Exit(1)
		}
		fmt.Println(string(b))
	}

	return cmd
}

func newGetCommand() *cobra.Command {
	var conf clientConfig

	cmd := &cobra.Command{
		Use:   "get <node-id> <key>",
		Args:  cobra.ExactArgs(2),
		Short: "get the value of a key on a given node",
		Long: `Get the value of a key on a given node.

Examples:
  scuttle keys get --join 10.26.104.11:7946 8f3c1b2a region
`,
	}

	registerClientFlags(cmd, &conf)

	cmd.Run = func(cmd *cobra.Command, args []string) {
		if len(conf.join) == 0 {
			fmt.Println("at least one --join address is required")
			os.Exit(1)
		}

		g, err := connect(conf.join, conf.settleDelay)
		if err != nil {
			fmt.Printf("failed to connect: %s\n", err.Error())
			os.Exit(1)
		}
		defer disconnect(g)

		nodeID, key := args[0], args[1]
		state, ok := g.Node(nodeID)
		if !ok {
			fmt.Printf("unknown node: %s\n", nodeID)
			os.Exit(1)
		}

		for _, e := range state.Entries {
			if e.Key == key {
				b, _ := yaml.Marshal(e)
				fmt.Println(string(b))
				return
			}
		}

		fmt.Printf("key not found: %s\n", key)
		os.Exit(1)
	}

	return cmd
}

func newRawCommand() *cobra.Command {
	var conf clientConfig

	cmd := &cobra.Command{
		Use:   "raw",
		Short: "dump the raw cluster state snapshot, including seed addresses",
		Long: `Dump the raw cluster state snapshot.

Unlike 'list', this renders the underlying scuttle.ClusterStateSnapshot
directly: every node's full key/value map (including tombstones) plus the
live --join seed-address view, for low-level debugging.

Examples:
  scuttle keys raw --join 10.26.104.11:7946
`,
	}

	registerClientFlags(cmd, &conf)

	cmd.Run = func(cmd *cobra.Command, args []string) {
		if len(conf.join) == 0 {
			fmt.Println("at least one --join address is required")
			os.Exit(1)
		}

		g, err := connect(conf.join, conf.settleDelay)
		if err != nil {
			fmt.Printf("failed to connect: %s\n", err.Error())
			os.Exit(1)
		}
		defer disconnect(g)

		b, err := yaml.Marshal(g.Snapshot())
		if err != nil {
			fmt.Printf("failed to marshal snapshot: %s\n", err.Error())
			os.Exit(1)
		}
		fmt.Println(string(b))
	}

	return cmd
}

type nodeOutput struct {
	ID      string         `json:"id"`
	Addr    string         `json:"addr"`
	Left    bool           `json:"left"`
	Entries []gossip.Entry `json:"entries"`
}

func toNodeOutput(state *gossip.NodeState) nodeOutput {
	return nodeOutput{
		ID:      state.ID,
		Addr:    state.Addr,
		Left:    state.Left,
		Entries: state.Entries,
	}
}

// connect joins the cluster at the given addresses as an ephemeral member
// bound to an OS-assigned port, giving gossip settleDelay to pull in state
// beyond what the initial join exchange carries.
func connect(join []string, settleDelay time.Duration) (*gossip.Gossip, error) {
	streamLn, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	packetLn, err := net.ListenPacket("udp", streamLn.Addr().String())
	if err != nil {
		streamLn.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	conf := &gossip.Config{
		BindAddr:      streamLn.Addr().String(),
		Interval:      250 * time.Millisecond,
		MaxPacketSize: 1400,
		GracePeriod:   10000,
		GCInterval:    time.Minute,
	}

	g := gossip.New(
		"keys-"+uuid.NewString(), conf, streamLn, packetLn, nil, log.NewNopLogger(),
	)

	if _, err := g.Join(join); err != nil {
		_ = g.Close()
		return nil, fmt.Errorf("join: %w", err)
	}

	time.Sleep(settleDelay)

	return g, nil
}

func disconnect(g *gossip.Gossip) {
	_ = g.Leave()
	_ = g.Close()
}
