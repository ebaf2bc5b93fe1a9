package cli

import (
	"github.com/spf13/cobra"

	"github.com/quoin-dev/scuttle/cli/keys"
	"github.com/quoin-dev/scuttle/cli/node"
)

func NewCommand() *cobra.Command {
	cobra.EnableCommandSorting = false

	cmd := &cobra.Command{
		Use:          "scuttle [command] (flags)",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Short: "a gossip-based cluster membership engine",
	}

	cmd.AddCommand(node.NewCommand())
	cmd.AddCommand(keys.NewCommand())

	return cmd
}
