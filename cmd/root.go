// Package cmd wires the media-server CLI: positional config/server-id/
// expt-id arguments for normal operation, plus small introspection
// subcommands for operators.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/StanfordSNR/puffer-sub000/internal/version"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:           "media-server <config.yaml> <server_id> [<expt_id>]",
	Short:         "Adaptive-bitrate media server",
	Args:          cobra.RangeArgs(2, 3),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flag("version").Changed {
			info := version.ClientInfo()
			fmt.Printf("media-server version %s, build %s\n", info["Version"], info["GitCommit"])
			return nil
		}
		expt := ""
		if len(args) == 3 {
			expt = args[2]
		}
		return runServer(args[0], args[1], expt)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information and exit")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "", false, "Enable debug logging")

	rootCmd.AddCommand(newChannelsCmd())
}
