package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/StanfordSNR/puffer-sub000/config"
	"github.com/StanfordSNR/puffer-sub000/internal/util"
)

// newChannelsCmd returns the "channels" introspection subcommand, for
// operators checking a config file's channel ladders before launching the
// server.
func newChannelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "channels <config.yaml>",
		Short: "List channels and their format ladders from a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}

			columns := []util.TableColumn{
				{Header: "channel", Key: "channel"},
				{Header: "video formats", Key: "video"},
				{Header: "audio formats", Key: "audio"},
				{Header: "output", Key: "output"},
			}
			rows := make([]map[string]any, 0, len(cfg.Channels))
			for _, name := range cfg.Channels {
				cc, err := cfg.ChannelConfigFor(name)
				if err != nil {
					return err
				}
				rows = append(rows, map[string]any{
					"channel": name,
					"video":   fmt.Sprintf("%d", len(cc.VideoFormats)),
					"audio":   fmt.Sprintf("%d", len(cc.AudioFormats)),
					"output":  cc.Output,
				})
			}
			util.RenderTable(columns, rows)
			return nil
		},
	}
}
