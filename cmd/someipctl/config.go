package main

import (
	"fmt"

	"github.com/danmuck/someip/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or check engine config files",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write the default config template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[0], force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote config template to %s\n", args[0])
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	checkCmd := &cobra.Command{
		Use:   "check <path>",
		Short: "Load a config file with environment overrides and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadEngineConfig(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "codec max_payload_bytes=%d\n", cfg.Codec.MaxPayloadBytes)
			fmt.Fprintf(out, "conformance protocol_version=%d\n", cfg.Conformance.ProtocolVersion)
			fmt.Fprintf(out, "tp unit=%d max_segment_payload=%d max_message_size=%d reassembly_timeout=%s sweep_interval=%s max_buffers=%d\n",
				cfg.TP.Unit, cfg.TP.MaxSegmentPayload, cfg.TP.MaxMessageSize,
				cfg.TP.ReassemblyTimeout, cfg.TP.SweepInterval, cfg.TP.MaxBuffers)
			fmt.Fprintf(out, "endpoint listen=%q tcp_listen=%q multicast_group=%q interface=%q join_sd=%t metrics_addr=%q peer_idle_timeout=%s\n",
				cfg.Endpoint.Listen, cfg.Endpoint.TCPListen, cfg.Endpoint.MulticastGroup,
				cfg.Endpoint.Interface, cfg.Endpoint.JoinSD, cfg.Endpoint.MetricsAddr, cfg.Endpoint.PeerIdleTimeout)
			return nil
		},
	}

	cmd.AddCommand(initCmd, checkCmd)
	return cmd
}
