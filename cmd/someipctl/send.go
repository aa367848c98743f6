package main

import (
	"fmt"
	"net"

	"github.com/danmuck/someip/internal/endpoint"
	"github.com/danmuck/someip/internal/protocol/someip"
	"github.com/danmuck/someip/internal/protocol/tp"
	"github.com/spf13/cobra"
)

func newSendCmd() *cobra.Command {
	var (
		file    string
		udpAddr string
		tcpAddr string
		cfg     = tp.DefaultConfig()
	)
	cmd := &cobra.Command{
		Use:   "send [hex]",
		Short: "Send a SOME/IP message over UDP (segmenting when needed) or TCP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (udpAddr == "") == (tcpAddr == "") {
				return fmt.Errorf("set exactly one of --udp or --tcp")
			}
			data, err := readInput(args, file)
			if err != nil {
				return err
			}
			msg, err := someip.Decode(data)
			if err != nil {
				return err
			}

			if tcpAddr != "" {
				conn, err := endpoint.DialTCP(cmd.Context(), tcpAddr, endpoint.DefaultBackoff())
				if err != nil {
					return err
				}
				defer conn.Close()
				if err := endpoint.SendTCP(conn, someip.DefaultLimits(), msg); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sent tcp messages=1 to %s\n", tcpAddr)
				return nil
			}

			to, err := net.ResolveUDPAddr("udp", udpAddr)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", udpAddr, err)
			}
			conn, err := net.ListenPacket("udp", ":0")
			if err != nil {
				return err
			}
			defer conn.Close()
			n, err := endpoint.SendUDP(conn, to, msg, cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent udp datagrams=%d to %s\n", n, to)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read raw bytes from file")
	cmd.Flags().StringVar(&udpAddr, "udp", "", "UDP destination host:port")
	cmd.Flags().StringVar(&tcpAddr, "tcp", "", "TCP destination host:port")
	cmd.Flags().Uint32Var(&cfg.MaxSegmentPayload, "size", cfg.MaxSegmentPayload, "max segment payload in bytes")
	return cmd
}
