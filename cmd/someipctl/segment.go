package main

import (
	"encoding/hex"
	"fmt"

	"github.com/danmuck/someip/internal/protocol/someip"
	"github.com/danmuck/someip/internal/protocol/tp"
	"github.com/spf13/cobra"
)

func newSegmentCmd() *cobra.Command {
	var (
		file string
		cfg  = tp.DefaultConfig()
	)
	cmd := &cobra.Command{
		Use:   "segment [hex]",
		Short: "Split a SOME/IP message into TP segments, one hex datagram per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args, file)
			if err != nil {
				return err
			}
			msg, err := someip.Decode(data)
			if err != nil {
				return err
			}
			segments, err := tp.Split(msg, cfg)
			if err != nil {
				return err
			}
			for _, b := range segments {
				fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(b))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read raw bytes from file")
	cmd.Flags().Uint32Var(&cfg.MaxSegmentPayload, "size", cfg.MaxSegmentPayload, "max segment payload in bytes")
	cmd.Flags().Uint32Var(&cfg.Unit, "unit", cfg.Unit, "segment alignment in bytes")
	return cmd
}
