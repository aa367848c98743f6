package main

import (
	"fmt"

	"github.com/danmuck/someip/internal/protocol/conformance"
	"github.com/danmuck/someip/internal/protocol/someip"
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	var (
		file    string
		firstSD bool
		cfg     = conformance.DefaultConfig()
	)
	cmd := &cobra.Command{
		Use:   "validate [hex]",
		Short: "Report conformance violations for every message in a datagram",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args, file)
			if err != nil {
				return err
			}
			msgs, err := someip.DecodeAll(data)
			if err != nil {
				return err
			}
			v := conformance.New(cfg)
			total := 0
			for i, msg := range msgs {
				vs := v.Validate(msg, conformance.Context{FirstSD: firstSD && i == 0})
				total += len(vs)
				describeMessage(cmd.OutOrStdout(), msg)
				describeViolations(cmd.OutOrStdout(), vs)
			}
			if total > 0 {
				return fmt.Errorf("%d violations in %d messages", total, len(msgs))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok messages=%d\n", len(msgs))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read raw bytes from file")
	cmd.Flags().BoolVar(&firstSD, "first-sd", false, "treat the first SD message as the peer's first")
	cmd.Flags().Uint8Var(&cfg.ProtocolVersion, "protocol-version", cfg.ProtocolVersion, "supported protocol version")
	cmd.Flags().Uint32Var(&cfg.Unit, "unit", cfg.Unit, "TP offset alignment in bytes")
	return cmd
}
