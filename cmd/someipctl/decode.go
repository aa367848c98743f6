package main

import (
	"github.com/danmuck/someip/internal/protocol/someip"
	"github.com/spf13/cobra"
)

func newDecodeCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "decode [hex]",
		Short: "Decode every SOME/IP message in a datagram",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args, file)
			if err != nil {
				return err
			}
			msgs, err := someip.DecodeAll(data)
			for _, msg := range msgs {
				describeMessage(cmd.OutOrStdout(), msg)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read raw bytes from file")
	return cmd
}
