package main

import (
	"fmt"

	"github.com/danmuck/someip/internal/logging"
	"github.com/danmuck/someip/internal/observability"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:           "someipctl",
		Short:         "Decode, validate, segment and receive SOME/IP traffic",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg := logging.Resolve(logging.ProfileRuntime)
			if logLevel != "" {
				lvl, ok := logging.ParseLevel(logLevel)
				if !ok {
					return fmt.Errorf("unknown log level %q", logLevel)
				}
				cfg.Level = lvl
			}
			observability.InitLogger("someipctl", cfg)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace|debug|info|warn|error|off)")

	root.AddCommand(
		newDecodeCmd(),
		newValidateCmd(),
		newSegmentCmd(),
		newSendCmd(),
		newListenCmd(),
		newConfigCmd(),
	)
	return root
}
