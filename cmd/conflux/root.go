package main

import (
	"github.com/spf13/cobra"

	"github.com/zoobzio/conflux/internal/logging"
)

type rootFlags struct {
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	cmd := &cobra.Command{
		Use:   "conflux",
		Short: "Assemble and run batch dataflow graphs",
		Long:  "Conflux validates flow definitions, derives stream schemas and\nexecutes the resulting graphs against file and database taps.",
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := logging.ParseLevel(flags.logLevel)
			if err != nil {
				return err
			}
			logging.Init(level, flags.logFormat, cmd.ErrOrStderr())
			return nil
		},
	}
	cmd.Version = version

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	pf.StringVar(&flags.logFormat, "log-format", "text", "Log format: text or json")

	cmd.AddCommand(newLintCmd())
	cmd.AddCommand(newDescribeCmd())
	cmd.AddCommand(newRunCmd())
	return cmd
}
