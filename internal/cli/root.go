// Package cli implements the tokpoold command tree.
package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// globals holds persistent flag values shared by every subcommand.
type globals struct {
	logLevel  string
	logFormat string
	log       zerolog.Logger
}

// NewRootCmd constructs the tokpoold command tree.
func NewRootCmd() *cobra.Command {
	g := &globals{log: zerolog.Nop()}
	root := &cobra.Command{
		Use:           "tokpoold",
		Short:         "Adapter-aware tokenizer pool daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", envStr("TOKPOOL_LOG_LEVEL", "info"), "Log level: debug|info|warn|error (defaults TOKPOOL_LOG_LEVEL or info)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", envStr("TOKPOOL_LOG_FORMAT", "console"), "Log format: console|json")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		g.log = newLogger(g.logLevel, g.logFormat, os.Stderr)
	}

	root.AddCommand(newServeCmd(g), newEncodeCmd(g))
	return root
}
