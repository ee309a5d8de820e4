package main

import (
	"os"

	"github.com/danmuck/dps_queryloop/cmd/internal/logcfg"
	logs "github.com/danmuck/smplog"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "queryloop",
		Short: "Run the self-referential query probe against a guarded host",
		Long: `queryloop loads a contract whose query asks its target to run the same
query against itself, then checks that the host stops the chain with a
query stack, gas or deadline error instead of recursing forever.`,
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newProbeCmd())
	root.AddCommand(newRunCmd())
	return root
}

func main() {
	logs.Configure(logcfg.Load())

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
