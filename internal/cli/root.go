// Package cli implements the reach pipeline command line.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Execute runs the root command. Interrupts cancel the running stage.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var env string

	cmd := &cobra.Command{
		Use:          "reach",
		Short:        "Reach builds drive-time service-area layers for a facility registry",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&env, "env", "", "override ENV (development enables console logging)")

	cmd.AddCommand(
		runCmd(&env),
		loadCmd(&env),
		geocodeCmd(&env),
		isochronesCmd(&env),
		mergeCmd(&env),
		boundariesCmd(&env),
		retryCmd(&env),
		failuresCmd(&env),
		exportCmd(&env),
	)
	return cmd
}
