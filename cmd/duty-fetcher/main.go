// Command duty-fetcher fetches beacon chain proposer duties for ranges or
// lists of epochs and finds epochs missing from earlier exports.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/beacon-duty-fetcher/internal/config"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/logging"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	logging.Close()
	if err != nil {
		os.Exit(1)
	}
}

// newRootCmd returns the command tree. Each call has its own configuration.
func newRootCmd() *cobra.Command {
	cfg := config.Default()

	root := &cobra.Command{
		Use:   "duty-fetcher",
		Short: "Fetch beacon chain proposer duties and find missing epochs",
		Long: `duty-fetcher fetches proposer duties from a beacon node for epoch ranges or
lists, exports them as CSV and detects epochs missing from earlier exports.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Load(cmd.Flags()); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logging.Setup(cfg.Logging())
			return nil
		},
	}
	cfg.Flags(root.PersistentFlags())

	root.AddCommand(
		newFetchCmd(&cfg),
		newGapsCmd(&cfg),
		newBackfillCmd(&cfg),
		newQueueCmd(&cfg),
		newExportCmd(&cfg),
		newVersionCmd(),
	)

	return root
}
