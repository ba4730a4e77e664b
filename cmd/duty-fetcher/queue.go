package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/Sternrassler/beacon-duty-fetcher/internal/config"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/duty"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/gaps"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/logging"
	"github.com/spf13/cobra"
)

func newQueueCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or prune the shared failed epoch queue in Redis",
	}
	cmd.AddCommand(newQueueListCmd(cfg), newQueueDropCmd(cfg))
	return cmd
}

func newQueueListCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued epochs in retry order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			d, err := openQueueDeps(cmd, cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			entries, err := d.queue.Entries(ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EPOCH\tATTEMPTS\tLAST ATTEMPT\tLAST ERROR")
			for _, e := range entries {
				fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", e.Epoch, e.Attempts, e.LastAttempt.UTC().Format(time.RFC3339), e.LastError)
			}
			return tw.Flush()
		},
	}
}

func newQueueDropCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:     "drop epoch|start-end...",
		Short:   "Remove epochs from the queue without fetching them",
		Example: `  duty-fetcher queue drop 250001 250100-250120`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			epochs, err := parseEpochArgs(args)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			d, err := openQueueDeps(cmd, cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.queue.Resolve(ctx, epochs...); err != nil {
				return err
			}
			remaining, err := d.queue.Count(ctx)
			if err != nil {
				return err
			}

			logger := logging.NewLogger("queue")
			logger.Info().
				Int("dropped", len(epochs)).
				Int("remaining", remaining).
				Str("network", cfg.Network).
				Msg("Dropped epochs from the failed epoch queue")
			return nil
		},
	}
}

func openQueueDeps(cmd *cobra.Command, cfg *config.Config) (*deps, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("%w: queue commands require redis-url", config.ErrInvalidConfig)
	}
	return openDeps(cmd.Context(), cfg)
}

// parseEpochArgs expands single epochs and start-end ranges.
func parseEpochArgs(args []string) ([]uint64, error) {
	var epochs []uint64
	for _, arg := range args {
		r, err := gaps.ParseRange(arg)
		if err != nil {
			return nil, err
		}
		if r.End-r.Start > gaps.DefaultMaxSpan {
			return nil, fmt.Errorf("%w: %s", gaps.ErrRangeTooLarge, arg)
		}
		expanded, err := duty.Range(r.Start, r.End)
		if err != nil {
			return nil, err
		}
		epochs = append(epochs, expanded...)
	}
	return epochs, nil
}
