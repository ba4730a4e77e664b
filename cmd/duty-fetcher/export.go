package main

import (
	"fmt"

	"github.com/Sternrassler/beacon-duty-fetcher/internal/config"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/dataset"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/gaps"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/logging"
	"github.com/spf13/cobra"
)

func newExportCmd(cfg *config.Config) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export start-end",
		Short: "Write duties stored in PostgreSQL to a CSV",
		Example: `  duty-fetcher export 250000-251000 --postgres-url postgres://localhost/duties
  duty-fetcher export 250000-251000 -o duties.csv --network holesky`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := gaps.ParseRange(args[0])
			if err != nil {
				return err
			}
			if cfg.PostgresURL == "" {
				return fmt.Errorf("%w: export requires postgres-url", config.ErrInvalidConfig)
			}

			ctx := cmd.Context()
			d, err := openDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			records, err := d.store.Records(ctx, r.Start, r.End)
			if err != nil {
				return err
			}

			if output == "" {
				output = rangeOutput(r.Start, r.End)
			}
			if err := dataset.WriteRecordsFile(output, records); err != nil {
				return fmt.Errorf("write export: %w", err)
			}

			logger := logging.NewLogger("export")
			logger.Info().
				Str("path", output).
				Int("records", len(records)).
				Str("network", d.store.Network()).
				Msg("Exported duties")
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output CSV (default proposer_duties_<start>_to_<end>.csv)")

	return cmd
}
