package main

import (
	"context"
	"fmt"

	"github.com/Sternrassler/beacon-duty-fetcher/internal/config"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/dataset"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/gaps"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	defaultMissingFile = "missing_epochs.txt"

	// summaryEpochs is how many of the first and last missing epochs are logged.
	summaryEpochs = 10
)

type gapsFlags struct {
	ledgers     []string
	fromDB      bool
	missingFile string
	maxSpan     uint64
}

func (g *gapsFlags) register(fs *pflag.FlagSet) {
	fs.StringSliceVar(&g.ledgers, "ledger", nil, "Outcome ledger CSV; its empty epochs count as present (repeatable)")
	fs.BoolVar(&g.fromDB, "from-db", false, "Include epochs resolved in PostgreSQL")
	fs.StringVar(&g.missingFile, "missing-file", defaultMissingFile, "Missing epochs list")
	fs.Uint64Var(&g.maxSpan, "max-span", gaps.DefaultMaxSpan, "Refuse datasets whose epochs span more than this")
}

func (g gapsFlags) sources(csvFiles []string, d *deps) ([]gaps.Source, error) {
	sources := make([]gaps.Source, 0, len(csvFiles)+len(g.ledgers)+1)
	for _, f := range csvFiles {
		sources = append(sources, gaps.CSVSource(f))
	}
	for _, f := range g.ledgers {
		sources = append(sources, gaps.LedgerSource(f))
	}
	if g.fromDB {
		if d.store == nil {
			return nil, fmt.Errorf("%w: --from-db requires postgres-url", config.ErrInvalidConfig)
		}
		sources = append(sources, d.store)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no datasets given: pass CSV files, --ledger or --from-db")
	}
	return sources, nil
}

func newGapsCmd(cfg *config.Config) *cobra.Command {
	var flags gapsFlags

	cmd := &cobra.Command{
		Use:   "gaps [csv...]",
		Short: "Find epochs missing from fetched datasets",
		Example: `  duty-fetcher gaps proposer_duties_1_to_1000.csv proposer_duties_1001_to_2000.csv
  duty-fetcher gaps --ledger ledger.csv --missing-file todo.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := openDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			sources, err := flags.sources(args, d)
			if err != nil {
				return err
			}

			_, err = runGaps(ctx, sources, flags)
			return err
		},
	}
	flags.register(cmd.Flags())

	return cmd
}

// runGaps detects missing epochs and writes them to the missing file, if set.
func runGaps(ctx context.Context, sources []gaps.Source, flags gapsFlags) (*gaps.Report, error) {
	logger := logging.NewLogger("gaps")
	missingFile := flags.missingFile

	report, err := gaps.FindMissingWithin(ctx, flags.maxSpan, sources...)
	if err != nil {
		return nil, err
	}

	for _, src := range report.Sources {
		logger.Debug().Str("source", src.Name).Int("epochs", src.Epochs).Msg("Read dataset")
	}

	logger.Info().
		Uint64("min", report.Min).
		Uint64("max", report.Max).
		Uint64("expected", report.Expected()).
		Int("observed", report.Observed).
		Int("missing", len(report.Missing)).
		Int("ranges", len(report.Ranges)).
		Msg("Gap detection finished")

	if len(report.Missing) == 0 {
		logger.Info().Msg("No missing epochs")
		if missingFile != "" {
			if err := dataset.RemoveIfExists(missingFile); err != nil {
				return report, err
			}
		}
		return report, nil
	}

	logger.Info().
		Uints64("first", report.Head(summaryEpochs)).
		Uints64("last", report.Tail(summaryEpochs)).
		Msg("Missing epochs")

	if missingFile != "" {
		if err := dataset.WriteEpochListFile(missingFile, report.Missing); err != nil {
			return report, fmt.Errorf("write missing epochs: %w", err)
		}
		logger.Info().Str("path", missingFile).Int("missing", len(report.Missing)).Msg("Wrote missing epochs")
	}

	return report, nil
}

type backfillFlags struct {
	gapsFlags
	outputFlags
}

func newBackfillCmd(cfg *config.Config) *cobra.Command {
	var flags backfillFlags

	cmd := &cobra.Command{
		Use:   "backfill [csv...]",
		Short: "Find missing epochs in datasets and fetch them",
		Example: `  duty-fetcher backfill proposer_duties_1_to_1000.csv --ledger ledger.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateFetch(); err != nil {
				return err
			}

			ctx := cmd.Context()
			d, err := openDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			sources, err := flags.sources(args, d)
			if err != nil {
				return err
			}

			report, err := runGaps(ctx, sources, flags.gapsFlags)
			if err != nil {
				return err
			}

			_, err = runFetch(ctx, cfg, d, report.Missing, flags.writer(defaultListOutput), flags.sort)
			return err
		},
	}
	flags.gapsFlags.register(cmd.Flags())
	flags.outputFlags.register(cmd.Flags())

	return cmd
}
