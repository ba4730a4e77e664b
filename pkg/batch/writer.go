package batch

import (
	"fmt"

	"github.com/Sternrassler/beacon-duty-fetcher/pkg/dataset"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Writer persists a Result as flat files. Empty paths are skipped.
type Writer struct {
	// OutputPath receives the duties CSV; its header is always written.
	OutputPath string

	// FailedPath receives failed epochs, only when there are any. A stale
	// list from an earlier run at the same path is removed otherwise.
	FailedPath string

	// LedgerPath receives one outcome row per requested epoch.
	LedgerPath string

	Logger *zerolog.Logger
}

// WriteResult writes res to the configured paths.
func (w Writer) WriteResult(res *Result) error {
	logger := log.Logger
	if w.Logger != nil {
		logger = *w.Logger
	}

	if w.OutputPath != "" {
		if err := dataset.WriteRecordsFile(w.OutputPath, res.Records); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		logger.Info().
			Str("path", w.OutputPath).
			Int("records", len(res.Records)).
			Msg("Exported proposer duties")
	}

	if w.FailedPath != "" {
		if len(res.Failed) > 0 {
			if err := dataset.WriteEpochListFile(w.FailedPath, res.Failed); err != nil {
				return fmt.Errorf("write failed epochs: %w", err)
			}
			logger.Warn().
				Str("path", w.FailedPath).
				Int("failed", len(res.Failed)).
				Msg("Wrote failed epochs")
		} else if err := dataset.RemoveIfExists(w.FailedPath); err != nil {
			return fmt.Errorf("remove stale failed epochs: %w", err)
		}
	}

	if w.LedgerPath != "" {
		if err := dataset.WriteLedgerFile(w.LedgerPath, res.Outcomes); err != nil {
			return fmt.Errorf("write ledger: %w", err)
		}
		logger.Debug().Str("path", w.LedgerPath).Int("epochs", len(res.Outcomes)).Msg("Wrote outcome ledger")
	}

	return nil
}
