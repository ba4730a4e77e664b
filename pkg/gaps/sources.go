package gaps

import (
	"context"
	"slices"

	"github.com/Sternrassler/beacon-duty-fetcher/pkg/dataset"
)

// CSVSource reads the Epoch column of a duties CSV file. Epochs that
// resolved empty produce no rows and so count as missing.
type CSVSource string

// Name returns the file path.
func (s CSVSource) Name() string { return string(s) }

// Epochs implements Source.
func (s CSVSource) Epochs(context.Context) ([]uint64, error) {
	return dataset.ReadEpochColumnFile(string(s))
}

// LedgerSource reads the resolved (success or empty) epochs of an outcome
// ledger file. Failed epochs count as missing.
type LedgerSource string

// Name returns the file path.
func (s LedgerSource) Name() string { return string(s) }

// Epochs implements Source.
func (s LedgerSource) Epochs(context.Context) ([]uint64, error) {
	entries, err := dataset.ReadLedgerFile(string(s))
	if err != nil {
		return nil, err
	}
	return dataset.ResolvedEpochs(entries), nil
}

// ListSource returns a Source over a fixed set of epochs.
func ListSource(name string, epochs []uint64) Source {
	return listSource{name: name, epochs: slices.Clone(epochs)}
}

type listSource struct {
	name   string
	epochs []uint64
}

func (s listSource) Name() string { return s.name }

func (s listSource) Epochs(context.Context) ([]uint64, error) {
	return slices.Clone(s.epochs), nil
}
