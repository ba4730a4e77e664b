// Package gaps finds epochs missing from previously fetched datasets.
package gaps

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyInput is returned when no source contributes a single epoch, which
// leaves the observed range undefined.
var ErrEmptyInput = errors.New("no epochs in input")

// ErrRangeTooLarge is returned when the observed range spans more epochs
// than the detector is allowed to enumerate.
var ErrRangeTooLarge = errors.New("epoch range too large")

// DefaultMaxSpan bounds the observed range FindMissing will walk. Mainnet
// is still several orders of magnitude below it.
const DefaultMaxSpan uint64 = 10_000_000

// Source yields the epochs present in one dataset. Epochs may repeat and
// come in any order.
type Source interface {
	Name() string
	Epochs(ctx context.Context) ([]uint64, error)
}

// SourceCount is the number of distinct epochs a source contributed.
type SourceCount struct {
	Name   string
	Epochs int
}

// Report is the outcome of one gap detection.
type Report struct {
	// Missing epochs in [Min, Max] absent from every source, ascending.
	Missing []uint64

	Min uint64
	Max uint64

	// Observed is the number of distinct epochs across all sources.
	Observed int

	Sources []SourceCount

	// Ranges compresses Missing into runs.
	Ranges []Range
}

// Expected returns the size of the observed range.
func (r *Report) Expected() uint64 {
	return r.Max - r.Min + 1
}

// Head returns up to n of the first missing epochs.
func (r *Report) Head(n int) []uint64 {
	return r.Missing[:min(n, len(r.Missing))]
}

// Tail returns up to n of the last missing epochs.
func (r *Report) Tail(n int) []uint64 {
	return r.Missing[len(r.Missing)-min(n, len(r.Missing)):]
}

// FindMissing computes the epochs in the range spanned by all sources that
// no source contains. The result depends only on the epochs the sources
// yield; it is recomputed from scratch on every call. Ranges wider than
// DefaultMaxSpan are rejected with ErrRangeTooLarge.
func FindMissing(ctx context.Context, sources ...Source) (*Report, error) {
	return FindMissingWithin(ctx, DefaultMaxSpan, sources...)
}

// FindMissingWithin is FindMissing with an explicit cap on Max-Min.
// A zero maxSpan means DefaultMaxSpan.
func FindMissingWithin(ctx context.Context, maxSpan uint64, sources ...Source) (*Report, error) {
	if maxSpan == 0 {
		maxSpan = DefaultMaxSpan
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no sources", ErrEmptyInput)
	}

	seen := make(map[uint64]struct{})
	report := &Report{Sources: make([]SourceCount, 0, len(sources))}

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		epochs, err := src.Epochs(ctx)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", src.Name(), err)
		}

		distinct := make(map[uint64]struct{}, len(epochs))
		for _, epoch := range epochs {
			distinct[epoch] = struct{}{}
			seen[epoch] = struct{}{}
		}
		report.Sources = append(report.Sources, SourceCount{Name: src.Name(), Epochs: len(distinct)})
	}

	if len(seen) == 0 {
		return nil, fmt.Errorf("%w: %d sources without epochs", ErrEmptyInput, len(sources))
	}

	first := true
	for epoch := range seen {
		if first || epoch < report.Min {
			report.Min = epoch
		}
		if first || epoch > report.Max {
			report.Max = epoch
		}
		first = false
	}
	report.Observed = len(seen)

	if span := report.Max - report.Min; span > maxSpan {
		return nil, fmt.Errorf("%w: %d..%d spans %d epochs, limit %d",
			ErrRangeTooLarge, report.Min, report.Max, span, maxSpan)
	}

	// Expected cannot overflow once the span is capped.
	report.Missing = make([]uint64, 0, report.Expected()-uint64(report.Observed))
	for epoch := report.Min; ; epoch++ {
		if _, ok := seen[epoch]; !ok {
			report.Missing = append(report.Missing, epoch)
		}
		if epoch == report.Max {
			break
		}
	}

	report.Ranges = Ranges(report.Missing)

	return report, nil
}
