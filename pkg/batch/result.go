package batch

import (
	"cmp"
	"slices"
	"time"

	"github.com/Sternrassler/beacon-duty-fetcher/pkg/duty"
)

// Result is the aggregate of one batch. Records and Failed are in
// completion order until SortRecords is called; rows of one epoch are
// always adjacent.
type Result struct {
	// Records of all successful epochs.
	Records []duty.Record

	// Failed epochs, eligible for retry.
	Failed []uint64

	// Outcomes holds one entry per requested epoch.
	Outcomes []duty.Outcome

	// Requested is the number of distinct epochs requested.
	Requested int

	Succeeded int
	Empty     int

	Started  time.Time
	Duration time.Duration
}

func newResult(requested int) *Result {
	return &Result{
		Outcomes:  make([]duty.Outcome, 0, requested),
		Requested: requested,
		Started:   time.Now(),
	}
}

func (r *Result) add(o duty.Outcome) {
	r.Outcomes = append(r.Outcomes, o)

	switch o.Status {
	case duty.StatusSuccess:
		r.Succeeded++
		r.Records = append(r.Records, o.Records...)
	case duty.StatusEmpty:
		r.Empty++
	default:
		r.Failed = append(r.Failed, o.Epoch)
	}
}

// SortRecords orders records, failed epochs and outcomes by epoch. Records
// of the same epoch keep their response order.
func (r *Result) SortRecords() {
	slices.SortStableFunc(r.Records, func(a, b duty.Record) int {
		return cmp.Compare(a.Epoch, b.Epoch)
	})
	slices.Sort(r.Failed)
	slices.SortFunc(r.Outcomes, func(a, b duty.Outcome) int {
		return cmp.Compare(a.Epoch, b.Epoch)
	})
}

// Resolved returns the epochs that succeeded or were empty, ascending.
func (r *Result) Resolved() []uint64 {
	epochs := make([]uint64, 0, r.Succeeded+r.Empty)
	for _, o := range r.Outcomes {
		if o.Resolved() {
			epochs = append(epochs, o.Epoch)
		}
	}
	slices.Sort(epochs)
	return epochs
}

// Summary returns the counts of the batch.
func (r *Result) Summary() Summary {
	return Summary{
		Total:     r.Requested,
		Succeeded: r.Succeeded,
		Empty:     r.Empty,
		Failed:    len(r.Failed),
		Records:   len(r.Records),
		Duration:  r.Duration,
	}
}
