// Package duty defines proposer duty records, per-epoch fetch outcomes and
// decoding of the beacon node proposer duties response.
package duty

import (
	"errors"
	"fmt"
	"sort"
)

// NotAvailable is written in place of a duty field the API did not return.
const NotAvailable = "N/A"

// ErrInvalidRange is returned by Range when start is after end.
var ErrInvalidRange = errors.New("invalid epoch range")

// Record is one proposer duty assignment for an epoch.
type Record struct {
	Epoch          uint64
	Slot           string
	ValidatorIndex string
	PublicKey      string
}

// Status classifies the outcome of fetching a single epoch.
type Status string

const (
	// StatusSuccess means the request succeeded and returned at least one duty.
	StatusSuccess Status = "success"

	// StatusEmpty means the request succeeded but returned no duties.
	StatusEmpty Status = "empty"

	// StatusFailed means the request failed and the epoch is eligible for retry.
	StatusFailed Status = "failed"
)

// ParseStatus converts a persisted status string back to a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusSuccess, StatusEmpty, StatusFailed:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// Outcome is the immutable result of fetching one epoch.
type Outcome struct {
	Epoch   uint64
	Status  Status
	Records []Record
	Err     error
}

// Succeeded returns a success outcome, or an empty one when records is empty.
func Succeeded(epoch uint64, records []Record) Outcome {
	if len(records) == 0 {
		return Outcome{Epoch: epoch, Status: StatusEmpty}
	}
	return Outcome{Epoch: epoch, Status: StatusSuccess, Records: records}
}

// Failed returns a failed outcome carrying err.
func Failed(epoch uint64, err error) Outcome {
	return Outcome{Epoch: epoch, Status: StatusFailed, Err: err}
}

// Resolved reports whether the epoch needs no further fetching.
// Empty epochs are resolved: the API legitimately returned nothing.
func (o Outcome) Resolved() bool {
	return o.Status == StatusSuccess || o.Status == StatusEmpty
}

// Normalize returns the distinct epochs in ascending order.
func Normalize(epochs []uint64) []uint64 {
	if len(epochs) == 0 {
		return nil
	}

	seen := make(map[uint64]struct{}, len(epochs))
	out := make([]uint64, 0, len(epochs))
	for _, e := range epochs {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

// Range returns every epoch in [start, end].
func Range(start, end uint64) ([]uint64, error) {
	if start > end {
		return nil, fmt.Errorf("%w: start %d > end %d", ErrInvalidRange, start, end)
	}

	out := make([]uint64, 0, end-start+1)
	for e := start; ; e++ {
		out = append(out, e)
		if e == end {
			break
		}
	}
	return out, nil
}
