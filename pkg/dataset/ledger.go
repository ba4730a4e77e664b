package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Sternrassler/beacon-duty-fetcher/pkg/duty"
)

// Column names of the outcome ledger.
const (
	ColumnStatus  = "Status"
	ColumnRecords = "Records"
	ColumnError   = "Error"
)

// LedgerHeader is the outcome ledger header row.
var LedgerHeader = []string{ColumnEpoch, ColumnStatus, ColumnRecords, ColumnError}

// LedgerEntry is one row of the outcome ledger.
type LedgerEntry struct {
	Epoch   uint64
	Status  duty.Status
	Records int
	Error   string
}

// Resolved reports whether the epoch needs no further fetching.
func (e LedgerEntry) Resolved() bool {
	return e.Status == duty.StatusSuccess || e.Status == duty.StatusEmpty
}

// LedgerEntryFor summarizes an outcome as a ledger row.
func LedgerEntryFor(o duty.Outcome) LedgerEntry {
	entry := LedgerEntry{
		Epoch:   o.Epoch,
		Status:  o.Status,
		Records: len(o.Records),
	}
	if o.Err != nil {
		// Keep rows single line for grep friendliness.
		entry.Error = strings.Join(strings.Fields(o.Err.Error()), " ")
	}
	return entry
}

// WriteLedger writes the header and one row per outcome.
func WriteLedger(w io.Writer, outcomes []duty.Outcome) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(LedgerHeader); err != nil {
		return fmt.Errorf("write ledger header: %w", err)
	}

	for _, o := range outcomes {
		entry := LedgerEntryFor(o)
		row := []string{
			strconv.FormatUint(entry.Epoch, 10),
			string(entry.Status),
			strconv.Itoa(entry.Records),
			entry.Error,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write ledger epoch %d: %w", o.Epoch, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadLedger reads an outcome ledger.
func ReadLedger(r io.Reader) ([]LedgerEntry, error) {
	cr := csv.NewReader(r)

	cols, err := readHeader(cr, ColumnEpoch, ColumnStatus)
	if err != nil {
		return nil, err
	}

	var entries []LedgerEntry
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read ledger row: %w", err)
		}

		epoch, err := parseEpoch(row[cols[ColumnEpoch]])
		if err != nil {
			return nil, lineError(cr, err)
		}
		status, err := duty.ParseStatus(row[cols[ColumnStatus]])
		if err != nil {
			return nil, lineError(cr, err)
		}

		entry := LedgerEntry{Epoch: epoch, Status: status}
		if idx, ok := cols[ColumnRecords]; ok && strings.TrimSpace(row[idx]) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(row[idx]))
			if err != nil {
				return nil, lineError(cr, fmt.Errorf("invalid record count %q", row[idx]))
			}
			entry.Records = n
		}
		if idx, ok := cols[ColumnError]; ok {
			entry.Error = row[idx]
		}
		entries = append(entries, entry)
	}
}

// ResolvedEpochs returns the epochs of entries that succeeded or were empty.
func ResolvedEpochs(entries []LedgerEntry) []uint64 {
	epochs := make([]uint64, 0, len(entries))
	for _, e := range entries {
		if e.Resolved() {
			epochs = append(epochs, e.Epoch)
		}
	}
	return epochs
}
