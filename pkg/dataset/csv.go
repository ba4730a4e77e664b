package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Sternrassler/beacon-duty-fetcher/pkg/duty"
)

// Column names of the duties CSV.
const (
	ColumnEpoch          = "Epoch"
	ColumnSlot           = "Slot"
	ColumnValidatorIndex = "Validator Index"
	ColumnPublicKey      = "Public Key"
)

// Header is the duties CSV header row.
var Header = []string{ColumnEpoch, ColumnSlot, ColumnValidatorIndex, ColumnPublicKey}

var (
	// ErrMissingColumn is returned when a required column is not in the header.
	ErrMissingColumn = errors.New("missing column")

	// ErrInvalidEpoch is returned for epoch values that are not unsigned integers.
	ErrInvalidEpoch = errors.New("invalid epoch")
)

// WriteRecords writes the header followed by one row per record. The header
// is written even when records is empty.
func WriteRecords(w io.Writer, records []duty.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	row := make([]string, len(Header))
	for _, r := range records {
		row[0] = strconv.FormatUint(r.Epoch, 10)
		row[1] = r.Slot
		row[2] = r.ValidatorIndex
		row[3] = r.PublicKey
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write epoch %d: %w", r.Epoch, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadRecords reads a duties CSV. Columns are located by header name.
func ReadRecords(r io.Reader) ([]duty.Record, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	cols, err := readHeader(cr, Header...)
	if err != nil {
		return nil, err
	}

	var records []duty.Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		epoch, err := parseEpoch(row[cols[ColumnEpoch]])
		if err != nil {
			return nil, lineError(cr, err)
		}
		records = append(records, duty.Record{
			Epoch:          epoch,
			Slot:           row[cols[ColumnSlot]],
			ValidatorIndex: row[cols[ColumnValidatorIndex]],
			PublicKey:      row[cols[ColumnPublicKey]],
		})
	}
}

// ReadEpochColumn returns the Epoch value of every row, in file order and
// with duplicates, as the rows repeat the epoch once per duty.
func ReadEpochColumn(r io.Reader) ([]uint64, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	cols, err := readHeader(cr, ColumnEpoch)
	if err != nil {
		return nil, err
	}
	idx := cols[ColumnEpoch]

	var epochs []uint64
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return epochs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if idx >= len(row) {
			return nil, lineError(cr, fmt.Errorf("%w: %s", ErrMissingColumn, ColumnEpoch))
		}

		epoch, err := parseEpoch(row[idx])
		if err != nil {
			return nil, lineError(cr, err)
		}
		epochs = append(epochs, epoch)
	}
}

// readHeader reads the header row and returns the index of each required column.
func readHeader(cr *csv.Reader, required ...string) (map[string]int, error) {
	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty file has no header", ErrMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}

	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}
	return cols, nil
}

func parseEpoch(s string) (uint64, error) {
	epoch, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidEpoch, s)
	}
	return epoch, nil
}

func lineError(cr *csv.Reader, err error) error {
	line, _ := cr.FieldPos(0)
	return fmt.Errorf("line %d: %w", line, err)
}
