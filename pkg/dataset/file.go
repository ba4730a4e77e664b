package dataset

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Sternrassler/beacon-duty-fetcher/pkg/duty"
)

// WriteFile atomically replaces path with the output of write.
func WriteFile(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := write(tmp); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}

// RemoveIfExists deletes path, ignoring a missing file.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// WriteRecordsFile writes records as a duties CSV to path.
func WriteRecordsFile(path string, records []duty.Record) error {
	return WriteFile(path, func(w io.Writer) error { return WriteRecords(w, records) })
}

// WriteEpochListFile writes epochs as a flat list to path.
func WriteEpochListFile(path string, epochs []uint64) error {
	return WriteFile(path, func(w io.Writer) error { return WriteEpochList(w, epochs) })
}

// WriteLedgerFile writes the outcome ledger to path.
func WriteLedgerFile(path string, outcomes []duty.Outcome) error {
	return WriteFile(path, func(w io.Writer) error { return WriteLedger(w, outcomes) })
}

// ReadEpochColumnFile reads the Epoch column of the duties CSV at path.
func ReadEpochColumnFile(path string) ([]uint64, error) {
	return readFile(path, ReadEpochColumn)
}

// ReadRecordsFile reads the duties CSV at path.
func ReadRecordsFile(path string) ([]duty.Record, error) {
	return readFile(path, ReadRecords)
}

// ReadEpochListFile reads the flat epoch list at path.
func ReadEpochListFile(path string) ([]uint64, error) {
	return readFile(path, ReadEpochList)
}

// ReadLedgerFile reads the outcome ledger at path.
func ReadLedgerFile(path string) ([]LedgerEntry, error) {
	return readFile(path, ReadLedger)
}

func readFile[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	var zero T

	f, err := os.Open(path)
	if err != nil {
		return zero, err
	}
	defer f.Close()

	v, err := read(f)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}
