package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/beacon-duty-fetcher/pkg/batch"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/dataset"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/duty"
	"github.com/google/uuid"
)

// insertChunk keeps bulk inserts well below the 65535 parameter limit.
const insertChunk = 1000

type runRow struct {
	ID         uuid.UUID `db:"id"`
	Network    string    `db:"network"`
	StartedAt  time.Time `db:"started_at"`
	DurationMS int64     `db:"duration_ms"`
	Requested  int       `db:"requested"`
	Succeeded  int       `db:"succeeded"`
	Empty      int       `db:"empty"`
	Failed     int       `db:"failed"`
	Records    int       `db:"records"`
}

type recordRow struct {
	Network        string    `db:"network"`
	Epoch          int64     `db:"epoch"`
	Slot           string    `db:"slot"`
	ValidatorIndex string    `db:"validator_index"`
	PublicKey      string    `db:"public_key"`
	RunID          uuid.UUID `db:"run_id"`
}

const (
	insertRunQuery = `
INSERT INTO fetch_runs (id, network, started_at, duration_ms, requested, succeeded, empty, failed, records)
VALUES (:id, :network, :started_at, :duration_ms, :requested, :succeeded, :empty, :failed, :records)`

	insertRecordQuery = `
INSERT INTO duty_records (network, epoch, slot, validator_index, public_key, run_id)
VALUES (:network, :epoch, :slot, :validator_index, :public_key, :run_id)`

	// A failed outcome never replaces a resolved one.
	upsertOutcomeQuery = `
INSERT INTO epoch_outcomes (network, epoch, status, records, error, run_id, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (network, epoch) DO UPDATE
SET status = EXCLUDED.status,
    records = EXCLUDED.records,
    error = EXCLUDED.error,
    run_id = EXCLUDED.run_id,
    updated_at = EXCLUDED.updated_at
WHERE epoch_outcomes.status = 'failed' OR EXCLUDED.status <> 'failed'`
)

// SaveRun stores a batch result in one transaction: the run, the records of
// resolved epochs (replacing earlier rows of those epochs) and one outcome
// per epoch, all under the store's network. It returns the run id.
func (s *Store) SaveRun(ctx context.Context, res *batch.Result) (uuid.UUID, error) {
	runID := uuid.New()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	run := runRow{
		ID:         runID,
		Network:    s.network,
		StartedAt:  res.Started,
		DurationMS: res.Duration.Milliseconds(),
		Requested:  res.Requested,
		Succeeded:  res.Succeeded,
		Empty:      res.Empty,
		Failed:     len(res.Failed),
		Records:    len(res.Records),
	}
	if _, err := tx.NamedExecContext(ctx, insertRunQuery, run); err != nil {
		return uuid.Nil, fmt.Errorf("insert run: %w", err)
	}

	resolved := make([]int64, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		if o.Resolved() {
			resolved = append(resolved, int64(o.Epoch))
		}
	}
	if len(resolved) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM duty_records WHERE network = $1 AND epoch = ANY($2)`, s.network, resolved); err != nil {
			return uuid.Nil, fmt.Errorf("delete replaced records: %w", err)
		}
	}

	rows := make([]recordRow, 0, min(len(res.Records), insertChunk))
	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		if _, err := tx.NamedExecContext(ctx, insertRecordQuery, rows); err != nil {
			return fmt.Errorf("insert records: %w", err)
		}
		rows = rows[:0]
		return nil
	}
	for _, r := range res.Records {
		rows = append(rows, recordRow{
			Network:        s.network,
			Epoch:          int64(r.Epoch),
			Slot:           r.Slot,
			ValidatorIndex: r.ValidatorIndex,
			PublicKey:      r.PublicKey,
			RunID:          runID,
		})
		if len(rows) == insertChunk {
			if err := flush(); err != nil {
				return uuid.Nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return uuid.Nil, err
	}

	stmt, err := tx.PreparexContext(ctx, upsertOutcomeQuery)
	if err != nil {
		return uuid.Nil, fmt.Errorf("prepare outcome upsert: %w", err)
	}
	defer stmt.Close()

	for _, o := range res.Outcomes {
		entry := dataset.LedgerEntryFor(o)
		if _, err := stmt.ExecContext(ctx, s.network, int64(entry.Epoch), string(entry.Status), entry.Records, entry.Error, runID); err != nil {
			return uuid.Nil, fmt.Errorf("upsert outcome of epoch %d: %w", o.Epoch, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit run: %w", err)
	}

	s.logger.Info().
		Str("run_id", runID.String()).
		Int("epochs", len(res.Outcomes)).
		Int("records", len(res.Records)).
		Msg("Stored fetch run")

	return runID, nil
}

// Epochs returns the resolved (success or empty) epochs, ascending.
// It implements gaps.Source.
func (s *Store) Epochs(ctx context.Context) ([]uint64, error) {
	return s.epochsWhere(ctx, `SELECT epoch FROM epoch_outcomes WHERE network = $1 AND status <> 'failed' ORDER BY epoch`)
}

// FailedEpochs returns epochs whose stored outcome is failed, ascending.
func (s *Store) FailedEpochs(ctx context.Context) ([]uint64, error) {
	return s.epochsWhere(ctx, `SELECT epoch FROM epoch_outcomes WHERE network = $1 AND status = 'failed' ORDER BY epoch`)
}

func (s *Store) epochsWhere(ctx context.Context, query string) ([]uint64, error) {
	var raw []int64
	if err := s.db.SelectContext(ctx, &raw, query, s.network); err != nil {
		return nil, fmt.Errorf("select epochs: %w", err)
	}

	epochs := make([]uint64, len(raw))
	for i, e := range raw {
		epochs[i] = uint64(e)
	}
	return epochs, nil
}

// Records returns the stored records of epochs in [start, end], ordered by
// epoch and insertion.
func (s *Store) Records(ctx context.Context, start, end uint64) ([]duty.Record, error) {
	var rows []recordRow
	err := s.db.SelectContext(ctx, &rows, `
SELECT network, epoch, slot, validator_index, public_key, run_id
FROM duty_records
WHERE network = $1 AND epoch BETWEEN $2 AND $3
ORDER BY epoch, id`, s.network, int64(start), int64(end))
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}

	records := make([]duty.Record, len(rows))
	for i, r := range rows {
		records[i] = duty.Record{
			Epoch:          uint64(r.Epoch),
			Slot:           r.Slot,
			ValidatorIndex: r.ValidatorIndex,
			PublicKey:      r.PublicKey,
		}
	}
	return records, nil
}
