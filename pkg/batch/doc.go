// Package batch provides concurrent batch fetching of proposer duties.
//
// A fixed pool of workers pulls epochs from a queue and asks a Source for
// each epoch's outcome. Workers only produce immutable duty.Outcome values;
// the goroutine calling FetchBatch is the single coordinator that appends
// them to the Result, so the aggregate needs no locks. Every fetch first
// waits on an injected ratelimit.Limiter. When the Source retries, as the
// beacon client does, hand the limiter to the Source instead so every
// attempt is paced.
//
// Example usage:
//
//	cfg := batch.DefaultConfig()
//	fetcher, err := batch.New(beaconClient, cfg, batch.WithObserver(reporter))
//	res, err := fetcher.FetchBatch(ctx, epochs)
//	err = batch.Writer{OutputPath: "duties.csv", FailedPath: "failed_epochs.txt"}.WriteResult(res)
//
// The batch fetcher:
//   - Deduplicates and sorts the requested epochs
//   - Spawns exactly Concurrency workers (default 15), bounding in-flight requests
//   - Collects outcomes in completion order and notifies the Observer
//   - Isolates failures: a failed epoch never aborts the batch
//   - Accounts for every requested epoch, even after cancellation
package batch
