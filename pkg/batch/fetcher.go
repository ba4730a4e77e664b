package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/beacon-duty-fetcher/pkg/duty"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/ratelimit"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNoIdentifiers is returned when FetchBatch is called without epochs.
	ErrNoIdentifiers = errors.New("no epochs to fetch")

	// ErrInvalidConcurrency is returned when Concurrency is below 1.
	ErrInvalidConcurrency = errors.New("concurrency must be at least 1")
)

// Config holds batch fetcher configuration.
type Config struct {
	// Concurrency is the number of workers and so the maximum number of
	// requests in flight.
	Concurrency int

	// RateLimitInterval is the minimum spacing between epoch fetches across
	// all workers. 0 disables limiting. Ignored when WithLimiter is used.
	// Only the start of each fetch is gated; a Source that retries should
	// hold the limiter itself, with WithLimiter(ratelimit.Unlimited()) here.
	RateLimitInterval time.Duration

	// Timeout per epoch fetch, retries included. 0 means no timeout.
	Timeout time.Duration

	// BufferSize of the outcome channel (default: Concurrency).
	BufferSize int
}

// DefaultConfig returns a configuration of 15 workers at roughly 15
// requests per second.
func DefaultConfig() Config {
	return Config{
		Concurrency:       15,
		RateLimitInterval: ratelimit.PerSecond(15),
		Timeout:           2 * time.Minute,
	}
}

// Source fetches the duties of one epoch. Implementations report every
// failure through the returned outcome.
type Source interface {
	Fetch(ctx context.Context, epoch uint64) duty.Outcome
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, epoch uint64) duty.Outcome

// Fetch calls f(ctx, epoch).
func (f SourceFunc) Fetch(ctx context.Context, epoch uint64) duty.Outcome {
	return f(ctx, epoch)
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLimiter replaces the interval limiter built from Config.RateLimitInterval.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithObserver registers an observer for progress callbacks.
func WithObserver(o Observer) Option {
	return func(f *Fetcher) { f.observer = o }
}

// WithLogger sets the fetcher logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Fetcher) { f.logger = logger }
}

// Fetcher fetches batches of epochs with a bounded worker pool.
type Fetcher struct {
	source   Source
	limiter  ratelimit.Limiter
	observer Observer
	config   Config
	logger   zerolog.Logger
}

// New creates a new batch fetcher.
func New(source Source, config Config, opts ...Option) (*Fetcher, error) {
	if source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if config.Concurrency < 1 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidConcurrency, config.Concurrency)
	}
	if config.BufferSize <= 0 {
		config.BufferSize = config.Concurrency
	}

	f := &Fetcher{
		source:   source,
		observer: nopObserver{},
		config:   config,
		logger:   log.With().Str("component", "batch-fetcher").Logger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.limiter == nil {
		f.limiter = ratelimit.NewIntervalLimiter(config.RateLimitInterval)
	}
	if f.observer == nil {
		f.observer = nopObserver{}
	}

	return f, nil
}

// FetchBatch fetches every epoch once and returns the aggregated result.
// Duplicate epochs collapse. Per-epoch failures never fail the batch; they
// end up in Result.Failed. When ctx is cancelled, epochs not yet fetched are
// recorded as failed with the context error, so the result still accounts
// for every requested epoch.
func (f *Fetcher) FetchBatch(ctx context.Context, epochs []uint64) (*Result, error) {
	epochs = duty.Normalize(epochs)
	if len(epochs) == 0 {
		return nil, ErrNoIdentifiers
	}

	res := newResult(len(epochs))
	workers := min(f.config.Concurrency, len(epochs))

	f.logger.Info().
		Int("epochs", len(epochs)).
		Uint64("first_epoch", epochs[0]).
		Uint64("last_epoch", epochs[len(epochs)-1]).
		Int("workers", workers).
		Msg("Starting batch fetch")

	queue := make(chan uint64, len(epochs))
	for _, epoch := range epochs {
		queue <- epoch
	}
	close(queue)

	outcomes := make(chan duty.Outcome, f.config.BufferSize)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go f.worker(ctx, queue, outcomes, &wg, i)
	}

	// Close outcomes when all workers are done
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	// Single coordinator: only this loop touches res.
	for outcome := range outcomes {
		res.add(outcome)

		if outcome.Status == duty.StatusFailed {
			f.logger.Warn().
				Err(outcome.Err).
				Uint64("epoch", outcome.Epoch).
				Msg("Epoch fetch failed")
		}

		f.observer.OnComplete(Progress{
			Epoch:   outcome.Epoch,
			Status:  outcome.Status,
			Done:    len(res.Outcomes),
			Total:   res.Requested,
			Failed:  len(res.Failed),
			Records: len(res.Records),
			Elapsed: time.Since(res.Started),
		})
	}

	res.Duration = time.Since(res.Started)
	summary := res.Summary()
	f.observer.OnFinish(summary)

	event := f.logger.Info()
	if ctx.Err() != nil {
		event = f.logger.Warn().AnErr("cause", ctx.Err())
	}
	event.
		Int("epochs", summary.Total).
		Int("succeeded", summary.Succeeded).
		Int("empty", summary.Empty).
		Int("failed", summary.Failed).
		Int("records", summary.Records).
		Dur("duration", summary.Duration).
		Msg("Batch fetch complete")

	return res, nil
}

// worker processes epochs from the queue.
func (f *Fetcher) worker(ctx context.Context, queue <-chan uint64, outcomes chan<- duty.Outcome, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for epoch := range queue {
		outcomes <- f.fetchOne(ctx, epoch)
		processed++
	}

	f.logger.Debug().
		Int("worker_id", workerID).
		Int("epochs_processed", processed).
		Msg("Worker completed")
}

func (f *Fetcher) fetchOne(ctx context.Context, epoch uint64) duty.Outcome {
	if err := ctx.Err(); err != nil {
		return duty.Failed(epoch, fmt.Errorf("not fetched: %w", err))
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return duty.Failed(epoch, fmt.Errorf("rate limiter: %w", err))
	}

	fetchCtx := ctx
	if f.config.Timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, f.config.Timeout)
		defer cancel()
	}

	outcome := f.source.Fetch(fetchCtx, epoch)
	outcome.Epoch = epoch
	if outcome.Status == duty.StatusFailed && outcome.Err == nil {
		outcome.Err = fmt.Errorf("epoch %d failed without error", epoch)
	}
	return outcome
}
