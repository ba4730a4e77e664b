// Package progress provides batch.Observer implementations.
package progress

import (
	"time"

	"github.com/Sternrassler/beacon-duty-fetcher/pkg/batch"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Reporter logs batch progress with an ETA based on the average time per
// completed epoch.
type Reporter struct {
	logger  zerolog.Logger
	clock   clockwork.Clock
	every   int
	started time.Time
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithClock sets the clock used for elapsed time and ETA.
func WithClock(clock clockwork.Clock) Option {
	return func(r *Reporter) { r.clock = clock }
}

// WithEvery logs every n completions; the last completion is always logged.
func WithEvery(n int) Option {
	return func(r *Reporter) {
		if n > 0 {
			r.every = n
		}
	}
}

// NewReporter creates a reporter. The clock starts now.
func NewReporter(logger zerolog.Logger, opts ...Option) *Reporter {
	r := &Reporter{
		logger: logger,
		clock:  clockwork.NewRealClock(),
		every:  50,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.started = r.clock.Now()
	return r
}

// ETA estimates the remaining time from the average time per completion.
func ETA(elapsed time.Duration, done, total int) time.Duration {
	if done <= 0 || done >= total {
		return 0
	}
	perEpoch := elapsed / time.Duration(done)
	return perEpoch * time.Duration(total-done)
}

// OnComplete implements batch.Observer.
func (r *Reporter) OnComplete(p batch.Progress) {
	if p.Done%r.every != 0 && p.Done != p.Total {
		return
	}

	elapsed := r.clock.Since(r.started)
	event := r.logger.Info().
		Int("done", p.Done).
		Int("total", p.Total).
		Int("failed", p.Failed).
		Int("records", p.Records).
		Float64("progress_pct", float64(p.Done)/float64(p.Total)*100).
		Dur("elapsed", elapsed).
		Dur("eta", ETA(elapsed, p.Done, p.Total))
	if secs := elapsed.Seconds(); secs > 0 {
		event = event.Float64("epochs_per_sec", float64(p.Done)/secs)
	}
	event.Msg("Fetch progress")
}

// OnFinish implements batch.Observer.
func (r *Reporter) OnFinish(s batch.Summary) {
	r.logger.Info().
		Int("epochs", s.Total).
		Int("succeeded", s.Succeeded).
		Int("empty", s.Empty).
		Int("failed", s.Failed).
		Int("records", s.Records).
		Dur("runtime", s.Duration).
		Msg("Fetch finished")
}
