// Package metrics provides the Prometheus registry and /metrics endpoint for
// the duty fetcher. All metrics are defined in their respective packages
// (client, cache, ratelimit, progress) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry is the default Prometheus registry used by the duty fetcher.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Path is where Handler is mounted.
const Path = "/metrics"

// Handler returns the HTTP handler exposing all registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes Handler on ln until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle(Path, Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - duty_requests_total{status} (Counter): Requests by HTTP status, "cached" or "network_error"
//   - duty_request_duration_seconds (Histogram): Request duration including retries
//   - duty_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - duty_retries_total{error_class} (Counter): Retry attempts by error class
//   - duty_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - duty_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Rate Limit Metrics (pkg/ratelimit):
//   - duty_rate_limit_cooldowns_total (Counter): 429 responses that started or extended a cooldown
//   - duty_rate_limit_waits_total (Counter): Requests that waited for a cooldown
//   - duty_rate_limit_cooldown_seconds (Gauge): Last cooldown imposed by Retry-After
//
// Cache Metrics (pkg/cache):
//   - duty_cache_hits_total (Counter): Cache hits
//   - duty_cache_misses_total (Counter): Cache misses
//   - duty_cache_size_bytes (Counter): Bytes written to the cache
//   - duty_cache_errors_total{operation} (Counter): Cache operation errors
//
// Batch Metrics (pkg/progress):
//   - duty_batch_completed (Gauge): Epochs completed in the current batch
//   - duty_batch_total (Gauge): Epochs requested in the current batch
//   - duty_batch_failed (Gauge): Epochs failed in the current batch
//   - duty_batch_records (Gauge): Duty records collected in the current batch
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(duty_cache_hits_total[5m])) /
//   (sum(rate(duty_cache_hits_total[5m])) + sum(rate(duty_cache_misses_total[5m])))
//
//   # Batch completion
//   duty_batch_completed / duty_batch_total
//
//   # Request Error Rate by class
//   sum by (class) (rate(duty_errors_total[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(duty_request_duration_seconds_bucket[5m]))
