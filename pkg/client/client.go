// Package client provides the beacon node HTTP client for proposer duties,
// with rate limiting, retry, optional response caching and error handling.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/beacon-duty-fetcher/pkg/cache"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/duty"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ProposerDutiesPath is the beacon API path for proposer duties, relative to the base URL.
const ProposerDutiesPath = "/eth/v1/validator/duties/proposer/"

// DefaultCacheTTL bounds how long a cached duties response is served.
// Duties for epochs near the head can still change with a reorg.
const DefaultCacheTTL = time.Hour

// maxErrorBody caps how much of an error body ends up in a BeaconError.
const maxErrorBody = 256

// Prometheus metrics for beacon client operations.
var (
	dutyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duty_requests_total",
		Help: "Total proposer duty requests by status",
	}, []string{"status"})

	dutyRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "duty_request_duration_seconds",
		Help:    "Proposer duty request duration in seconds, including retries",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	dutyErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duty_errors_total",
		Help: "Total proposer duty request errors by class",
	}, []string{"class"})
)

// Config holds the client configuration.
type Config struct {
	// BaseURL of the beacon node. May embed a provider token in the path,
	// e.g. https://name.quiknode.pro/<token>. It is never logged verbatim.
	BaseURL string

	// APIKey is sent in APIKeyHeader when set.
	APIKey       string
	APIKeyHeader string

	UserAgent string

	// Timeout per HTTP attempt.
	Timeout time.Duration

	// CacheTTL for cached responses; 0 keeps them until deleted.
	// Only used with WithCache.
	CacheTTL time.Duration

	// Retry overrides RetryConfigForErrorClass.
	Retry RetryPolicy
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		APIKeyHeader: "X-API-Key",
		UserAgent:    "beacon-duty-fetcher",
		Timeout:      30 * time.Second,
		CacheTTL:     DefaultCacheTTL,
	}
}

// Option configures a Client.
type Option func(*Client)

// WithLimiter sets the limiter every attempt waits on.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithTracker shares 429 cooldowns through t.
func WithTracker(t *ratelimit.Tracker) Option {
	return func(c *Client) { c.tracker = t }
}

// WithCache serves and stores responses through m.
func WithCache(m *cache.Manager) Option {
	return func(c *Client) { c.cache = m }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client fetches proposer duties from a beacon node.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	redacted   string
	limiter    ratelimit.Limiter
	tracker    *ratelimit.Tracker
	gate       ratelimit.Limiter
	cache      *cache.Manager
	config     Config
	logger     zerolog.Logger
}

// New creates a new beacon client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: base url %s does not parse", ErrInvalidConfig, RedactURL(cfg.BaseURL))
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("%w: base url scheme must be http or https, got %q", ErrInvalidConfig, base.Scheme)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("%w: base url has no host", ErrInvalidConfig)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "beacon-duty-fetcher"
	}
	if cfg.APIKey != "" && cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-API-Key"
	}
	if cfg.Retry == nil {
		cfg.Retry = RetryConfigForErrorClass
	}

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    base,
		redacted:   RedactURL(cfg.BaseURL),
		limiter:    ratelimit.Unlimited(),
		config:     cfg,
		logger:     log.With().Str("component", "beacon-client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		c.limiter = ratelimit.Unlimited()
	}

	// A 429 cooldown is honored before a token is taken from the bucket.
	if c.tracker != nil {
		c.gate = ratelimit.Chain(c.tracker, c.limiter)
	} else {
		c.gate = ratelimit.Chain(c.limiter)
	}

	return c, nil
}

// Endpoint returns the redacted duties URL for epoch, safe to log.
func (c *Client) Endpoint(epoch uint64) string {
	return RedactURL(c.dutiesURL(epoch))
}

// Fetch implements batch.Source.
func (c *Client) Fetch(ctx context.Context, epoch uint64) duty.Outcome {
	return c.ProposerDuties(ctx, epoch)
}

// ProposerDuties fetches the proposer duties of one epoch. Transport
// failures, exhausted retries, 4xx responses and non-JSON bodies yield a
// Failed outcome. A JSON body whose data field is absent, empty or not a
// list of objects yields Empty.
func (c *Client) ProposerDuties(ctx context.Context, epoch uint64) duty.Outcome {
	key := cache.Key{Endpoint: ProposerDutiesPath, Epoch: epoch}

	if c.cache != nil {
		entry, err := c.cache.Get(ctx, key)
		switch {
		case err == nil:
			records, decodeErr := duty.DecodeProposerDuties(epoch, entry.Data)
			if decodeErr == nil {
				dutyRequestsTotal.WithLabelValues("cached").Inc()
				c.logger.Debug().Uint64("epoch", epoch).Msg("Serving duties from cache")
				return duty.Succeeded(epoch, records)
			}
			c.logger.Warn().Err(decodeErr).Uint64("epoch", epoch).Msg("Discarding undecodable cache entry")
			if err := c.cache.Delete(ctx, key); err != nil {
				c.logger.Warn().Err(err).Uint64("epoch", epoch).Msg("Cache delete error")
			}
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Uint64("epoch", epoch).Msg("Cache get error")
		}
	}

	startTime := time.Now()
	resp, body, err := c.get(ctx, epoch)
	dutyRequestDuration.Observe(time.Since(startTime).Seconds())
	if err != nil {
		return duty.Failed(epoch, err)
	}

	records, err := duty.DecodeProposerDuties(epoch, body)
	switch {
	case errors.Is(err, duty.ErrMalformedResponse):
		// The request itself succeeded; an unusable data field resolves as empty.
		c.logger.Warn().Err(err).Uint64("epoch", epoch).Msg("Malformed duties data, treating epoch as empty")
		return duty.Succeeded(epoch, nil)
	case err != nil:
		c.logger.Warn().Err(err).Uint64("epoch", epoch).Msg("Undecodable duties response")
		return duty.Failed(epoch, fmt.Errorf("decode epoch %d: %w", epoch, err))
	}

	if c.cache != nil {
		c.store(ctx, key, resp)
	}

	return duty.Succeeded(epoch, records)
}

// get performs the request with retry and returns the final 2xx response and its body.
func (c *Client) get(ctx context.Context, epoch uint64) (*http.Response, []byte, error) {
	target := c.dutiesURL(epoch)
	logger := c.logger.With().Uint64("epoch", epoch).Logger()

	var (
		resp *http.Response
		body []byte
	)

	err := retryWithBackoff(ctx, c.config.Retry, logger, func() (ErrorClass, error) {
		if err := c.gate.Wait(ctx); err != nil {
			return "", err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return "", fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.config.UserAgent)
		if c.config.APIKey != "" {
			req.Header.Set(c.config.APIKeyHeader, c.config.APIKey)
		}

		r, err := c.httpClient.Do(req)
		if err != nil {
			var urlErr *url.Error
			if errors.As(err, &urlErr) {
				urlErr.URL = RedactURL(urlErr.URL)
			}
			if isCancellation(ctx, err) {
				return "", err
			}
			dutyErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			dutyRequestsTotal.WithLabelValues("network_error").Inc()
			logger.Warn().Err(err).Msg("Duties request failed")
			return ErrorClassNetwork, &BeaconError{
				ErrorClass: ErrorClassNetwork,
				URL:        c.Endpoint(epoch),
				Message:    "request failed",
				Err:        err,
			}
		}
		defer r.Body.Close()

		data, err := io.ReadAll(r.Body)
		if err != nil {
			if isCancellation(ctx, err) {
				return "", err
			}
			dutyErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			dutyRequestsTotal.WithLabelValues("network_error").Inc()
			return ErrorClassNetwork, &BeaconError{
				StatusCode: r.StatusCode,
				ErrorClass: ErrorClassNetwork,
				URL:        c.Endpoint(epoch),
				Message:    "read body",
				Err:        err,
			}
		}

		dutyRequestsTotal.WithLabelValues(strconv.Itoa(r.StatusCode)).Inc()

		if c.tracker != nil {
			if err := c.tracker.Observe(ctx, r.StatusCode, r.Header); err != nil {
				logger.Warn().Err(err).Msg("Failed to record rate limit state")
			}
		}

		if r.StatusCode >= 200 && r.StatusCode < 300 {
			r.Body = io.NopCloser(bytes.NewReader(data))
			resp, body = r, data
			return "", nil
		}

		class := classifyStatus(r.StatusCode)
		dutyErrorsTotal.WithLabelValues(string(class)).Inc()
		logger.Warn().
			Int("status", r.StatusCode).
			Str("error_class", string(class)).
			Msg("Duties request error")

		return class, &BeaconError{
			StatusCode: r.StatusCode,
			ErrorClass: class,
			URL:        c.Endpoint(epoch),
			Message:    errorMessage(r.Status, data),
		}
	})
	if err != nil {
		return nil, nil, err
	}

	return resp, body, nil
}

func (c *Client) store(ctx context.Context, key cache.Key, resp *http.Response) {
	entry, err := cache.ResponseToEntry(resp, c.config.CacheTTL)
	if err != nil {
		c.logger.Warn().Err(err).Uint64("epoch", key.Epoch).Msg("Failed to create cache entry")
		return
	}

	if err := c.cache.Set(ctx, key, entry); err != nil {
		c.logger.Warn().Err(err).Uint64("epoch", key.Epoch).Msg("Failed to cache response")
		return
	}
	c.logger.Debug().Uint64("epoch", key.Epoch).Msg("Cached response")
}

func (c *Client) dutiesURL(epoch uint64) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + ProposerDutiesPath + strconv.FormatUint(epoch, 10)
	u.RawPath = ""
	return u.String()
}

// errorMessage combines the status line with the head of the body.
func errorMessage(status string, body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return status
	}
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}
	return status + ": " + text
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// BaseURL returns the redacted base URL, safe to log.
func (c *Client) BaseURL() string {
	return c.redacted
}
