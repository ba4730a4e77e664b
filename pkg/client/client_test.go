package client

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/beacon-duty-fetcher/internal/testutil"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/duty"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/ratelimit"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secretPrefix = "/s3cr3t-t0ken"

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()

	cfg := DefaultConfig(baseURL)
	cfg.Timeout = 2 * time.Second
	cfg.Retry = fastPolicy(3)

	c, err := New(cfg, append([]Option{WithLogger(zerolog.Nop())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid config",
			config: DefaultConfig("https://node.example/token"),
		},
		{
			name:   "valid plain http",
			config: Config{BaseURL: "http://localhost:5052"},
		},
		{
			name:        "missing base url",
			config:      Config{},
			expectError: true,
			errorMsg:    "base url is required",
		},
		{
			name:        "unsupported scheme",
			config:      Config{BaseURL: "ftp://node.example"},
			expectError: true,
			errorMsg:    "scheme must be http or https",
		},
		{
			name:        "relative url",
			config:      Config{BaseURL: "/eth/v1"},
			expectError: true,
			errorMsg:    "scheme must be http or https",
		},
		{
			name:        "no host",
			config:      Config{BaseURL: "https://"},
			expectError: true,
			errorMsg:    "no host",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)
			if tt.expectError {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidConfig)
				assert.Contains(t, err.Error(), tt.errorMsg)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, c)
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(Config{BaseURL: "http://localhost:5052", APIKey: "k"})
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, c.config.Timeout)
	assert.Equal(t, "beacon-duty-fetcher", c.config.UserAgent)
	assert.Equal(t, "X-API-Key", c.config.APIKeyHeader)
	assert.NotNil(t, c.config.Retry)
	assert.NotNil(t, c.limiter)
}

func TestDefaultConfig_CacheExpires(t *testing.T) {
	cfg := DefaultConfig("http://localhost:5052")
	assert.Equal(t, DefaultCacheTTL, cfg.CacheTTL)
	assert.Positive(t, cfg.CacheTTL)
}

func TestProposerDuties_Success(t *testing.T) {
	mock := testutil.NewMockBeacon(secretPrefix)
	defer mock.Close()

	cfg := DefaultConfig(mock.URL())
	cfg.APIKey = "key-123"
	cfg.UserAgent = "duty-test/1.0"
	c, err := New(cfg, WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	outcome := c.ProposerDuties(context.Background(), 7)

	require.NoError(t, outcome.Err)
	assert.Equal(t, duty.StatusSuccess, outcome.Status)
	assert.Equal(t, uint64(7), outcome.Epoch)
	require.Len(t, outcome.Records, testutil.SlotsPerEpoch)
	assert.Equal(t, "224", outcome.Records[0].Slot)
	for _, r := range outcome.Records {
		assert.Equal(t, uint64(7), r.Epoch)
	}

	headers := mock.GetLastRequestHeader()
	assert.Equal(t, "application/json", headers.Get("Accept"))
	assert.Equal(t, "duty-test/1.0", headers.Get("User-Agent"))
	assert.Equal(t, "key-123", headers.Get("X-API-Key"))
	assert.Equal(t, secretPrefix+testutil.ProposerDutiesPrefix+"7", mock.LastPath)
}

func TestProposerDuties_EmptyIsNotFailure(t *testing.T) {
	mock := testutil.NewMockBeacon("")
	defer mock.Close()

	mock.SetResponse(1, testutil.NewEmptyResponse())
	mock.SetResponse(2, testutil.NewJSONResponse(`{"execution_optimistic":false}`))
	mock.SetResponse(3, testutil.NewJSONResponse(`{"data":null}`))

	c := newTestClient(t, mock.URL())

	for _, epoch := range []uint64{1, 2, 3} {
		outcome := c.ProposerDuties(context.Background(), epoch)
		assert.Equal(t, duty.StatusEmpty, outcome.Status, "epoch %d", epoch)
		assert.NoError(t, outcome.Err)
		assert.Empty(t, outcome.Records)
		assert.True(t, outcome.Resolved())
	}
}

func TestProposerDuties_PartialFieldsBecomeNotAvailable(t *testing.T) {
	mock := testutil.NewMockBeacon("")
	defer mock.Close()

	mock.SetResponse(5, testutil.NewJSONResponse(`{"data":[{"slot":"160"}]}`))

	c := newTestClient(t, mock.URL())
	outcome := c.ProposerDuties(context.Background(), 5)

	require.Equal(t, duty.StatusSuccess, outcome.Status)
	require.Len(t, outcome.Records, 1)
	assert.Equal(t, duty.Record{Epoch: 5, Slot: "160", ValidatorIndex: duty.NotAvailable, PublicKey: duty.NotAvailable}, outcome.Records[0])
}

func TestProposerDuties_ClientErrorNotRetried(t *testing.T) {
	mock := testutil.NewMockBeacon(secretPrefix)
	defer mock.Close()

	mock.SetResponse(99, testutil.NewNotFoundResponse())

	c := newTestClient(t, mock.URL())
	outcome := c.ProposerDuties(context.Background(), 99)

	assert.Equal(t, duty.StatusFailed, outcome.Status)
	assert.Equal(t, 1, mock.GetEpochRequests(99))

	var beaconErr *BeaconError
	require.ErrorAs(t, outcome.Err, &beaconErr)
	assert.Equal(t, http.StatusNotFound, beaconErr.StatusCode)
	assert.Equal(t, ErrorClassClient, beaconErr.ErrorClass)
	assert.Contains(t, beaconErr.Message, "Epoch not found")
	assert.NotContains(t, outcome.Err.Error(), strings.TrimPrefix(secretPrefix, "/"))
}

func TestProposerDuties_ServerErrorRetried(t *testing.T) {
	mock := testutil.NewMockBeacon("")
	defer mock.Close()

	mock.SetResponse(3,
		testutil.NewServerErrorResponse(),
		testutil.MockResponse{StatusCode: http.StatusOK, Body: string(testutil.DefaultDuties(3))},
	)

	c := newTestClient(t, mock.URL())
	outcome := c.ProposerDuties(context.Background(), 3)

	require.NoError(t, outcome.Err)
	assert.Equal(t, duty.StatusSuccess, outcome.Status)
	assert.Equal(t, 2, mock.GetEpochRequests(3))
}

func TestProposerDuties_RetryExhausted(t *testing.T) {
	mock := testutil.NewMockBeacon("")
	defer mock.Close()

	mock.SetResponse(4, testutil.NewServerErrorResponse())

	c := newTestClient(t, mock.URL())
	outcome := c.ProposerDuties(context.Background(), 4)

	assert.Equal(t, duty.StatusFailed, outcome.Status)
	assert.ErrorIs(t, outcome.Err, ErrRetryExhausted)
	assert.Equal(t, 3, mock.GetEpochRequests(4))

	var beaconErr *BeaconError
	require.ErrorAs(t, outcome.Err, &beaconErr)
	assert.Equal(t, ErrorClassServer, beaconErr.ErrorClass)
}

func TestProposerDuties_RateLimitFeedsTracker(t *testing.T) {
	mock := testutil.NewMockBeacon("")
	defer mock.Close()

	mock.SetResponse(8,
		testutil.NewRateLimitResponse("0"),
		testutil.MockResponse{StatusCode: http.StatusOK, Body: string(testutil.DefaultDuties(8))},
	)

	tracker := ratelimit.NewTracker(nil, zerolog.Nop())
	c := newTestClient(t, mock.URL(), WithTracker(tracker))

	outcome := c.ProposerDuties(context.Background(), 8)
	require.NoError(t, outcome.Err)
	assert.Equal(t, 2, mock.GetEpochRequests(8))

	state, err := tracker.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Hits)
}

func TestProposerDuties_InvalidBodies(t *testing.T) {
	mock := testutil.NewMockBeacon("")
	defer mock.Close()

	mock.SetResponse(6, testutil.NewJSONResponse(`<html>bad gateway</html>`))
	mock.SetResponse(7, testutil.NewJSONResponse(`{"data":{"slot":"1"}}`))

	c := newTestClient(t, mock.URL())

	outcome := c.ProposerDuties(context.Background(), 6)
	assert.Equal(t, duty.StatusFailed, outcome.Status)
	assert.Error(t, outcome.Err)
	assert.Equal(t, 1, mock.GetEpochRequests(6))

	outcome = c.ProposerDuties(context.Background(), 7)
	assert.Equal(t, duty.StatusEmpty, outcome.Status, "malformed data resolves as empty")
	assert.NoError(t, outcome.Err)
}

func TestProposerDuties_NetworkErrorRedacted(t *testing.T) {
	mock := testutil.NewMockBeacon(secretPrefix)
	url := mock.URL()
	mock.Close()

	c := newTestClient(t, url)
	outcome := c.ProposerDuties(context.Background(), 1)

	assert.Equal(t, duty.StatusFailed, outcome.Status)
	assert.ErrorIs(t, outcome.Err, ErrRetryExhausted)

	var beaconErr *BeaconError
	require.ErrorAs(t, outcome.Err, &beaconErr)
	assert.Equal(t, ErrorClassNetwork, beaconErr.ErrorClass)
	assert.NotContains(t, outcome.Err.Error(), strings.TrimPrefix(secretPrefix, "/"))
}

func TestProposerDuties_ContextCancelled(t *testing.T) {
	mock := testutil.NewMockBeacon("")
	defer mock.Close()

	c := newTestClient(t, mock.URL())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := c.ProposerDuties(ctx, 1)
	assert.Equal(t, duty.StatusFailed, outcome.Status)
	assert.ErrorIs(t, outcome.Err, context.Canceled)
	assert.Equal(t, 0, mock.GetRequestCount())
}

func TestProposerDuties_WaitsOnLimiter(t *testing.T) {
	mock := testutil.NewMockBeacon("")
	defer mock.Close()

	mock.SetResponse(2, testutil.NewServerErrorResponse(), testutil.NewEmptyResponse())

	var waits atomic.Int32
	limiter := ratelimit.LimiterFunc(func(ctx context.Context) error {
		waits.Add(1)
		return nil
	})

	c := newTestClient(t, mock.URL(), WithLimiter(limiter))
	outcome := c.ProposerDuties(context.Background(), 2)

	assert.Equal(t, duty.StatusEmpty, outcome.Status)
	assert.Equal(t, int32(2), waits.Load(), "every attempt waits on the limiter")
}

func TestProposerDuties_RetryWaitsOnIntervalLimiter(t *testing.T) {
	mock := testutil.NewMockBeacon("")
	defer mock.Close()

	mock.SetResponse(6,
		testutil.NewServerErrorResponse(),
		testutil.NewJSONResponse(string(testutil.DefaultDuties(6))),
	)

	const interval = 80 * time.Millisecond
	c := newTestClient(t, mock.URL(), WithLimiter(ratelimit.NewIntervalLimiter(interval)))

	outcome := c.ProposerDuties(context.Background(), 6)
	require.NoError(t, outcome.Err)
	assert.Equal(t, duty.StatusSuccess, outcome.Status)

	arrivals := mock.GetEpochArrivals(6)
	require.Len(t, arrivals, 2)
	// The retry backoff alone is far shorter than the interval
	assert.GreaterOrEqual(t, arrivals[1].Sub(arrivals[0]), interval-10*time.Millisecond)
}

func TestProposerDuties_LimiterErrorFails(t *testing.T) {
	mock := testutil.NewMockBeacon("")
	defer mock.Close()

	limiterErr := errors.New("limiter closed")
	c := newTestClient(t, mock.URL(), WithLimiter(ratelimit.LimiterFunc(func(context.Context) error {
		return limiterErr
	})))

	outcome := c.ProposerDuties(context.Background(), 2)
	assert.Equal(t, duty.StatusFailed, outcome.Status)
	assert.ErrorIs(t, outcome.Err, limiterErr)
	assert.Equal(t, 0, mock.GetRequestCount())
}

func TestFetch_DelegatesToProposerDuties(t *testing.T) {
	mock := testutil.NewMockBeacon("")
	defer mock.Close()

	c := newTestClient(t, mock.URL())
	outcome := c.Fetch(context.Background(), 11)

	assert.Equal(t, duty.StatusSuccess, outcome.Status)
	assert.Equal(t, 1, mock.GetEpochRequests(11))
}

func TestEndpoint_Redacted(t *testing.T) {
	c, err := New(Config{BaseURL: "https://name.quiknode.pro/abc123/"})
	require.NoError(t, err)

	assert.Equal(t, "https://name.quiknode.pro/***/eth/v1/validator/duties/proposer/42", c.Endpoint(42))
	assert.Equal(t, "https://name.quiknode.pro/***", c.BaseURL())
}
