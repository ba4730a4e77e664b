// Package testutil provides testing utilities for the duty fetcher.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ProposerDutiesPrefix is the path prefix the mock serves duties under.
const ProposerDutiesPrefix = "/eth/v1/validator/duties/proposer/"

// SlotsPerEpoch is the number of duties the default handler returns per epoch.
const SlotsPerEpoch = 32

// MockResponse defines the behavior for a mock beacon endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockBeacon is a configurable mock beacon node serving proposer duties.
type MockBeacon struct {
	server *httptest.Server
	prefix string

	mu        sync.RWMutex
	responses map[uint64][]MockResponse
	requests  map[uint64]int
	arrivals  map[uint64][]time.Time

	// Tracking
	RequestCount      int
	InFlight          int
	MaxInFlight       int
	LastRequestHeader http.Header
	LastPath          string
}

// NewMockBeacon creates a new mock beacon node. pathPrefix is prepended to
// the duties path, e.g. "/token123" to mimic a provider URL with an embedded key.
func NewMockBeacon(pathPrefix string) *MockBeacon {
	mock := &MockBeacon{
		prefix:    strings.TrimRight(pathPrefix, "/"),
		responses: make(map[uint64][]MockResponse),
		requests:  make(map[uint64]int),
		arrivals:  make(map[uint64][]time.Time),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))

	return mock
}

// URL returns the base URL (including the path prefix) to configure clients with.
func (m *MockBeacon) URL() string {
	return m.server.URL + m.prefix
}

// Close shuts down the mock server.
func (m *MockBeacon) Close() {
	m.server.Close()
}

// SetResponse queues responses for an epoch. They are served in order; the
// last one repeats. Epochs without queued responses get DefaultDuties.
func (m *MockBeacon) SetResponse(epoch uint64, resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[epoch] = resps
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockBeacon) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetEpochRequests returns the number of requests made for epoch.
func (m *MockBeacon) GetEpochRequests(epoch uint64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[epoch]
}

// GetEpochArrivals returns when each request for epoch reached the server.
func (m *MockBeacon) GetEpochArrivals(epoch uint64) []time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.arrivals[epoch])
}

// GetMaxInFlight returns the highest number of concurrent requests observed.
func (m *MockBeacon) GetMaxInFlight() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.MaxInFlight
}

// GetLastRequestHeader returns the headers of the last request.
func (m *MockBeacon) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader
}

func (m *MockBeacon) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, m.prefix)
	if !strings.HasPrefix(path, ProposerDutiesPrefix) {
		http.NotFound(w, r)
		return
	}

	epoch, err := strconv.ParseUint(strings.TrimPrefix(path, ProposerDutiesPrefix), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":400,"message":"Invalid epoch"}`))
		return
	}

	m.mu.Lock()
	m.RequestCount++
	m.requests[epoch]++
	m.arrivals[epoch] = append(m.arrivals[epoch], time.Now())
	attempt := m.requests[epoch]
	m.InFlight++
	if m.InFlight > m.MaxInFlight {
		m.MaxInFlight = m.InFlight
	}
	m.LastRequestHeader = r.Header.Clone()
	m.LastPath = r.URL.Path

	var resp *MockResponse
	if queued := m.responses[epoch]; len(queued) > 0 {
		idx := min(attempt, len(queued)) - 1
		resp = &queued[idx]
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.InFlight--
		m.mu.Unlock()
	}()

	if resp == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(DefaultDuties(epoch))
		return
	}

	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// DefaultDuties returns a well-formed duties body with SlotsPerEpoch entries.
func DefaultDuties(epoch uint64) []byte {
	type dutyJSON struct {
		Pubkey         string `json:"pubkey"`
		ValidatorIndex string `json:"validator_index"`
		Slot           string `json:"slot"`
	}

	data := make([]dutyJSON, 0, SlotsPerEpoch)
	for i := uint64(0); i < SlotsPerEpoch; i++ {
		slot := epoch*SlotsPerEpoch + i
		data = append(data, dutyJSON{
			Pubkey:         fmt.Sprintf("0x%096x", slot),
			ValidatorIndex: strconv.FormatUint(slot%1000003, 10),
			Slot:           strconv.FormatUint(slot, 10),
		})
	}

	body, _ := json.Marshal(map[string]any{
		"dependent_root":       "0x0000000000000000000000000000000000000000000000000000000000000000",
		"execution_optimistic": false,
		"data":                 data,
	})
	return body
}

// NewJSONResponse creates a 200 OK response with body.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewEmptyResponse creates a 200 OK response with no duties.
func NewEmptyResponse() MockResponse {
	return NewJSONResponse(`{"execution_optimistic":false,"data":[]}`)
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter string) MockResponse {
	resp := MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"code":429,"message":"Too many requests"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
	if retryAfter != "" {
		resp.Headers["Retry-After"] = retryAfter
	}
	return resp
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"code":500,"message":"Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewNotFoundResponse creates a 404 response, as for an epoch too far ahead.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"code":404,"message":"Epoch not found"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}
