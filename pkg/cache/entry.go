package cache

import (
	"time"
)

// Entry represents a cached beacon node response.
type Entry struct {
	// Data is the response body
	Data []byte `json:"data"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// CachedAt is when we cached this response
	CachedAt time.Time `json:"cached_at"`

	// Expires is when the entry becomes stale. Zero means never.
	Expires time.Time `json:"expires,omitzero"`
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	return !e.Expires.IsZero() && time.Now().After(e.Expires)
}

// TTL returns the time until expiration, 0 for entries that never expire.
// Returns a negative duration if already expired.
func (e *Entry) TTL() time.Duration {
	if e.Expires.IsZero() {
		return 0
	}
	ttl := time.Until(e.Expires)
	if ttl <= 0 {
		return -1
	}
	return ttl
}

// Successful reports whether the cached response had a 2xx status.
func (e *Entry) Successful() bool {
	return e.StatusCode >= 200 && e.StatusCode < 300
}
