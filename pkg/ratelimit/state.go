// Package ratelimit provides the request limiters used by the beacon client:
// a token bucket spacing outbound requests and a cooldown tracker fed by
// 429 Too Many Requests responses. Cooldown state can be shared across
// processes through redis.
package ratelimit

import (
	"time"
)

// Redis keys for cooldown state storage.
const (
	RedisKeyCooldownUntil = "duties:rate_limit:cooldown_until"
	RedisKeyLastUpdate    = "duties:rate_limit:last_update"
	RedisKeyHits          = "duties:rate_limit:hits"
)

// DefaultCooldown is applied when a 429 carries no usable Retry-After header.
const DefaultCooldown = 5 * time.Second

// MaxCooldown caps the cooldown a single Retry-After can impose.
const MaxCooldown = 5 * time.Minute

// State is the current cooldown state of the remote API.
type State struct {
	// CooldownUntil is when requests may resume. Zero means no cooldown.
	CooldownUntil time.Time `json:"cooldown_until"`

	// LastUpdate is when the state was last changed by a 429 response.
	LastUpdate time.Time `json:"last_update"`

	// Hits counts the 429 responses observed.
	Hits int64 `json:"hits"`
}

// CoolingDown reports whether requests should wait at now.
func (s *State) CoolingDown(now time.Time) bool {
	return now.Before(s.CooldownUntil)
}

// Remaining returns the cooldown left at now, or 0 if none.
func (s *State) Remaining(now time.Time) time.Duration {
	d := s.CooldownUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Extend pushes the cooldown to until if that is later than the current one.
func (s *State) Extend(now, until time.Time) {
	if until.After(s.CooldownUntil) {
		s.CooldownUntil = until
	}
	s.LastUpdate = now
	s.Hits++
}
