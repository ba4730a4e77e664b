package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for cooldown tracking.
var (
	rateLimitCooldownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duty_rate_limit_cooldowns_total",
		Help: "Total number of 429 responses that started or extended a cooldown",
	})

	rateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duty_rate_limit_waits_total",
		Help: "Total number of requests delayed by an active cooldown",
	})

	rateLimitCooldownSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duty_rate_limit_cooldown_seconds",
		Help: "Length of the most recent cooldown in seconds",
	})
)

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithClock overrides the tracker clock.
func WithClock(clock clockwork.Clock) TrackerOption {
	return func(t *Tracker) {
		t.clock = clock
	}
}

// Tracker records 429 cooldowns and delays requests until they pass.
// It implements Limiter. With a nil redis client the state is process local.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
	clock  clockwork.Clock

	mu    sync.Mutex
	local State
}

// NewTracker creates a new cooldown tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		redis:  redisClient,
		logger: logger,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// GetState returns the current cooldown state, from redis when configured.
func (t *Tracker) GetState(ctx context.Context) (State, error) {
	if t.redis == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.local, nil
	}

	until, err := t.redis.Get(ctx, RedisKeyCooldownUntil).Int64()
	if err == redis.Nil {
		return State{}, nil
	} else if err != nil {
		return State{}, fmt.Errorf("get cooldown until: %w", err)
	}

	state := State{CooldownUntil: time.UnixMilli(until)}

	lastUpdate, err := t.redis.Get(ctx, RedisKeyLastUpdate).Bytes()
	if err != nil && err != redis.Nil {
		return State{}, fmt.Errorf("get last update: %w", err)
	}
	if len(lastUpdate) > 0 {
		if err := json.Unmarshal(lastUpdate, &state.LastUpdate); err != nil {
			return State{}, fmt.Errorf("parse last update: %w", err)
		}
	}

	hits, err := t.redis.Get(ctx, RedisKeyHits).Int64()
	if err != nil && err != redis.Nil {
		return State{}, fmt.Errorf("get hits: %w", err)
	}
	state.Hits = hits

	return state, nil
}

// Observe inspects a response status and headers. A 429 starts or extends
// the cooldown by its Retry-After, DefaultCooldown when absent.
func (t *Tracker) Observe(ctx context.Context, status int, headers http.Header) error {
	if status != http.StatusTooManyRequests {
		return nil
	}

	now := t.clock.Now()
	cooldown := ParseRetryAfter(headers.Get("Retry-After"), now)
	until := now.Add(cooldown)

	t.mu.Lock()
	t.local.Extend(now, until)
	state := t.local
	t.mu.Unlock()

	rateLimitCooldownsTotal.Inc()
	rateLimitCooldownSeconds.Set(cooldown.Seconds())

	t.logger.Warn().
		Dur("cooldown", cooldown).
		Time("cooldown_until", state.CooldownUntil).
		Int64("hits", state.Hits).
		Msg("Remote API rate limited, cooling down")

	if t.redis == nil {
		return nil
	}

	shared, err := t.GetState(ctx)
	if err != nil {
		return err
	}
	shared.Extend(now, until)

	lastUpdateJSON, err := json.Marshal(shared.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, RedisKeyCooldownUntil, shared.CooldownUntil.UnixMilli(), 0)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, 0)
	pipe.Incr(ctx, RedisKeyHits)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store cooldown state in redis: %w", err)
	}

	return nil
}

// Wait blocks while a cooldown is active. Redis errors fall back to the
// process local state.
func (t *Tracker) Wait(ctx context.Context) error {
	for {
		state, err := t.GetState(ctx)
		if err != nil {
			t.logger.Warn().Err(err).Msg("Cooldown state unavailable, using local state")
			t.mu.Lock()
			state = t.local
			t.mu.Unlock()
		}

		remaining := state.Remaining(t.clock.Now())
		if remaining <= 0 {
			return ctx.Err()
		}

		rateLimitWaitsTotal.Inc()
		t.logger.Debug().Dur("wait", remaining).Msg("Waiting for rate limit cooldown")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.clock.After(remaining):
		}
	}
}

// ParseRetryAfter parses a Retry-After value given as delay seconds or an
// HTTP date. Missing or invalid values yield DefaultCooldown; the result is
// capped at MaxCooldown.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultCooldown
	}

	var d time.Duration
	if secs, err := strconv.Atoi(value); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(value); err == nil {
		d = at.Sub(now)
	} else {
		return DefaultCooldown
	}

	if d <= 0 {
		return 0
	}
	if d > MaxCooldown {
		return MaxCooldown
	}
	return d
}
