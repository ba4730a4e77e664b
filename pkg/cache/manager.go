package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithNamespace separates the entries of different networks sharing one
// Redis, e.g. "mainnet" and "holesky". Epoch numbers overlap across networks.
func WithNamespace(ns string) ManagerOption {
	return func(m *Manager) { m.namespace = ns }
}

// Manager stores duty responses in Redis, one entry per endpoint and epoch.
type Manager struct {
	redis     *redis.Client
	namespace string
}

// NewManager creates a new cache manager with Redis backend.
func NewManager(redisClient *redis.Client, opts ...ManagerOption) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	m := &Manager{redis: redisClient}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// redisKey returns the namespaced Redis key of k.
func (m *Manager) redisKey(k Key) string {
	if m.namespace == "" {
		return k.String()
	}
	return m.namespace + ":" + k.String()
}

// Get returns the entry of key. Missing, expired and non-2xx entries are
// reported as ErrCacheMiss; expired and non-2xx ones are removed.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	data, err := m.redis.Get(ctx, m.redisKey(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	case err != nil:
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() || !entry.Successful() {
		_ = m.Delete(ctx, key)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.Inc()
	return &entry, nil
}

// Set stores entry under key. Entries with an Expires time are removed by
// Redis when they expire; entries without one are kept indefinitely. Only
// 2xx responses are cached: a failure must be refetched.
func (m *Manager) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if !entry.Successful() {
		return fmt.Errorf("%w: status %d is not cacheable", ErrInvalidEntry, entry.StatusCode)
	}

	ttl := entry.TTL()
	if ttl < 0 {
		// Already expired, don't cache
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, m.redisKey(key), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheSize.Add(float64(len(data)))
	return nil
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if err := m.redis.Del(ctx, m.redisKey(key)).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
