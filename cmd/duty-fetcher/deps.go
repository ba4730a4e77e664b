package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Sternrassler/beacon-duty-fetcher/internal/config"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/cache"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/client"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/logging"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/ratelimit"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/store/postgres"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/store/redisq"
	"github.com/redis/go-redis/v9"
)

// deps holds the optional backends. Unconfigured backends stay nil.
type deps struct {
	rdb   *redis.Client
	queue *redisq.Queue
	store *postgres.Store
}

func openDeps(ctx context.Context, cfg *config.Config) (*deps, error) {
	d := &deps{}
	logger := logging.NewLogger("setup")

	if cfg.RedisURL != "" {
		opts, err := redisOptions(cfg.RedisURL)
		if err != nil {
			return nil, err
		}

		d.rdb = redis.NewClient(opts)
		if err := d.rdb.Ping(ctx).Err(); err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
		}
		d.queue = redisq.New(d.rdb, cfg.Network)
		logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	}

	if cfg.PostgresURL != "" {
		store, err := postgres.Open(ctx, postgres.Config{URL: cfg.PostgresURL, Network: cfg.Network})
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to open postgres at %s: %w", client.RedactURL(cfg.PostgresURL), err)
		}
		d.store = store
		logger.Info().Str("network", store.Network()).Msg("Connected to PostgreSQL")
	}

	return d, nil
}

// redisOptions accepts a redis:// URL or a bare host:port.
func redisOptions(raw string) (*redis.Options, error) {
	if !strings.Contains(raw, "://") {
		return &redis.Options{Addr: raw}, nil
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: redis-url: %v", config.ErrInvalidConfig, err)
	}
	return opts, nil
}

// newClient builds the beacon client. Every attempt, retries included, waits
// on limiter. The 429 cooldown is process local unless Redis is configured,
// which also enables the response cache.
func (d *deps) newClient(cfg *config.Config, limiter ratelimit.Limiter) (*client.Client, error) {
	opts := []client.Option{
		client.WithLimiter(limiter),
		client.WithTracker(ratelimit.NewTracker(d.rdb, logging.NewLogger("ratelimit"))),
		client.WithLogger(logging.NewLogger("beacon-client")),
	}
	if d.rdb != nil {
		opts = append(opts, client.WithCache(cache.NewManager(d.rdb, cache.WithNamespace(cfg.Network))))
	}

	return client.New(client.Config{
		BaseURL:      cfg.BeaconURL,
		APIKey:       cfg.APIKey,
		APIKeyHeader: cfg.APIKeyHeader,
		UserAgent:    cfg.UserAgent,
		Timeout:      cfg.RequestTimeout,
		CacheTTL:     cfg.CacheTTL,
	}, opts...)
}

func (d *deps) Close() error {
	var errs []error
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	if d.rdb != nil {
		errs = append(errs, d.rdb.Close())
	}
	return errors.Join(errs...)
}
