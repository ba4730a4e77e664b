// Package redisq keeps a shared queue of failed epochs in Redis so that
// several fetcher processes can pick up each other's retries.
package redisq

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/Sternrassler/beacon-duty-fetcher/pkg/duty"
	"github.com/redis/go-redis/v9"
)

// Entry is a queued failed epoch.
type Entry struct {
	Epoch       uint64    `json:"-"`
	Attempts    int       `json:"-"`
	LastError   string    `json:"last_error"`
	LastAttempt time.Time `json:"last_attempt"`
}

// Queue is a Redis-backed failed epoch queue. Members of the sorted set are
// epochs, scores are failed attempts (lower retries first).
type Queue struct {
	rdb       *redis.Client
	namespace string
	clock     func() time.Time
}

// New creates a queue. Queues with different namespaces do not interact.
func New(rdb *redis.Client, namespace string) *Queue {
	return &Queue{
		rdb:       rdb,
		namespace: namespace,
		clock:     time.Now,
	}
}

// Key helpers
func (q *Queue) queueKey() string {
	return fmt.Sprintf("duty:failed_epochs:%s", q.namespace)
}

func (q *Queue) detailKey() string {
	return fmt.Sprintf("duty:failed_epochs:%s:details", q.namespace)
}

// Record applies a batch of outcomes: failed epochs are added (or their
// attempt count raised), resolved epochs are removed.
func (q *Queue) Record(ctx context.Context, outcomes []duty.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	now := q.clock()
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, o := range outcomes {
			member := strconv.FormatUint(o.Epoch, 10)

			if o.Resolved() {
				pipe.ZRem(ctx, q.queueKey(), member)
				pipe.HDel(ctx, q.detailKey(), member)
				continue
			}

			detail := Entry{LastAttempt: now}
			if o.Err != nil {
				detail.LastError = o.Err.Error()
			}
			data, err := json.Marshal(detail)
			if err != nil {
				return fmt.Errorf("failed to marshal entry: %w", err)
			}

			pipe.ZIncrBy(ctx, q.queueKey(), 1, member)
			pipe.HSet(ctx, q.detailKey(), member, data)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record outcomes: %w", err)
	}
	return nil
}

// Pending returns up to limit queued epochs, ascending. The epochs with the
// fewest attempts are chosen first. A limit <= 0 returns all.
func (q *Queue) Pending(ctx context.Context, limit int) ([]uint64, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	members, err := q.rdb.ZRange(ctx, q.queueKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	epochs := make([]uint64, 0, len(members))
	for _, m := range members {
		epoch, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid queue member %q: %w", m, err)
		}
		epochs = append(epochs, epoch)
	}
	slices.Sort(epochs)
	return epochs, nil
}

// Entries returns every queued epoch with its details, in retry order.
func (q *Queue) Entries(ctx context.Context) ([]Entry, error) {
	zs, err := q.rdb.ZRangeWithScores(ctx, q.queueKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}
	if len(zs) == 0 {
		return nil, nil
	}

	members := make([]string, len(zs))
	for i, z := range zs {
		members[i] = z.Member.(string)
	}

	details, err := q.rdb.HMGet(ctx, q.detailKey(), members...).Result()
	if err != nil {
		return nil, fmt.Errorf("hmget failed: %w", err)
	}

	entries := make([]Entry, 0, len(zs))
	for i, z := range zs {
		epoch, err := strconv.ParseUint(members[i], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid queue member %q: %w", members[i], err)
		}

		var entry Entry
		if raw, ok := details[i].(string); ok {
			if err := json.Unmarshal([]byte(raw), &entry); err != nil {
				return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
			}
		}
		entry.Epoch = epoch
		entry.Attempts = int(z.Score)
		entries = append(entries, entry)
	}
	return entries, nil
}

// Resolve removes epochs from the queue.
func (q *Queue) Resolve(ctx context.Context, epochs ...uint64) error {
	if len(epochs) == 0 {
		return nil
	}

	members := make([]interface{}, len(epochs))
	fields := make([]string, len(epochs))
	for i, e := range epochs {
		fields[i] = strconv.FormatUint(e, 10)
		members[i] = fields[i]
	}

	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.queueKey(), members...)
		pipe.HDel(ctx, q.detailKey(), fields...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to resolve epochs: %w", err)
	}
	return nil
}

// Count returns the number of queued epochs.
func (q *Queue) Count(ctx context.Context) (int, error) {
	count, err := q.rdb.ZCard(ctx, q.queueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}
