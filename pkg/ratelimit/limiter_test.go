package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnlimited(t *testing.T) {
	l := Unlimited()
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.Canceled)
}

func TestNewIntervalLimiter_Spacing(t *testing.T) {
	l := NewIntervalLimiter(20 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, l.Wait(ctx))
	}

	// First token is immediate, the next three are spaced by the interval.
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}

func TestNewIntervalLimiter_Disabled(t *testing.T) {
	l := NewIntervalLimiter(0)

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestPerSecond(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, PerSecond(10))
	assert.Equal(t, time.Duration(0), PerSecond(0))
}

func TestChain(t *testing.T) {
	var calls []string
	record := func(name string) Limiter {
		return LimiterFunc(func(context.Context) error {
			calls = append(calls, name)
			return nil
		})
	}

	require.NoError(t, Chain(record("a"), nil, record("b")).Wait(context.Background()))
	assert.Equal(t, []string{"a", "b"}, calls)

	boom := errors.New("boom")
	failing := LimiterFunc(func(context.Context) error { return boom })
	err := Chain(failing, record("c")).Wait(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b"}, calls)
}
