package ratelimit

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 11, 5, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "empty", value: "", want: DefaultCooldown},
		{name: "seconds", value: "12", want: 12 * time.Second},
		{name: "zero", value: "0", want: 0},
		{name: "http date", value: now.Add(30 * time.Second).Format(http.TimeFormat), want: 30 * time.Second},
		{name: "date in the past", value: now.Add(-time.Minute).Format(http.TimeFormat), want: 0},
		{name: "garbage", value: "soon", want: DefaultCooldown},
		{name: "capped", value: "86400", want: MaxCooldown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseRetryAfter(tt.value, now); got != tt.want {
				t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestState(t *testing.T) {
	now := time.Now()
	var s State

	if s.CoolingDown(now) {
		t.Error("Zero state should not be cooling down")
	}

	s.Extend(now, now.Add(10*time.Second))
	if !s.CoolingDown(now) {
		t.Error("Expected cooldown after Extend")
	}
	if got := s.Remaining(now); got != 10*time.Second {
		t.Errorf("Remaining = %v, want 10s", got)
	}

	// A shorter cooldown must not shrink the current one
	s.Extend(now, now.Add(time.Second))
	if got := s.Remaining(now); got != 10*time.Second {
		t.Errorf("Remaining after shorter Extend = %v, want 10s", got)
	}
	if s.Hits != 2 {
		t.Errorf("Hits = %d, want 2", s.Hits)
	}

	if s.Remaining(now.Add(time.Minute)) != 0 {
		t.Error("Remaining should be 0 after cooldown passed")
	}
}

func TestTracker_Observe_Local(t *testing.T) {
	clock := clockwork.NewFakeClock()
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(nil, logger, WithClock(clock))
	ctx := context.Background()

	if err := tracker.Observe(ctx, http.StatusOK, http.Header{}); err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	state, _ := tracker.GetState(ctx)
	if state.Hits != 0 {
		t.Errorf("Hits = %d after 200, want 0", state.Hits)
	}

	headers := http.Header{}
	headers.Set("Retry-After", "3")
	if err := tracker.Observe(ctx, http.StatusTooManyRequests, headers); err != nil {
		t.Fatalf("Observe() error = %v", err)
	}

	state, _ = tracker.GetState(ctx)
	if got := state.Remaining(clock.Now()); got != 3*time.Second {
		t.Errorf("Remaining = %v, want 3s", got)
	}
}

func TestTracker_Wait(t *testing.T) {
	clock := clockwork.NewFakeClock()
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(nil, logger, WithClock(clock))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// No cooldown: returns immediately
	if err := tracker.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	headers := http.Header{}
	headers.Set("Retry-After", "2")
	if err := tracker.Observe(ctx, http.StatusTooManyRequests, headers); err != nil {
		t.Fatalf("Observe() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- tracker.Wait(ctx)
	}()

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("Wait() never blocked: %v", err)
	}

	select {
	case <-done:
		t.Fatal("Wait() returned before cooldown passed")
	default:
	}

	clock.Advance(2 * time.Second)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait() error = %v", err)
		}
	case <-ctx.Done():
		t.Fatal("Wait() did not return after cooldown")
	}
}

func TestTracker_Wait_ContextCancelled(t *testing.T) {
	clock := clockwork.NewFakeClock()
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(nil, logger, WithClock(clock))

	headers := http.Header{}
	headers.Set("Retry-After", "60")
	if err := tracker.Observe(context.Background(), http.StatusTooManyRequests, headers); err != nil {
		t.Fatalf("Observe() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := tracker.Wait(ctx); err != context.Canceled {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}
