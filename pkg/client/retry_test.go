package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fastPolicy keeps retry tests quick while preserving the backoff shape.
func fastPolicy(attempts int) RetryPolicy {
	return FixedRetryPolicy(RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        100 * time.Millisecond,
		BackoffMultiplier: 2.0,
	})
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.InitialBackoff != 1*time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", config.InitialBackoff)
	}
	if config.MaxBackoff != 30*time.Second {
		t.Errorf("MaxBackoff = %v, want 30s", config.MaxBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
}

func TestRetryConfigForErrorClass(t *testing.T) {
	tests := []struct {
		name             string
		errorClass       ErrorClass
		expectedInitial  time.Duration
		expectedMax      time.Duration
		expectedAttempts int
	}{
		{
			name:             "server error config",
			errorClass:       ErrorClassServer,
			expectedInitial:  1 * time.Second,
			expectedMax:      10 * time.Second,
			expectedAttempts: 3,
		},
		{
			name:             "rate limit config",
			errorClass:       ErrorClassRateLimit,
			expectedInitial:  5 * time.Second,
			expectedMax:      60 * time.Second,
			expectedAttempts: 4,
		},
		{
			name:             "network error config",
			errorClass:       ErrorClassNetwork,
			expectedInitial:  2 * time.Second,
			expectedMax:      30 * time.Second,
			expectedAttempts: 3,
		},
		{
			name:             "unknown error class uses default",
			errorClass:       "",
			expectedInitial:  1 * time.Second,
			expectedMax:      30 * time.Second,
			expectedAttempts: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := RetryConfigForErrorClass(tt.errorClass)

			if config.InitialBackoff != tt.expectedInitial {
				t.Errorf("InitialBackoff = %v, want %v", config.InitialBackoff, tt.expectedInitial)
			}
			if config.MaxBackoff != tt.expectedMax {
				t.Errorf("MaxBackoff = %v, want %v", config.MaxBackoff, tt.expectedMax)
			}
			if config.MaxAttempts != tt.expectedAttempts {
				t.Errorf("MaxAttempts = %d, want %d", config.MaxAttempts, tt.expectedAttempts)
			}
		})
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	callCount := 0
	err := retryWithBackoff(context.Background(), fastPolicy(3), zerolog.Nop(), func() (ErrorClass, error) {
		callCount++
		return "", nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_SuccessAfterRetry(t *testing.T) {
	callCount := 0
	start := time.Now()
	err := retryWithBackoff(context.Background(), fastPolicy(3), zerolog.Nop(), func() (ErrorClass, error) {
		callCount++
		if callCount < 3 {
			return ErrorClassServer, errors.New("temporary error")
		}
		return "", nil
	})
	duration := time.Since(start)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}

	// ~10ms + ~20ms minus jitter
	if duration < 20*time.Millisecond {
		t.Errorf("Expected some backoff delay, got %v", duration)
	}
}

func TestRetryWithBackoff_MaxAttemptsExhausted(t *testing.T) {
	callCount := 0
	testErr := errors.New("persistent error")
	err := retryWithBackoff(context.Background(), fastPolicy(3), zerolog.Nop(), func() (ErrorClass, error) {
		callCount++
		return ErrorClassServer, testErr
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	if !errors.Is(err, testErr) {
		t.Errorf("Expected last error to be wrapped, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls (MaxAttempts), got %d", callCount)
	}
}

func TestRetryWithBackoff_ClientErrorNoRetry(t *testing.T) {
	callCount := 0
	testErr := errors.New("client error")
	err := retryWithBackoff(context.Background(), fastPolicy(3), zerolog.Nop(), func() (ErrorClass, error) {
		callCount++
		return ErrorClassClient, testErr
	})

	if callCount != 1 {
		t.Errorf("Expected 1 call (no retry for client errors), got %d", callCount)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("Should not return ErrRetryExhausted for client errors (no retry attempted)")
	}
	if !errors.Is(err, testErr) {
		t.Errorf("Expected original error, got %v", err)
	}
}

func TestRetryWithBackoff_UnclassifiedErrorNoRetry(t *testing.T) {
	callCount := 0
	err := retryWithBackoff(context.Background(), fastPolicy(3), zerolog.Nop(), func() (ErrorClass, error) {
		callCount++
		return "", context.Canceled
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	policy := FixedRetryPolicy(RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Minute,
		MaxBackoff:        time.Minute,
		BackoffMultiplier: 2.0,
	})

	callCount := 0
	err := retryWithBackoff(ctx, policy, zerolog.Nop(), func() (ErrorClass, error) {
		callCount++
		if callCount == 1 {
			cancel()
		}
		return ErrorClassServer, errors.New("error")
	})

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled to be wrapped, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call before cancellation, got %d", callCount)
	}
}

func TestRetryWithBackoff_ClassSwitchUsesNewConfig(t *testing.T) {
	var seen []ErrorClass
	policy := func(class ErrorClass) RetryConfig {
		seen = append(seen, class)
		attempts := 2
		if class == ErrorClassRateLimit {
			attempts = 4
		}
		return RetryConfig{
			MaxAttempts:       attempts,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        5 * time.Millisecond,
			BackoffMultiplier: 2.0,
		}
	}

	callCount := 0
	err := retryWithBackoff(context.Background(), policy, zerolog.Nop(), func() (ErrorClass, error) {
		callCount++
		if callCount == 1 {
			return ErrorClassNetwork, errors.New("timeout")
		}
		return ErrorClassRateLimit, errors.New("429")
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Expected ErrRetryExhausted, got %v", err)
	}
	if callCount != 4 {
		t.Errorf("Expected 4 calls under the rate limit config, got %d", callCount)
	}
	if seen[0] != ErrorClassNetwork || seen[len(seen)-1] != ErrorClassRateLimit {
		t.Errorf("unexpected policy lookups %v", seen)
	}
}

func TestRetryWithBackoff_ExponentialBackoff(t *testing.T) {
	policy := FixedRetryPolicy(RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    50 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
	})

	timestamps := []time.Time{}
	_ = retryWithBackoff(context.Background(), policy, zerolog.Nop(), func() (ErrorClass, error) {
		timestamps = append(timestamps, time.Now())
		return ErrorClassServer, errors.New("error")
	})

	if len(timestamps) != 3 {
		t.Fatalf("Expected 3 timestamps, got %d", len(timestamps))
	}

	firstDelay := timestamps[1].Sub(timestamps[0])
	secondDelay := timestamps[2].Sub(timestamps[1])

	// ±20% jitter around 50ms, then around 100ms
	if firstDelay < 40*time.Millisecond {
		t.Errorf("First retry delay %v below jitter floor", firstDelay)
	}
	if secondDelay < 80*time.Millisecond {
		t.Errorf("Second retry delay %v below jitter floor", secondDelay)
	}
}

func TestRetryWithBackoff_MaxBackoffCap(t *testing.T) {
	policy := FixedRetryPolicy(RetryConfig{
		MaxAttempts:       4,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        15 * time.Millisecond,
		BackoffMultiplier: 10.0,
	})

	timestamps := []time.Time{}
	_ = retryWithBackoff(context.Background(), policy, zerolog.Nop(), func() (ErrorClass, error) {
		timestamps = append(timestamps, time.Now())
		return ErrorClassServer, errors.New("error")
	})

	if len(timestamps) != 4 {
		t.Fatalf("Expected 4 timestamps, got %d", len(timestamps))
	}

	// Uncapped the third delay would be ~1s.
	if last := timestamps[3].Sub(timestamps[2]); last > 500*time.Millisecond {
		t.Errorf("Expected backoff capped near 15ms, got %v", last)
	}
}
