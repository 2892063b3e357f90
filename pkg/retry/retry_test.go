package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastConfig(maxRetries int) *Config {
	return &Config{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxRetries != 3 {
		t.Errorf("expected MaxRetries=3, got %d", cfg.MaxRetries)
	}
	if cfg.InitialDelay != 2*time.Second {
		t.Errorf("expected InitialDelay=2s, got %v", cfg.InitialDelay)
	}
	if cfg.Multiplier != 2.0 {
		t.Errorf("expected Multiplier=2.0, got %f", cfg.Multiplier)
	}
}

func TestConfig_Delay_DoublesPerAttempt(t *testing.T) {
	cfg := DefaultConfig()
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for n, w := range want {
		if got := cfg.Delay(n); got != w {
			t.Errorf("Delay(%d) = %v, want %v", n, got, w)
		}
	}
}

func TestConfig_Delay_Capped(t *testing.T) {
	cfg := &Config{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}
	if got := cfg.Delay(5); got != 3*time.Second {
		t.Errorf("expected cap of 3s, got %v", got)
	}
}

func TestDo_Success(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(3), func(ctx context.Context) error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(3), func(ctx context.Context) error {
		callCount++
		if callCount < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	for _, maxRetries := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("max_retries_%d", maxRetries), func(t *testing.T) {
			callCount := 0
			wantErr := errors.New("503 service unavailable")
			err := Do(context.Background(), fastConfig(maxRetries), func(ctx context.Context) error {
				callCount++
				return wantErr
			})

			if !errors.Is(err, wantErr) {
				t.Errorf("expected last error, got %v", err)
			}
			if callCount != maxRetries+1 {
				t.Errorf("expected %d calls, got %d", maxRetries+1, callCount)
			}
		})
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	callCount := 0
	cause := errors.New("bad request")
	err := Do(context.Background(), fastConfig(3), func(ctx context.Context) error {
		callCount++
		return Permanent(cause)
	})

	if err != cause {
		t.Errorf("expected unwrapped permanent cause, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestDo_OnRetryReportsSchedule(t *testing.T) {
	cfg := fastConfig(3)
	cfg.MaxDelay = 0
	var attempts []int
	var delays []time.Duration
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
		delays = append(delays, delay)
	}

	_ = Do(context.Background(), cfg, func(ctx context.Context) error {
		return errors.New("timeout")
	})

	if len(attempts) != 3 {
		t.Fatalf("expected 3 retry callbacks, got %d", len(attempts))
	}
	wantDelays := []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}
	for i := range wantDelays {
		if attempts[i] != i+1 {
			t.Errorf("callback %d: expected attempt %d, got %d", i, i+1, attempts[i])
		}
		if delays[i] != wantDelays[i] {
			t.Errorf("callback %d: expected delay %v, got %v", i, wantDelays[i], delays[i])
		}
	}
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{MaxRetries: 3, InitialDelay: time.Hour, Multiplier: 2}

	callCount := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, cfg, func(ctx context.Context) error {
		callCount++
		return errors.New("connection reset")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", callCount)
	}
}

func TestDoWithResult(t *testing.T) {
	callCount := 0
	result, err := DoWithResult(context.Background(), fastConfig(2), func(ctx context.Context) (string, error) {
		callCount++
		if callCount == 1 {
			return "", errors.New("i/o timeout")
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result != "ok" {
		t.Errorf("expected result ok, got %q", result)
	}
	if callCount != 2 {
		t.Errorf("expected 2 calls, got %d", callCount)
	}
}

type retryableErr struct{ retry bool }

func (e retryableErr) Error() string     { return "custom" }
func (e retryableErr) IsRetryable() bool { return e.retry }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), true},
		{"502", errors.New("classifier returned HTTP 502"), true},
		{"unexpected eof", errors.New("unexpected EOF"), true},
		{"bad request", errors.New("invalid image"), false},
		{"database starting up", errors.New("FATAL: the database system is starting up (SQLSTATE 57P03)"), true},
		{"bad password", errors.New("FATAL: password authentication failed for user \"leafcare\" (SQLSTATE 28P01)"), false},
		{"explicit retryable", retryableErr{retry: true}, true},
		{"explicit permanent", fmt.Errorf("wrap: %w", retryableErr{retry: false}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
