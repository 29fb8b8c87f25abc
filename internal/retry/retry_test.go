package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type flaggedError struct{ retry bool }

func (e flaggedError) Error() string     { return "flagged" }
func (e flaggedError) IsRetryable() bool { return e.retry }

func fastConfig() *Config {
	return &Config{
		MaxRetries:   3,
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
	if cfg.InitialDelay != 200*time.Millisecond {
		t.Errorf("expected InitialDelay=200ms, got %v", cfg.InitialDelay)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(), func() error {
		callCount++
		if callCount < 3 {
			return errors.New("read tcp: i/o timeout")
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

func TestDo_PermanentErrorIsNotRetried(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(), func() error {
		callCount++
		return errors.New("NoSuchKey: the specified key does not exist")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(), func() error {
		callCount++
		return errors.New("503 service unavailable")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if callCount != 4 {
		t.Errorf("expected 4 calls, got %d", callCount)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig()
	cfg.InitialDelay = time.Second

	callCount := 0
	err := Do(ctx, cfg, func() error {
		callCount++
		cancel()
		return errors.New("connection reset by peer")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestDoWithResult(t *testing.T) {
	callCount := 0
	got, err := DoWithResult(context.Background(), fastConfig(), func() (string, error) {
		callCount++
		if callCount == 1 {
			return "", errors.New("connection refused")
		}
		return "ok", nil
	})

	if err != nil || got != "ok" {
		t.Errorf("expected ok, got %q (%v)", got, err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{fmt.Errorf("put: %w", context.DeadlineExceeded), false},
		{flaggedError{retry: true}, true},
		{fmt.Errorf("wrapped: %w", flaggedError{retry: false}), false},
		{errors.New("SlowDown: please reduce your request rate"), true},
		{errors.New("AccessDenied"), false},
		{errors.New("dial tcp: connection refused"), true},
	}

	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
