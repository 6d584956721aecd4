package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/ghostwire/internal/testutil/testlog"
)

func TestNextBackoffDelayGrowsAndCaps(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 300 * time.Millisecond}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i, w := range want {
		if got := NextBackoffDelay(cfg, i+1, nil); got != w {
			t.Fatalf("attempt %d: got=%s want=%s", i+1, got, w)
		}
	}
	cfg.Jitter = true
	if got := NextBackoffDelay(cfg, 1, nil); got != 50*time.Millisecond {
		t.Fatalf("jitter without rng should halve the delay, got %s", got)
	}
}

func TestBackoffWaitStopsAtMaxAttempts(t *testing.T) {
	testlog.Start(t)
	b := NewBackoff(BackoffConfig{MaxAttempts: 2}, nil)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := b.Wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	if err := b.Wait(ctx); !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
	b.Reset()
	if b.Attempt() != 0 || b.Wait(ctx) != nil {
		t.Fatalf("reset should allow more attempts")
	}
}

func TestBackoffWaitHonorsContext(t *testing.T) {
	testlog.Start(t)
	b := NewBackoff(BackoffConfig{InitialDelay: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg := DefaultConfig()
	cfg.WriteTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for zero write timeout")
	}
}
