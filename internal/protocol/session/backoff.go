package session

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

var ErrAttemptsExhausted = errors.New("session: reconnect attempts exhausted")

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	delay := float64(cfg.InitialDelay)
	if attempt > 1 {
		mult := math.Max(cfg.Multiplier, 1.0)
		delay *= math.Pow(mult, float64(attempt-1))
	}
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}

// Backoff tracks reconnect attempts for one dialer.
type Backoff struct {
	cfg     BackoffConfig
	rng     *rand.Rand
	attempt int
}

func NewBackoff(cfg BackoffConfig, rng *rand.Rand) *Backoff {
	return &Backoff{cfg: cfg, rng: rng}
}

func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset is called after a successful connection.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Wait sleeps before the next attempt. It returns ErrAttemptsExhausted once
// MaxAttempts is reached, or the context error if ctx ends first.
func (b *Backoff) Wait(ctx context.Context) error {
	if b.cfg.MaxAttempts > 0 && b.attempt >= b.cfg.MaxAttempts {
		return ErrAttemptsExhausted
	}
	b.attempt++
	delay := NextBackoffDelay(b.cfg, b.attempt, b.rng)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
