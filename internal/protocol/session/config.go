package session

import (
	"fmt"
	"time"
)

// BackoffConfig defines reconnect backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
	// MaxAttempts of zero retries forever.
	MaxAttempts int
}

// Config defines connection timing.
type Config struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// IdleTimeout closes a connection that has sent nothing, acks
	// included, for this long.
	IdleTimeout time.Duration
	Backoff     BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     2 * time.Second,
		IdleTimeout:      15 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

func (c Config) Validate() error {
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("session: handshake timeout must be > 0")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("session: write timeout must be > 0")
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("session: idle timeout must be >= 0")
	}
	if c.Backoff.InitialDelay < 0 || c.Backoff.MaxDelay < 0 {
		return fmt.Errorf("session: backoff delays must be >= 0")
	}
	if c.Backoff.MaxAttempts < 0 {
		return fmt.Errorf("session: backoff max attempts must be >= 0")
	}
	return nil
}
