package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/ghostwire/internal/protocol/session"
)

// ServerConfig configures ghostwired. Env tags override file values.
type ServerConfig struct {
	Name       string `env:"GHOSTWIRE_NAME"`
	ListenAddr string `env:"GHOSTWIRE_LISTEN_ADDR"`
	AdminAddr  string `env:"GHOSTWIRE_ADMIN_ADDR"`
	// StreamAddr serves framed TCP observers; empty disables it.
	StreamAddr string `env:"GHOSTWIRE_STREAM_ADDR"`

	TickRate        int   `env:"GHOSTWIRE_TICK_RATE"`
	Workers         int   `env:"GHOSTWIRE_WORKERS"`
	MaxPayloadBytes int64 `env:"GHOSTWIRE_MAX_PAYLOAD_BYTES"`

	// Population of the demo world; zero starts empty.
	Population    int `env:"GHOSTWIRE_POPULATION"`
	ChunkCapacity int `env:"GHOSTWIRE_CHUNK_CAPACITY"`

	MetricsEnabled  bool     `env:"GHOSTWIRE_METRICS"`
	TracingEndpoint string   `env:"GHOSTWIRE_OTEL_ENDPOINT"`
	CorsOrigins     []string `env:"GHOSTWIRE_CORS_ORIGINS" envSeparator:","`
	// AdminToken, when set, guards /observers with a bearer token.
	AdminToken string `env:"GHOSTWIRE_ADMIN_TOKEN"`

	Session session.Config
}

// ProbeConfig configures ghostprobe.
type ProbeConfig struct {
	Name            string        `env:"GHOSTPROBE_NAME"`
	ServerURL       string        `env:"GHOSTPROBE_SERVER_URL"`
	HistoryCapacity int           `env:"GHOSTPROBE_HISTORY"`
	AckEvery        int           `env:"GHOSTPROBE_ACK_EVERY"`
	Duration        time.Duration `env:"GHOSTPROBE_DURATION"`
	ReportEvery     time.Duration `env:"GHOSTPROBE_REPORT_EVERY"`

	Session session.Config
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Name:            "ghostwired",
		ListenAddr:      ":7400",
		AdminAddr:       "127.0.0.1:7401",
		TickRate:        20,
		MaxPayloadBytes: 4 << 20,
		Population:      64,
		ChunkCapacity:   64,
		MetricsEnabled:  true,
		CorsOrigins:     []string{"http://localhost:3000"},
		Session:         session.DefaultConfig(),
	}
}

func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		Name:            "ghostprobe",
		ServerURL:       "ws://127.0.0.1:7400/ws",
		HistoryCapacity: 8,
		AckEvery:        1,
		ReportEvery:     2 * time.Second,
		Session:         session.DefaultConfig(),
	}
}

// TickInterval is the period between replication ticks.
func (c ServerConfig) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

func (c ServerConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("server config missing name")
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("server config missing listen_addr")
	}
	if c.TickRate <= 0 || c.TickRate > 1000 {
		return fmt.Errorf("server config tick_rate must be in 1..1000, got %d", c.TickRate)
	}
	if c.Workers < 0 {
		return fmt.Errorf("server config workers must be >= 0")
	}
	if c.MaxPayloadBytes <= 0 {
		return fmt.Errorf("server config max_payload_bytes must be > 0")
	}
	if c.Population < 0 || c.ChunkCapacity <= 0 {
		return fmt.Errorf("server config population must be >= 0 and chunk_capacity > 0")
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	return nil
}

func (c ProbeConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("probe config missing name")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("probe config server_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("probe config server_url must be ws:// or wss://, got %q", c.ServerURL)
	}
	if c.HistoryCapacity <= 0 {
		return fmt.Errorf("probe config history must be > 0")
	}
	if c.AckEvery <= 0 {
		return fmt.Errorf("probe config ack_every must be > 0")
	}
	if c.Duration < 0 || c.ReportEvery < 0 {
		return fmt.Errorf("probe config durations must be >= 0")
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("probe config: %w", err)
	}
	return nil
}
