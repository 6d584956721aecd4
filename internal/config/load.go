package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/danmuck/ghostwire/internal/protocol/session"
)

type sessionFile struct {
	ConnectTimeout   string  `toml:"connect_timeout"`
	HandshakeTimeout string  `toml:"handshake_timeout"`
	WriteTimeout     string  `toml:"write_timeout"`
	IdleTimeout      string  `toml:"idle_timeout"`
	BackoffInitial   string  `toml:"backoff_initial"`
	BackoffMax       string  `toml:"backoff_max"`
	BackoffFactor    float64 `toml:"backoff_multiplier"`
	MaxAttempts      int     `toml:"max_attempts"`
}

type serverFile struct {
	Name            string      `toml:"name"`
	ListenAddr      string      `toml:"listen_addr"`
	AdminAddr       string      `toml:"admin_addr"`
	StreamAddr      string      `toml:"stream_addr"`
	TickRate        int         `toml:"tick_rate"`
	Workers         int         `toml:"workers"`
	MaxPayloadBytes int64       `toml:"max_payload_bytes"`
	Population      int         `toml:"population"`
	ChunkCapacity   int         `toml:"chunk_capacity"`
	Metrics         bool        `toml:"metrics"`
	TracingEndpoint string      `toml:"tracing_endpoint"`
	CorsOrigins     []string    `toml:"cors_origins"`
	AdminToken      string      `toml:"admin_token"`
	Session         sessionFile `toml:"session"`
}

type probeFile struct {
	Name        string      `toml:"name"`
	ServerURL   string      `toml:"server_url"`
	History     int         `toml:"history"`
	AckEvery    int         `toml:"ack_every"`
	Duration    string      `toml:"duration"`
	ReportEvery string      `toml:"report_every"`
	Session     sessionFile `toml:"session"`
}

// LoadServerConfig layers the file at path (optional) and then the
// environment over DefaultServerConfig, and validates the result.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if strings.TrimSpace(path) != "" {
		var raw serverFile
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return ServerConfig{}, fmt.Errorf("load server config (%s): %w", path, err)
		}
		if meta.IsDefined("name") {
			cfg.Name = strings.TrimSpace(raw.Name)
		}
		if meta.IsDefined("listen_addr") {
			cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
		}
		if meta.IsDefined("admin_addr") {
			cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
		}
		if meta.IsDefined("stream_addr") {
			cfg.StreamAddr = strings.TrimSpace(raw.StreamAddr)
		}
		if meta.IsDefined("tick_rate") {
			cfg.TickRate = raw.TickRate
		}
		if meta.IsDefined("workers") {
			cfg.Workers = raw.Workers
		}
		if meta.IsDefined("max_payload_bytes") {
			cfg.MaxPayloadBytes = raw.MaxPayloadBytes
		}
		if meta.IsDefined("population") {
			cfg.Population = raw.Population
		}
		if meta.IsDefined("chunk_capacity") {
			cfg.ChunkCapacity = raw.ChunkCapacity
		}
		if meta.IsDefined("metrics") {
			cfg.MetricsEnabled = raw.Metrics
		}
		if meta.IsDefined("tracing_endpoint") {
			cfg.TracingEndpoint = strings.TrimSpace(raw.TracingEndpoint)
		}
		if meta.IsDefined("cors_origins") {
			cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
		}
		if meta.IsDefined("admin_token") {
			cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
		}
		if err := applySession(meta, "session", raw.Session, &cfg.Session); err != nil {
			return ServerConfig{}, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func LoadProbeConfig(path string) (ProbeConfig, error) {
	cfg := DefaultProbeConfig()
	if strings.TrimSpace(path) != "" {
		var raw probeFile
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return ProbeConfig{}, fmt.Errorf("load probe config (%s): %w", path, err)
		}
		if meta.IsDefined("name") {
			cfg.Name = strings.TrimSpace(raw.Name)
		}
		if meta.IsDefined("server_url") {
			cfg.ServerURL = strings.TrimSpace(raw.ServerURL)
		}
		if meta.IsDefined("history") {
			cfg.HistoryCapacity = raw.History
		}
		if meta.IsDefined("ack_every") {
			cfg.AckEvery = raw.AckEvery
		}
		if meta.IsDefined("duration") {
			d, err := parseDuration("duration", raw.Duration)
			if err != nil {
				return ProbeConfig{}, err
			}
			cfg.Duration = d
		}
		if meta.IsDefined("report_every") {
			d, err := parseDuration("report_every", raw.ReportEvery)
			if err != nil {
				return ProbeConfig{}, err
			}
			cfg.ReportEvery = d
		}
		if err := applySession(meta, "session", raw.Session, &cfg.Session); err != nil {
			return ProbeConfig{}, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return ProbeConfig{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return ProbeConfig{}, err
	}
	return cfg, nil
}

func applySession(meta toml.MetaData, table string, raw sessionFile, cfg *session.Config) error {
	durations := []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout},
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.HandshakeTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.WriteTimeout},
		{"idle_timeout", raw.IdleTimeout, &cfg.IdleTimeout},
		{"backoff_initial", raw.BackoffInitial, &cfg.Backoff.InitialDelay},
		{"backoff_max", raw.BackoffMax, &cfg.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(table, d.key) {
			continue
		}
		v, err := parseDuration(table+"."+d.key, d.val)
		if err != nil {
			return err
		}
		*d.dst = v
	}
	if meta.IsDefined(table, "backoff_multiplier") {
		cfg.Backoff.Multiplier = raw.BackoffFactor
	}
	if meta.IsDefined(table, "max_attempts") {
		cfg.Backoff.MaxAttempts = raw.MaxAttempts
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
