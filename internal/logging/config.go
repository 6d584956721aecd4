package logging

import (
	"strconv"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

const (
	EnvLogLevel      = "GHOSTWIRE_LOG_LEVEL"
	EnvLogTimestamp  = "GHOSTWIRE_LOG_TIMESTAMP"
	EnvLogNoColor    = "GHOSTWIRE_LOG_NOCOLOR"
	EnvLogFormat     = "GHOSTWIRE_LOG_FORMAT"
	EnvLogComponents = "GHOSTWIRE_LOG_COMPONENTS"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

type Format string

const (
	FormatConsole Format = "console"
	// FormatJSON writes one JSON object per line, for log shippers.
	FormatJSON Format = "json"
)

// Config is the resolved output configuration for the process logger.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	Format    Format
	// Components overrides Level for loggers returned by With, keyed by
	// component name, e.g. "replication=trace,http=warn".
	Components map[string]zerolog.Level
}

// envConfig holds raw values so one malformed variable does not discard
// the others.
type envConfig struct {
	Level      string            `env:"GHOSTWIRE_LOG_LEVEL"`
	Timestamp  string            `env:"GHOSTWIRE_LOG_TIMESTAMP"`
	NoColor    string            `env:"GHOSTWIRE_LOG_NOCOLOR"`
	Format     string            `env:"GHOSTWIRE_LOG_FORMAT"`
	Components map[string]string `env:"GHOSTWIRE_LOG_COMPONENTS" envKeyValSeparator:"="`
}

var configureOnce sync.Once

func ConfigureRuntime() {
	Configure(ProfileRuntime)
}

func ConfigureTests() {
	Configure(ProfileTest)
}

func Configure(profile Profile) {
	configureOnce.Do(func() {
		cfg := defaultConfig(profile)
		applyEnvOverrides(&cfg)
		install(cfg)
	})
}

func defaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, Format: FormatConsole}
	default:
		return Config{Level: zerolog.InfoLevel, Timestamp: true, Format: FormatConsole}
	}
}

func applyEnvOverrides(cfg *Config) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return
	}
	if lvl, ok := parseLevel(raw.Level); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(raw.Timestamp); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(raw.NoColor); ok {
		cfg.NoColor = v
	}
	switch Format(strings.ToLower(strings.TrimSpace(raw.Format))) {
	case FormatJSON:
		cfg.Format = FormatJSON
	case FormatConsole:
		cfg.Format = FormatConsole
	}
	for name, level := range raw.Components {
		name = strings.TrimSpace(name)
		lvl, ok := parseLevel(level)
		if name == "" || !ok {
			continue
		}
		if cfg.Components == nil {
			cfg.Components = make(map[string]zerolog.Level)
		}
		cfg.Components[name] = lvl
	}
}

func parseLevel(raw string) (zerolog.Level, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch raw {
	case "":
		return zerolog.InfoLevel, false
	case "warning":
		return zerolog.WarnLevel, true
	case "off", "none":
		return zerolog.Disabled, true
	}
	lvl, err := zerolog.ParseLevel(raw)
	if err != nil {
		return zerolog.InfoLevel, false
	}
	return lvl, true
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
