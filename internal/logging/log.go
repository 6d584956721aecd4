package logging

import (
	"io"
	"maps"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	current    atomic.Pointer[zerolog.Logger]
	components atomic.Pointer[map[string]zerolog.Level]
)

func init() {
	l := zerolog.New(os.Stderr).Level(zerolog.InfoLevel)
	current.Store(&l)
}

func install(cfg Config) {
	l := build(os.Stderr, cfg)
	current.Store(&l)
	levels := maps.Clone(cfg.Components)
	components.Store(&levels)
}

func build(w io.Writer, cfg Config) zerolog.Logger {
	out := w
	if cfg.Format != FormatJSON {
		out = zerolog.ConsoleWriter{
			Out:        w,
			NoColor:    cfg.NoColor,
			TimeFormat: time.RFC3339,
		}
	}
	ctx := zerolog.New(out).Level(cfg.Level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger()
}

// Logger returns the process logger for structured events.
func Logger() zerolog.Logger {
	return *current.Load()
}

// With returns a child logger tagged with the given component name. A level
// set for the component in GHOSTWIRE_LOG_COMPONENTS replaces the process
// level.
func With(component string) zerolog.Logger {
	l := current.Load().With().Str("component", component).Logger()
	if levels := components.Load(); levels != nil {
		if lvl, ok := (*levels)[component]; ok {
			l = l.Level(lvl)
		}
	}
	return l
}

func Tracef(format string, args ...any) { current.Load().Trace().Msgf(format, args...) }
func Debugf(format string, args ...any) { current.Load().Debug().Msgf(format, args...) }
func Infof(format string, args ...any)  { current.Load().Info().Msgf(format, args...) }
func Warnf(format string, args ...any)  { current.Load().Warn().Msgf(format, args...) }
func Errf(format string, args ...any)   { current.Load().Error().Msgf(format, args...) }
