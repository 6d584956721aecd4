package observability

import (
	"github.com/rs/zerolog"

	"github.com/danmuck/ghostwire/internal/logging"
)

// HTTPLogger derives the request logger for an admin listener.
func HTTPLogger(node string) zerolog.Logger {
	return logging.With("http").With().Str("node", node).Logger()
}
