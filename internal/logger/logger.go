// Package logger provides structured logging setup for the fleet
// orchestrator.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/fleetforge/orchestrator/internal/config"
)

const (
	asyncChanSize = 4096
	asyncWorkers  = 2
)

// New creates a *slog.Logger from the given Logging config. Output is
// JSON to stdout with a "service" attribute on every record. When
// cfg.Async is set, records are handed off to a buffered worker pool
// (AsyncHandler) instead of written synchronously; the returned
// Closer must be closed to flush and stop that pool. When Async is
// unset the returned Closer is a no-op, safe to defer unconditionally.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	level := parseLevel(cfg.Level)

	handler := slog.Handler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	var closer Closer = nopCloser{}
	if cfg.Async {
		async := NewAsyncHandler(handler, asyncChanSize, asyncWorkers)
		handler = async
		closer = async
	}

	return slog.New(handler).With("service", cfg.Service), closer
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
