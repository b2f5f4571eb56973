// Package logging configures the application slog logger.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New creates a console slog.Logger at the provided level. Unknown level
// strings fall back to info so a typo in configuration never silences logs.
func New(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: levelFromString(level),
	})
	return slog.New(handler)
}

// WithRun scopes a logger to one pipeline run so every line it emits carries
// the run identifier.
func WithRun(logger *slog.Logger, runID string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("run", runID)
}

func levelFromString(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
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
