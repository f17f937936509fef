// Package logging sets up the process-wide slog logger.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New builds a text-handler logger writing to stdout at the given level
// name ("debug", "info", "warn", "error"; anything else defaults to info).
func New(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
}

// Bootstrap builds a logger from level and installs it as the package-level
// default so every slog.Info/Warn/Error call in the process uses it.
func Bootstrap(level string) {
	slog.SetDefault(New(level))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
