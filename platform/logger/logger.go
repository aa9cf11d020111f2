package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// parseLevel maps a level name to its slog level (case-insensitive). The
// second return reports whether the name was recognized; unrecognized names
// map to info.
func parseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// New creates a structured JSON logger writing to w at the given level.
// An invalid level falls back to info with a warning on stderr.
func New(w io.Writer, level string) *slog.Logger {
	parsed, ok := parseLevel(level)
	if !ok {
		// Create a temporary logger to output the warning
		tmp := slog.New(slog.NewTextHandler(os.Stderr, nil))
		tmp.Warn("invalid log level configured, using default level",
			"configured_level", level,
			"default_level", "info")
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parsed})
	return slog.New(handler)
}

// Setup initializes the engine's logging system. It creates a structured
// JSON logger on stdout with the configured level and sets it as the default
// logger, so the slog package functions (slog.Info, slog.Error, etc.) use it
// directly.
func Setup(level string) *slog.Logger {
	logger := New(os.Stdout, level)
	slog.SetDefault(logger)
	return logger
}
