package logger

import (
	"log/slog"
	"os"
	"strings"
)

// New returns a structured JSON logger at info level using slog.
func New() *slog.Logger {
	return NewWithLevel("info")
}

// NewWithLevel returns a structured JSON logger at the named level.
// Unknown names fall back to info.
func NewWithLevel(level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
