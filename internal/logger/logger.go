// Package logger initializes the process-wide slog logger from config.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// L is the configured root logger. Init must be called before use; it falls
// back to slog.Default() otherwise.
var L = slog.Default()

// Init configures the root logger with the given level and format.
// Level is one of debug/info/warn/error; format is text or json.
func Init(level, format string) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	L = slog.New(handler)
	slog.SetDefault(L)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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
