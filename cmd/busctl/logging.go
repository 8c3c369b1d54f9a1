package main

import (
	"io"
	"log/slog"
	"strings"
)

// newLogger builds the busctl logger: JSON unless format is "text", level
// parsed from its name, with service and version on every record.
func newLogger(w io.Writer, format, level, version string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var h slog.Handler
	switch strings.ToLower(format) {
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		h = slog.NewJSONHandler(w, opts)
	}
	h = h.WithAttrs([]slog.Attr{
		slog.String("service", "busctl"),
		slog.String("version", version),
	})
	return slog.New(h)
}

// parseLevel accepts debug, info, warn and error; anything else is info.
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
