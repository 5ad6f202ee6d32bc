package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New creates a logger writing to stdout. The returned LevelVar can be used
// to change the level at runtime.
func New(lvl string, addSource bool, environment string) (*slog.Logger, *slog.LevelVar) {
	return NewWithWriter(os.Stdout, lvl, addSource, environment)
}

// NewWithWriter creates a logger writing to w: JSON in prod, text elsewhere.
func NewWithWriter(w io.Writer, lvl string, addSource bool, environment string) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(ParseLevel(lvl))

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: addSource,
	}
	var handler slog.Handler

	if strings.ToLower(environment) == "prod" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler).With(
		slog.String("environment", environment),
	), level
}

// ParseLevel maps a config level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
