package config

import (
	"io"
	"log/slog"
	"strings"
)

// SlogLevel maps Level onto slog. Unknown names fall back to info; Validate
// rejects them before a logger is built.
func (l LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// NewLogger builds the process logger. attrs are attached to every record,
// typically service, version and pid.
func (l LogConfig) NewLogger(w io.Writer, attrs ...any) *slog.Logger {
	level := l.SlogLevel()
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(l.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler).With(attrs...)
}
