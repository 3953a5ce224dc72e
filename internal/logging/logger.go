// Package logging builds the process-wide slog logger: a leveled handler
// that writes text to terminals and JSON everywhere else.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatAuto = "auto"
)

// ParseLevel maps a level name to a slog.Level.
// Supported values: "debug", "info", "warn", "error" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
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

// NewLogger creates a leveled slog.Logger writing to w. Format "auto" picks
// text when w is a terminal and JSON otherwise.
func NewLogger(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if resolveFormat(format, w) == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Setup installs a logger on stderr as the slog default and returns it.
func Setup(level, format string) *slog.Logger {
	logger := NewLogger(level, format, os.Stderr)
	slog.SetDefault(logger)
	return logger
}

func resolveFormat(format string, w io.Writer) string {
	switch strings.ToLower(format) {
	case FormatText:
		return FormatText
	case FormatJSON:
		return FormatJSON
	}
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return FormatText
	}
	return FormatJSON
}
