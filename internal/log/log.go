// Package log constructs the plugin logger. Logging is off unless the
// --log flag selects a level, matching the plugin's quiet-by-default
// behavior (monitoring servers parse stdout, so diagnostics go elsewhere).
package log

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps a --log flag value to a slog level. Accepted names are
// DEBUG, INFO, WARNING and ERROR (case-insensitive).
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARNING", "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log: unknown level %q", name)
	}
}

// New returns a logger writing human-readable lines to w at the given level.
func New(level slog.Level, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
