package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// ParseLevel maps LOG_LEVEL values onto slog levels, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// New builds the process logger: JSON to stdout, plus a JSON log file when
// logFile is set. The returned cleanup closes the file.
func New(logFile string, level slog.Level) (*slog.Logger, func() error) {
	stdout := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})

	if logFile == "" {
		return slog.New(NewContextHandler(stdout)), func() error { return nil }
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) // #nosec G304 -- operator supplied path
	if err != nil {
		slog.Error("failed to open log file, using stdout only", "error", err, "file", logFile)
		return slog.New(NewContextHandler(stdout)), func() error { return nil }
	}

	return NewWithWriters(os.Stdout, file, level), file.Close
}

// NewWithWriters fans records out to two JSON writers.
func NewWithWriters(primary, secondary io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	fanout := slogmulti.Fanout(
		slog.NewJSONHandler(primary, opts),
		slog.NewJSONHandler(secondary, opts),
	)
	return slog.New(NewContextHandler(fanout))
}
