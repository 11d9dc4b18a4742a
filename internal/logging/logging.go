package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// Setup creates the process logger: text to stderr and, when file is set,
// JSON lines appended to file. The returned cleanup closes the file.
func Setup(level, file string) (*slog.Logger, func() error) {
	lvl := ParseLevel(level)
	stderrHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	if strings.TrimSpace(file) == "" {
		return slog.New(stderrHandler), func() error { return nil }
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := slog.New(stderrHandler)
		logger.Error("failed to open log file, using stderr only", "error", err, "file", file)
		return logger, func() error { return nil }
	}
	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: lvl})
	return slog.New(slogmulti.Fanout(stderrHandler, fileHandler)), f.Close
}

// WithWriters builds the same fanout over arbitrary writers (tests).
func WithWriters(text, jsonOut io.Writer, level string) *slog.Logger {
	lvl := ParseLevel(level)
	return slog.New(slogmulti.Fanout(
		slog.NewTextHandler(text, &slog.HandlerOptions{Level: lvl}),
		slog.NewJSONHandler(jsonOut, &slog.HandlerOptions{Level: lvl}),
	))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrDefault returns l, or slog.Default() when l is nil.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
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
