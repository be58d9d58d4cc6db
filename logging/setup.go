package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

type LogLevel string

const (
	LogLevelNone  LogLevel = "none"
	LogLevelInfo  LogLevel = "info"
	LogLevelDebug LogLevel = "debug"
)

var (
	logger  *slog.Logger
	logFile *os.File
)

// Setup installs the package logger. With a non-empty file every record is
// also appended there, at debug level, regardless of the terminal level.
func Setup(optslevel LogLevel, file string) error {
	Close()

	sink := io.Discard
	if optslevel != LogLevelNone {
		sink = os.Stderr
	}

	level := slog.LevelDebug
	if optslevel == LogLevelInfo {
		level = slog.LevelInfo
	}
	handlers := []slog.Handler{
		slog.NewTextHandler(sink, &slog.HandlerOptions{
			Level: level,
		}),
	}

	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", file, err)
		}
		logFile = f
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}

	logger = slog.New(slogmulti.Fanout(handlers...))
	return nil
}

// Close flushes and releases the log file opened by Setup, if any.
func Close() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}
