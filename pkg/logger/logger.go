package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

var Log *slog.Logger

// Init initializes the global slog logger with a text handler at Info level.
// Sink and level can be overridden via NOSTRGRAPH_LOG_SINK / NOSTRGRAPH_LOG_LEVEL
// for tests and production.
func Init() {
	InitWithLevel("")
}

// InitWithLevel initializes the global logger honoring the provided level
// string ("debug", "info", "warn", "error"). If level is empty it falls back
// to the environment-based behavior of Init().
func InitWithLevel(level string) {
	sink := os.Getenv("NOSTRGRAPH_LOG_SINK") // e.g. "file:/path/to/log"
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		lvl = strings.ToLower(strings.TrimSpace(os.Getenv("NOSTRGRAPH_LOG_LEVEL")))
	}
	var lv slog.Level
	switch lvl {
	case "debug":
		lv = slog.LevelDebug
	case "warn", "warning":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	case "info":
		lv = slog.LevelInfo
	default:
		lv = slog.LevelInfo
	}

	if strings.HasPrefix(sink, "file:") {
		path := strings.TrimPrefix(sink, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err == nil {
			Log = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: lv}))
			return
		}
		fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
	}
	Log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lv}))
}

func ensure() *slog.Logger {
	if Log == nil {
		Init()
	}
	return Log
}

// Debug logs at debug level via the global logger.
func Debug(msg string, args ...any) {
	ensure().Debug(msg, args...)
}

// Info logs at info level via the global logger.
func Info(msg string, args ...any) {
	ensure().Info(msg, args...)
}

// Warn logs at warn level via the global logger.
func Warn(msg string, args ...any) {
	ensure().Warn(msg, args...)
}

// Error logs at error level via the global logger.
func Error(msg string, args ...any) {
	ensure().Error(msg, args...)
}
