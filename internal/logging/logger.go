package logging

import (
	"io"
	"log/slog"
	"os"
)

// Logger is the application-wide structured logger instance.
var Logger *slog.Logger

// InitLogger initializes the global logger with the specified level and format.
// level: "debug", "info", "warn", "error" (defaults to "info")
// format: "json" or "text" (defaults to "text")
func InitLogger(level, format string) {
	initLogger(os.Stdout, level, format)
}

// InitWorkerLogger routes logs to stderr. Worker processes reserve stdout
// for the supervisor heartbeat protocol.
func InitWorkerLogger(level, format string) {
	initLogger(os.Stderr, level, format)
}

func initLogger(w io.Writer, level, format string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// WithGame returns a logger with game_id field.
func WithGame(gameID string) *slog.Logger {
	return Logger.With("game_id", gameID)
}

// WithLeague returns a logger with league field.
func WithLeague(league string) *slog.Logger {
	return Logger.With("league", league)
}

// WithWorker returns a logger with worker_id field.
func WithWorker(workerID string) *slog.Logger {
	return Logger.With("worker_id", workerID)
}

// WithError returns a logger with error field.
func WithError(err error) *slog.Logger {
	return Logger.With("error", err)
}
