package log

import (
	"log/slog"
	"strings"
)

// Config represents logging configuration for the transaction manager
// demo and its ambient collaborators.
type Config struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// DefaultConfig returns default logging configuration. txnbench is run
// interactively far more often than piped into a log aggregator, so
// the default format is text rather than JSON; set Format to "json"
// in a config file for machine-readable output.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "text",
	}
}

// ParseLevel parses string log level to slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Configure sets up the logger based on config.
func Configure(cfg Config) {
	level := ParseLevel(cfg.Level)

	var logger Logger
	switch strings.ToLower(cfg.Format) {
	case "text":
		logger = NewTextLogger(level)
	case "json":
		logger = NewJSONLogger(level)
	default:
		logger = NewJSONLogger(level)
	}

	SetDefault(logger)
}
