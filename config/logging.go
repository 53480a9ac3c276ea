package config

import (
	"log/slog"
	"strings"
)

// LogConfig controls the structured logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `env:"LOG_LEVEL" envDefault:"info"`

	// File, when set, receives a copy of every log record as JSON in addition to stdout.
	File string `env:"LOG_FILE"`
}

// Sanitize normalises the level name.
func (c *LogConfig) Sanitize() {
	c.Level = strings.ToLower(strings.TrimSpace(c.Level))
	c.File = strings.TrimSpace(c.File)
	if c.Level == "" {
		c.Level = "info"
	}
}

// SlogLevel maps Level to a slog level, defaulting to info.
func (c *LogConfig) SlogLevel() slog.Level {
	switch c.Level {
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
