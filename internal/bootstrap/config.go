package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	slogmulti "github.com/samber/slog-multi"

	"github.com/target/jobengine/config"
)

// InitLogger initializes the structured logger: JSON to stdout and, when cfg.File is set,
// a second JSON copy appended to that file. The returned function closes the file.
func InitLogger(cfg config.LogConfig) (*slog.Logger, func() error) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	stdout := slog.NewJSONHandler(os.Stdout, opts)

	if cfg.File == "" {
		logger := slog.New(stdout)
		slog.SetDefault(logger)
		return logger, func() error { return nil }
	}

	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		logger := slog.New(stdout)
		slog.SetDefault(logger)
		logger.Error("failed to open log file, using stdout only", "error", err, "file", cfg.File)
		return logger, func() error { return nil }
	}

	logger := NewLoggerWithWriters(os.Stdout, file, cfg.SlogLevel())
	slog.SetDefault(logger)
	return logger, file.Close
}

// NewLoggerWithWriters builds the fan-out logger over two writers.
func NewLoggerWithWriters(primary, secondary io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	return slog.New(slogmulti.Fanout(
		slog.NewJSONHandler(primary, opts),
		slog.NewJSONHandler(secondary, opts),
	))
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (config.AppConfig, error) {
	// Load .env file if it exists (development)
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return config.AppConfig{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg config.AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	return cfg, nil
}

// ValidateServiceConfig validates that at least one service is enabled and that the
// selected store can serve it.
func ValidateServiceConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("service config is required")
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("invalid service configuration: %w", err)
	}

	if len(services) == 0 {
		return errors.New("no services enabled")
	}

	if services[config.ServiceModeReaper] && !cfg.Engine.LeaseEnabled {
		return errors.New("reaper service requires ENGINE_LEASE_ENABLED=true")
	}

	return nil
}

// GetEnabledServices returns a list of enabled service names.
func GetEnabledServices(cfg *config.AppConfig) []string {
	if cfg == nil {
		return []string{}
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		// Return empty list on error - validation will catch this
		return []string{}
	}

	enabledServices := make([]string, 0, len(services))
	for _, mode := range config.ValidServiceModes() {
		if services[mode] {
			enabledServices = append(enabledServices, string(mode))
		}
	}

	return enabledServices
}
