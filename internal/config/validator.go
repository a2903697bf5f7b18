package config

import (
	"fmt"
)

// Validate checks if the configuration is valid
func Validate(cfg *Config) error {
	if cfg.Host.Workers < 2 {
		return fmt.Errorf("host.workers must be >= 2, got %d", cfg.Host.Workers)
	}

	if err := cfg.Stream.Settings.Validate(); err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	if cfg.Stream.TickIntervalMs < 1 || cfg.Stream.TickIntervalMs > 1000 {
		return fmt.Errorf("stream.tick_interval_ms must be in [1, 1000], got %d", cfg.Stream.TickIntervalMs)
	}
	if cfg.Stream.RefillBlocks <= 0 {
		cfg.Stream.RefillBlocks = 5 // default
	}

	if _, err := ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch cfg.Log.Format {
	case "":
		cfg.Log.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}

	return nil
}
