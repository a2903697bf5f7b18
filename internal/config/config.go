// Package config loads fastsink settings from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/drgolem/fastsink/fastsink"
	"gopkg.in/yaml.v3"
)

// Config represents the complete fastsink configuration
type Config struct {
	Host   HostConfig   `yaml:"host"`
	Stream StreamConfig `yaml:"stream"`
	Log    LogConfig    `yaml:"log"`
}

// HostConfig contains runtime host settings
type HostConfig struct {
	Workers int `yaml:"workers"` // worker slots, at least 2
}

// StreamConfig contains the PCM format and engine tuning
type StreamConfig struct {
	fastsink.Settings `yaml:",inline"`

	TickIntervalMs int  `yaml:"tick_interval_ms"` // read clock period
	RefillBlocks   int  `yaml:"refill_blocks"`    // free read blocks before a refill is requested
	LockFree       bool `yaml:"lock_free"`        // use the SPSC ring backend
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns the configuration used when no file is given: CD-quality
// stereo with a 250ms buffer.
func Default() *Config {
	return &Config{
		Host: HostConfig{Workers: fastsink.DefaultWorkers},
		Stream: StreamConfig{
			Settings: fastsink.Settings{
				SampleSize: 2,
				Channels:   2,
				SampleRate: 44100,
				BufferMs:   250,
			},
			TickIntervalMs: int(fastsink.DefaultTickInterval / time.Millisecond),
			RefillBlocks:   fastsink.DefaultRefillBlocks,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads and parses a YAML configuration file. Keys missing from the
// file keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data on top of Default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// TickInterval returns the configured tick interval.
func (s StreamConfig) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalMs) * time.Millisecond
}

// EngineOptions converts the tuning fields into engine options.
func (s StreamConfig) EngineOptions() []fastsink.Option {
	return []fastsink.Option{
		fastsink.WithTickInterval(s.TickInterval()),
		fastsink.WithRefillBlocks(s.RefillBlocks),
		fastsink.WithLockFree(s.LockFree),
	}
}
