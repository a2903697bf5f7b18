package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevelEnv overrides the configured log level when set.
const LogLevelEnv = "FASTSINK_LOG_LEVEL"

// ParseLevel parses a level name such as "debug" or "WARN". The empty string
// is info.
func ParseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// NewLogger builds the slog logger described by c, writing to w. The
// FASTSINK_LOG_LEVEL environment variable takes precedence over c.Level.
func NewLogger(c LogConfig, w io.Writer) (*slog.Logger, error) {
	levelName := c.Level
	if env := os.Getenv(LogLevelEnv); env != "" {
		levelName = env
	}
	level, err := ParseLevel(levelName)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch c.Format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), nil
}
