package fastsink

import (
	"fmt"
	"log/slog"
	"math"
	"math/bits"
	"time"
)

const (
	// DefaultTickInterval is the period of the engine's read clock.
	DefaultTickInterval = 10 * time.Millisecond
	// DefaultRefillBlocks is the number of read-sized blocks of free space
	// required before the engine asks the host for more data.
	DefaultRefillBlocks = 5
	// MaxBufferBytes is the largest ring buffer an engine allocates.
	MaxBufferBytes = math.MaxInt32
)

// Settings describes the PCM stream an engine consumes.
type Settings struct {
	// SampleSize is the byte size of one sample (e.g. 2 for 16-bit).
	SampleSize int `yaml:"sample_size"`
	// Channels is the number of interleaved channels.
	Channels int `yaml:"channels"`
	// SampleRate in frames per second, e.g. 44100.
	SampleRate int `yaml:"sample_rate"`
	// BufferMs is how many milliseconds of audio the ring buffer holds.
	BufferMs int `yaml:"buffer_ms"`
}

// FrameSize returns the size in bytes of one frame (one sample per channel).
func (s Settings) FrameSize() int {
	return s.SampleSize * s.Channels
}

// Capacity returns the ring buffer size in bytes:
// frame_size * sample_rate * buffer_ms / 1000.
// It returns 0 when the product does not fit in MaxBufferBytes.
func (s Settings) Capacity() int {
	c, ok := s.capacity()
	if !ok || c > MaxBufferBytes {
		return 0
	}
	return int(c)
}

// capacity computes the buffer size without overflowing. It reports false
// for negative fields or a product beyond 64 bits.
func (s Settings) capacity() (uint64, bool) {
	if s.SampleSize < 0 || s.Channels < 0 || s.SampleRate < 0 || s.BufferMs < 0 {
		return 0, false
	}
	c := uint64(1)
	for _, f := range []int{s.SampleSize, s.Channels, s.SampleRate, s.BufferMs} {
		hi, lo := bits.Mul64(c, uint64(f))
		if hi != 0 {
			return 0, false
		}
		c = lo
	}
	return c / 1000, true
}

// ReadSize returns the number of bytes drained per tick for the given tick
// interval: (sample_rate / (1000 / interval_ms)) * frame_size.
func (s Settings) ReadSize(interval time.Duration) int {
	ms := int(interval / time.Millisecond)
	if ms <= 0 || ms > 1000 {
		return 0
	}
	return (s.SampleRate / (1000 / ms)) * s.FrameSize()
}

// Validate reports whether the settings describe a usable stream.
func (s Settings) Validate() error {
	switch {
	case s.SampleSize <= 0:
		return fmt.Errorf("%w: sample size %d", ErrInvalidSettings, s.SampleSize)
	case s.Channels <= 0:
		return fmt.Errorf("%w: channel count %d", ErrInvalidSettings, s.Channels)
	case s.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %d", ErrInvalidSettings, s.SampleRate)
	case s.BufferMs <= 0:
		return fmt.Errorf("%w: buffer length %d ms", ErrInvalidSettings, s.BufferMs)
	}
	if c, ok := s.capacity(); !ok || c > MaxBufferBytes {
		return fmt.Errorf("%w: buffer exceeds %d bytes", ErrInvalidSettings, MaxBufferBytes)
	}
	return nil
}

// Option configures an Engine.
type Option func(*engineConfig)

type engineConfig struct {
	tickInterval time.Duration
	refillBlocks int
	lockFree     bool
	logger       *slog.Logger

	// test hooks
	newTicker func(time.Duration) ticker
	onTick    func(TickReport)
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		tickInterval: DefaultTickInterval,
		refillBlocks: DefaultRefillBlocks,
		newTicker:    newTimeTicker,
	}
}

// WithTickInterval sets the read clock period. It must be a whole number of
// milliseconds between 1 and 1000.
//
// Default: 10ms (DefaultTickInterval)
func WithTickInterval(d time.Duration) Option {
	return func(c *engineConfig) {
		c.tickInterval = d
	}
}

// WithRefillBlocks sets how many read-sized blocks of free space must be
// available before a refill is requested.
//
// Default: 5 (DefaultRefillBlocks)
func WithRefillBlocks(n int) Option {
	return func(c *engineConfig) {
		c.refillBlocks = n
	}
}

// WithLockFree selects the lock-free SPSC ring buffer backend instead of the
// default mutex-guarded one.
func WithLockFree(enabled bool) Option {
	return func(c *engineConfig) {
		c.lockFree = enabled
	}
}

// WithLogger sets the logger used by the engine. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *engineConfig) {
		c.logger = l
	}
}

func (c engineConfig) validate(s Settings) error {
	if c.tickInterval < time.Millisecond || c.tickInterval > time.Second ||
		c.tickInterval%time.Millisecond != 0 {
		return fmt.Errorf("%w: tick interval %v", ErrInvalidSettings, c.tickInterval)
	}
	if c.refillBlocks <= 0 {
		return fmt.Errorf("%w: refill blocks %d", ErrInvalidSettings, c.refillBlocks)
	}
	readSize := s.ReadSize(c.tickInterval)
	if readSize <= 0 {
		return fmt.Errorf("%w: sample rate %d yields no frames per %v tick",
			ErrInvalidSettings, s.SampleRate, c.tickInterval)
	}
	if s.Capacity() < readSize {
		return fmt.Errorf("%w: buffer of %d bytes is smaller than one tick (%d bytes)",
			ErrInvalidSettings, s.Capacity(), readSize)
	}
	return nil
}
