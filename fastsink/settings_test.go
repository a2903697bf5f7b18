package fastsink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsCapacity(t *testing.T) {
	tests := []struct {
		s    Settings
		want int
	}{
		{cdQuality, 176400},
		{Settings{SampleSize: 2, Channels: 2, SampleRate: 44100, BufferMs: 250}, 44100},
		{Settings{SampleSize: 2, Channels: 1, SampleRate: 48000, BufferMs: 100}, 9600},
		{Settings{SampleSize: 4, Channels: 6, SampleRate: 96000, BufferMs: 500}, 1152000},
		{Settings{SampleSize: 1, Channels: 1, SampleRate: 8000, BufferMs: 1}, 8},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.s.Capacity(), "%+v", tt.s)
		assert.Equal(t, tt.s.SampleSize*tt.s.Channels, tt.s.FrameSize())
	}
}

func TestSettingsReadSize(t *testing.T) {
	assert.Equal(t, 1764, cdQuality.ReadSize(10*time.Millisecond))
	assert.Equal(t, 3528, cdQuality.ReadSize(20*time.Millisecond))
	assert.Equal(t, 176400, cdQuality.ReadSize(time.Second))
	assert.Zero(t, cdQuality.ReadSize(0))
	assert.Zero(t, cdQuality.ReadSize(2*time.Second))

	mono48k := Settings{SampleSize: 2, Channels: 1, SampleRate: 48000, BufferMs: 100}
	assert.Equal(t, 960, mono48k.ReadSize(10*time.Millisecond))
}

func TestSettingsValidate(t *testing.T) {
	require.NoError(t, cdQuality.Validate())

	for _, s := range []Settings{
		{SampleSize: 0, Channels: 2, SampleRate: 44100, BufferMs: 100},
		{SampleSize: 2, Channels: 0, SampleRate: 44100, BufferMs: 100},
		{SampleSize: 2, Channels: 2, SampleRate: -1, BufferMs: 100},
		{SampleSize: 2, Channels: 2, SampleRate: 44100, BufferMs: 0},
		// Larger than MaxBufferBytes.
		{SampleSize: 1, Channels: 1 << 20, SampleRate: 1 << 20, BufferMs: 1 << 20},
		// Overflows 64 bits.
		{SampleSize: 255, Channels: 1 << 31, SampleRate: 1 << 31, BufferMs: 1 << 31},
	} {
		assert.ErrorIs(t, s.Validate(), ErrInvalidSettings, "%+v", s)
	}
}

func TestSettingsCapacityOverflow(t *testing.T) {
	huge := Settings{SampleSize: 255, Channels: 1 << 31, SampleRate: 1 << 31, BufferMs: 1 << 31}
	assert.Zero(t, huge.Capacity())

	// Exactly at the limit is still usable.
	limit := Settings{SampleSize: 1, Channels: 1, SampleRate: 1000, BufferMs: MaxBufferBytes}
	require.NoError(t, limit.Validate())
	assert.Equal(t, MaxBufferBytes, limit.Capacity())

	limit.BufferMs++
	assert.ErrorIs(t, limit.Validate(), ErrInvalidSettings)
}

func TestEngineConfigValidate(t *testing.T) {
	c := defaultEngineConfig()
	require.NoError(t, c.validate(cdQuality))

	c.tickInterval = 0
	assert.ErrorIs(t, c.validate(cdQuality), ErrInvalidSettings)

	c = defaultEngineConfig()
	c.tickInterval = 2 * time.Second
	assert.ErrorIs(t, c.validate(cdQuality), ErrInvalidSettings)

	// 50 Hz cannot produce a frame every 10ms.
	c = defaultEngineConfig()
	slow := Settings{SampleSize: 2, Channels: 1, SampleRate: 50, BufferMs: 1000}
	assert.ErrorIs(t, c.validate(slow), ErrInvalidSettings)
}
