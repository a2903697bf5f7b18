package pcmsource

import (
	"io"
	"math"
	"time"
)

// generator produces a fixed number of frames from a per-sample function.
type generator struct {
	sampleRate int
	channels   int
	remaining  int64 // frames; negative means endless
	sample     func(ch int) int16
	advance    func()
}

func (g *generator) SampleRate() int { return g.sampleRate }
func (g *generator) Channels() int   { return g.channels }
func (g *generator) Close() error    { return nil }

func (g *generator) Read(p []byte) (int, error) {
	frame := g.channels * BytesPerSample
	if len(p) == 0 {
		return 0, nil
	}
	frames := int64(len(p) / frame)
	if frames == 0 {
		return 0, io.ErrShortBuffer
	}
	if g.remaining == 0 {
		return 0, io.EOF
	}
	if g.remaining > 0 && frames > g.remaining {
		frames = g.remaining
	}

	off := 0
	for f := int64(0); f < frames; f++ {
		for ch := 0; ch < g.channels; ch++ {
			putS16(p[off:], int(g.sample(ch)))
			off += BytesPerSample
		}
		g.advance()
	}
	if g.remaining > 0 {
		g.remaining -= frames
	}
	return off, nil
}

func durationFrames(sampleRate int, d time.Duration) int64 {
	if d < 0 {
		return -1
	}
	return int64(sampleRate) * int64(d) / int64(time.Second)
}

// Silence returns d of digital silence. A negative d never ends.
func Silence(sampleRate, channels int, d time.Duration) Source {
	return &generator{
		sampleRate: sampleRate,
		channels:   channels,
		remaining:  durationFrames(sampleRate, d),
		sample:     func(int) int16 { return 0 },
		advance:    func() {},
	}
}

// Sine returns d of a sine tone at freq Hz and the given amplitude in
// [0, 1], identical on every channel. A negative d never ends.
func Sine(freq float64, amplitude float64, sampleRate, channels int, d time.Duration) Source {
	step := freq / float64(sampleRate)
	var phase float64
	return &generator{
		sampleRate: sampleRate,
		channels:   channels,
		remaining:  durationFrames(sampleRate, d),
		sample: func(int) int16 {
			return int16(floatToS16(float32(amplitude * math.Sin(2*math.Pi*phase))))
		},
		advance: func() {
			_, phase = math.Modf(phase + step)
		},
	}
}
