package pcmsource

import (
	"bytes"
	"fmt"
	"io"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// intReader is what go-audio's wav and aiff decoders have in common.
type intReader interface {
	Format() *goaudio.Format
	PCMBuffer(buf *goaudio.IntBuffer) (int, error)
}

// intBufferFrames is how many frames are decoded per PCMBuffer call.
const intBufferFrames = 1024

type intSource struct {
	chunkReader
	dec        intReader
	sampleRate int
	channels   int
	shift      int
	intBuf     *goaudio.IntBuffer
	out        []byte
}

func newIntSource(dec intReader, bitDepth int) (*intSource, error) {
	format := dec.Format()
	if format == nil || format.NumChannels <= 0 || format.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: missing format chunk", ErrInvalidFile)
	}
	switch bitDepth {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBitDepth, bitDepth)
	}

	n := intBufferFrames * format.NumChannels
	s := &intSource{
		dec:        dec,
		sampleRate: format.SampleRate,
		channels:   format.NumChannels,
		shift:      bitDepth - 16,
		intBuf: &goaudio.IntBuffer{
			Data:           make([]int, n),
			Format:         format,
			SourceBitDepth: bitDepth,
		},
		out: make([]byte, n*BytesPerSample),
	}
	s.chunkReader = chunkReader{frameSize: s.channels * BytesPerSample, next: s.decode}
	return s, nil
}

func (s *intSource) SampleRate() int { return s.sampleRate }
func (s *intSource) Channels() int   { return s.channels }
func (s *intSource) Close() error    { return nil }

func (s *intSource) decode() ([]byte, error) {
	s.intBuf.Data = s.intBuf.Data[:cap(s.intBuf.Data)]
	n, err := s.dec.PCMBuffer(s.intBuf)
	n -= n % s.channels
	for i := 0; i < n; i++ {
		putS16(s.out[2*i:], s.intBuf.Data[i]>>s.shift)
	}
	if n == 0 && err == nil {
		err = io.EOF
	}
	return s.out[:2*n], err
}

// readSeeker returns r as an io.ReadSeeker, buffering it in memory when it
// cannot seek. go-audio decoders need to seek.
func readSeeker(r io.Reader) (io.ReadSeeker, error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		return rs, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

// DecodeWAV decodes a PCM WAV file of 16, 24 or 32 bits.
func DecodeWAV(r io.Reader) (Source, error) {
	rs, err := readSeeker(r)
	if err != nil {
		return nil, fmt.Errorf("reading wav data: %w", err)
	}

	dec := wav.NewDecoder(rs)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not a wav file", ErrInvalidFile)
	}
	dec.ReadInfo()
	return newIntSource(dec, int(dec.BitDepth))
}

// DecodeAIFF decodes a PCM AIFF file of 16, 24 or 32 bits.
func DecodeAIFF(r io.Reader) (Source, error) {
	rs, err := readSeeker(r)
	if err != nil {
		return nil, fmt.Errorf("reading aiff data: %w", err)
	}

	dec := aiff.NewDecoder(rs)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not an aiff file", ErrInvalidFile)
	}
	dec.ReadInfo()
	return newIntSource(dec, int(dec.BitDepth))
}
