package pcmsource

import (
	"errors"
	"fmt"
	"io"

	gomp3 "github.com/hajimehoshi/go-mp3"
)

// mp3Reader is an interface for gomp3.Decoder to allow testing
type mp3Reader interface {
	Read([]byte) (int, error)
	SampleRate() int
}

// go-mp3 always produces 16-bit stereo.
const mp3Channels = 2

type mp3Source struct {
	chunkReader
	dec mp3Reader
	buf []byte
}

func newMP3Source(dec mp3Reader) *mp3Source {
	s := &mp3Source{dec: dec, buf: make([]byte, 4608)}
	s.chunkReader = chunkReader{frameSize: mp3Channels * BytesPerSample, next: s.decode}
	return s
}

func (s *mp3Source) SampleRate() int { return s.dec.SampleRate() }
func (s *mp3Source) Channels() int   { return mp3Channels }
func (s *mp3Source) Close() error    { return nil }

func (s *mp3Source) decode() ([]byte, error) {
	n, err := io.ReadFull(s.dec, s.buf)
	n -= n % s.frameSize
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return s.buf[:n], err
}

// DecodeMP3 decodes an MPEG-1/2 Layer III stream.
func DecodeMP3(r io.Reader) (Source, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	return newMP3Source(dec), nil
}
