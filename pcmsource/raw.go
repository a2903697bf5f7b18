package pcmsource

import (
	"errors"
	"fmt"
	"io"
)

type rawSource struct {
	chunkReader
	r          io.Reader
	sampleRate int
	channels   int
	buf        []byte
}

// Raw wraps a headerless s16le stream. A trailing partial frame is dropped.
// Closing the Source closes r if it is an io.Closer.
func Raw(r io.Reader, sampleRate, channels int) (Source, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: %d Hz, %d channels", ErrInvalidFile, sampleRate, channels)
	}
	frame := channels * BytesPerSample
	s := &rawSource{
		r:          r,
		sampleRate: sampleRate,
		channels:   channels,
		buf:        make([]byte, 1024*frame),
	}
	s.chunkReader = chunkReader{frameSize: frame, next: s.decode}
	return s, nil
}

func (s *rawSource) SampleRate() int { return s.sampleRate }
func (s *rawSource) Channels() int   { return s.channels }

func (s *rawSource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *rawSource) decode() ([]byte, error) {
	n, err := io.ReadFull(s.r, s.buf)
	n -= n % s.frameSize
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return s.buf[:n], err
}
