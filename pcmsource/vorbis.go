package pcmsource

import (
	"fmt"
	"io"

	"github.com/jfreymuth/oggvorbis"
)

// oggReader is an interface for oggvorbis.Reader to allow testing
type oggReader interface {
	SampleRate() int
	Channels() int
	Read([]float32) (int, error)
}

type vorbisSource struct {
	chunkReader
	dec      oggReader
	channels int
	floats   []float32
	out      []byte
}

func newVorbisSource(dec oggReader) (*vorbisSource, error) {
	ch := dec.Channels()
	if ch <= 0 || dec.SampleRate() <= 0 {
		return nil, fmt.Errorf("%w: bad vorbis header", ErrInvalidFile)
	}
	n := 1024 * ch
	s := &vorbisSource{
		dec:      dec,
		channels: ch,
		floats:   make([]float32, n),
		out:      make([]byte, n*BytesPerSample),
	}
	s.chunkReader = chunkReader{frameSize: ch * BytesPerSample, next: s.decode}
	return s, nil
}

func (s *vorbisSource) SampleRate() int { return s.dec.SampleRate() }
func (s *vorbisSource) Channels() int   { return s.channels }
func (s *vorbisSource) Close() error    { return nil }

// decode reads interleaved float samples; Read returns the number of values,
// not frames.
func (s *vorbisSource) decode() ([]byte, error) {
	n, err := s.dec.Read(s.floats)
	n -= n % s.channels
	for i := 0; i < n; i++ {
		putS16(s.out[2*i:], floatToS16(s.floats[i]))
	}
	return s.out[:2*n], err
}

// DecodeVorbis decodes an Ogg Vorbis stream.
func DecodeVorbis(r io.Reader) (Source, error) {
	dec, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	return newVorbisSource(dec)
}
