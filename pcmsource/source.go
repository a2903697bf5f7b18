// Package pcmsource decodes audio files into the raw PCM a fastsink engine
// consumes: interleaved signed 16-bit little-endian samples.
//
// Decoders are looked up by file extension in a Registry. The default
// registry knows WAV and AIFF (go-audio), MP3 (go-mp3) and Ogg Vorbis
// (oggvorbis). Raw PCM, silence and a sine tone need no file format.
package pcmsource

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/drgolem/fastsink/fastsink"
)

// BytesPerSample is the sample size of every Source: signed 16-bit.
const BytesPerSample = 2

var (
	// ErrUnknownFormat is returned by Open for extensions with no decoder.
	ErrUnknownFormat = errors.New("pcmsource: unknown format")
	// ErrInvalidFile is returned when a file is not of the format its
	// extension claims.
	ErrInvalidFile = errors.New("pcmsource: invalid file")
	// ErrUnsupportedBitDepth is returned for PCM bit depths that cannot be
	// converted to 16-bit.
	ErrUnsupportedBitDepth = errors.New("pcmsource: unsupported bit depth")
)

// Source is a stream of interleaved s16le PCM. Read returns io.EOF once the
// stream is exhausted. Reads always return whole frames.
type Source interface {
	io.Reader
	// SampleRate in Hz.
	SampleRate() int
	// Channels count (1=mono, 2=stereo).
	Channels() int
	// Close releases any resources.
	Close() error
}

// Settings returns engine settings matching src with a buffer of bufferMs.
func Settings(src Source, bufferMs int) fastsink.Settings {
	return fastsink.Settings{
		SampleSize: BytesPerSample,
		Channels:   src.Channels(),
		SampleRate: src.SampleRate(),
		BufferMs:   bufferMs,
	}
}

// Decoder constructs a Source from an input reader.
type Decoder interface {
	Decode(r io.Reader) (Source, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(r io.Reader) (Source, error)

// Decode calls f(r).
func (f DecoderFunc) Decode(r io.Reader) (Source, error) {
	return f(r)
}

// Registry for decoders by file extension (without the dot, lower case).
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Decoder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Decoder)}
}

// DefaultRegistry returns a registry with every built-in decoder.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("wav", DecoderFunc(DecodeWAV))
	r.Register("aiff", DecoderFunc(DecodeAIFF))
	r.Register("aif", DecoderFunc(DecodeAIFF))
	r.Register("mp3", DecoderFunc(DecodeMP3))
	r.Register("ogg", DecoderFunc(DecodeVorbis))
	return r
}

// Register adds d for ext, replacing any decoder already registered for it.
// ext is matched without a leading dot and regardless of case.
func (r *Registry) Register(ext string, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[strings.ToLower(strings.TrimPrefix(ext, "."))] = d
}

// Get returns the decoder registered for ext, such as "wav" or ".WAV".
func (r *Registry) Get(ext string) (Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.codecs[strings.ToLower(strings.TrimPrefix(ext, "."))]
	return d, ok
}

// Formats returns the registered extensions.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.codecs))
	for ext := range r.codecs {
		out = append(out, ext)
	}
	return out
}

// Open opens path and decodes it with the decoder registered for its
// extension. Closing the Source closes the file.
func (r *Registry) Open(path string) (Source, error) {
	ext := filepath.Ext(path)
	d, ok := r.Get(ext)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	src, err := d.Decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &fileSource{Source: src, f: f}, nil
}

// Open decodes path with the default registry.
func Open(path string) (Source, error) {
	return DefaultRegistry().Open(path)
}

type fileSource struct {
	Source
	f *os.File
}

func (s *fileSource) Close() error {
	err := s.f.Close()
	if errors.Is(err, os.ErrClosed) {
		err = nil
	}
	return errors.Join(s.Source.Close(), err)
}
