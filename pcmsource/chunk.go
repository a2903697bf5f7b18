package pcmsource

import (
	"encoding/binary"
	"io"
)

// maxEmptyChunks bounds how often a decoder may return no data and no error
// in a row before Read gives up with io.ErrNoProgress.
const maxEmptyChunks = 100

// chunkReader turns a decoder that produces variable-size blocks of s16le
// bytes into an io.Reader that only ever returns whole frames.
type chunkReader struct {
	frameSize int
	// next returns the following block of whole frames. The returned slice
	// may be reused by the next call.
	next    func() ([]byte, error)
	pending []byte
	err     error
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	want := len(p) / c.frameSize * c.frameSize
	if want == 0 {
		return 0, io.ErrShortBuffer
	}

	n, empty := 0, 0
	for n < want {
		if len(c.pending) == 0 {
			if c.err != nil {
				break
			}
			c.pending, c.err = c.next()
			if len(c.pending) == 0 && c.err == nil {
				empty++
				if empty > maxEmptyChunks {
					c.err = io.ErrNoProgress
				}
			}
			continue
		}
		m := copy(p[n:want], c.pending)
		c.pending = c.pending[m:]
		n += m
	}

	if n == 0 && c.err != nil {
		return 0, c.err
	}
	return n, nil
}

// putS16 stores v as a little-endian int16, clamping out-of-range values.
func putS16(b []byte, v int) {
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	binary.LittleEndian.PutUint16(b, uint16(int16(v)))
}

// floatToS16 scales a [-1, 1] sample to int16, clamping.
func floatToS16(x float32) int {
	if x > 1 {
		x = 1
	} else if x < -1 {
		x = -1
	}
	return int(x * 32767)
}
