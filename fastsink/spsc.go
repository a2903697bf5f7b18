package fastsink

import "sync/atomic"

// spscQueue is a lock-free single-producer, single-consumer byte ring.
//
// It uses two monotonically increasing atomic counters (writePos, readPos).
// Unlike a power-of-two ring, the capacity is exact: callers size the buffer
// from the stream settings and the capacity law must hold, so positions are
// mapped onto the slice with a modulo instead of a mask.
//
// Memory ordering: the producer stores writePos after copying data; the
// consumer loads writePos before copying out. Go's sync/atomic is
// sequentially consistent, so the consumer sees every byte published before
// the position update.
//
// Thread assignment:
//   - push: producer only
//   - pop: consumer only
type spscQueue struct {
	// Separate cache lines to prevent false sharing between producer and consumer.
	writePos atomic.Uint64
	_pad1    [56]byte
	readPos  atomic.Uint64
	_pad2    [56]byte

	buf []byte
}

func newSPSCQueue(size int) *spscQueue {
	return &spscQueue{buf: make([]byte, size)}
}

func (q *spscQueue) push(p []byte) (int, error) {
	w := q.writePos.Load()
	r := q.readPos.Load()
	size := uint64(len(q.buf))

	free := size - (w - r)
	n := uint64(len(p))
	if n > free {
		n = free
	}
	if n == 0 {
		return 0, nil
	}

	pos := w % size
	// Copy in one or two segments depending on wrap-around
	first := size - pos
	if first >= n {
		copy(q.buf[pos:pos+n], p[:n])
	} else {
		copy(q.buf[pos:], p[:first])
		copy(q.buf[:n-first], p[first:n])
	}

	q.writePos.Store(w + n)
	return int(n), nil
}

func (q *spscQueue) pop(p []byte) (int, error) {
	r := q.readPos.Load()
	w := q.writePos.Load()
	size := uint64(len(q.buf))

	available := w - r
	n := uint64(len(p))
	if n > available {
		n = available
	}
	if n == 0 {
		return 0, nil
	}

	pos := r % size
	first := size - pos
	if first >= n {
		copy(p[:n], q.buf[pos:pos+n])
	} else {
		copy(p[:first], q.buf[pos:])
		copy(p[first:n], q.buf[:n-first])
	}

	q.readPos.Store(r + n)
	return int(n), nil
}

func (q *spscQueue) length() int {
	// Load readPos first: it can only trail the writePos loaded after it.
	r := q.readPos.Load()
	return int(q.writePos.Load() - r)
}

func (q *spscQueue) capacity() int {
	return len(q.buf)
}

func (q *spscQueue) reset() {
	q.readPos.Store(q.writePos.Load())
}
