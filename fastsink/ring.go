package fastsink

import (
	"errors"
	"fmt"
	"sync"

	"github.com/smallnest/ringbuffer"
)

// byteQueue is the storage behind a RingBuffer. push is only called with
// len(p) <= capacity()-length(); pop never blocks.
type byteQueue interface {
	push(p []byte) (int, error)
	pop(p []byte) (int, error)
	length() int
	capacity() int
	reset()
}

// RingBuffer is a fixed-capacity FIFO of raw PCM bytes shared between one
// reader (the tick loop) and one writer at a time (the refill callback).
//
// Writes are all-or-nothing: either every byte fits and is appended, or
// ErrOverflow is returned and the buffer is left untouched. Reads never block:
// a short read consumes what is there and reports ErrUnderflow.
//
// Thread assignment:
//   - Write: any goroutine; concurrent writers are serialized internally
//   - Read: a single consumer goroutine
//   - Len, Cap, WriteCapacity: any goroutine
type RingBuffer struct {
	q       byteQueue
	writeMu sync.Mutex
}

// NewRingBuffer creates a ring buffer of exactly capacity bytes backed by a
// mutex-guarded ring.
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{q: &lockedQueue{rb: ringbuffer.New(capacity)}}
}

// NewLockFreeRingBuffer creates a ring buffer of exactly capacity bytes backed
// by a lock-free single-producer, single-consumer ring.
func NewLockFreeRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{q: newSPSCQueue(capacity)}
}

// Write appends p to the buffer. If p does not fit in the remaining capacity
// nothing is written and ErrOverflow is returned.
func (b *RingBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	// The reader only ever frees space, so a check made here stays valid
	// until our push lands.
	if free := b.q.capacity() - b.q.length(); len(p) > free {
		return 0, fmt.Errorf("%w: %d bytes requested, %d free", ErrOverflow, len(p), free)
	}
	return b.q.push(p)
}

// Read removes up to len(p) bytes from the front of the buffer into p and
// returns the number of bytes removed. When fewer than len(p) bytes were
// available the partial count is returned together with ErrUnderflow.
func (b *RingBuffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := b.q.pop(p)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, fmt.Errorf("%w: %d of %d bytes available", ErrUnderflow, n, len(p))
	}
	return n, nil
}

// WriteCapacity returns the number of bytes that can currently be written.
func (b *RingBuffer) WriteCapacity() int {
	return b.q.capacity() - b.q.length()
}

// Len returns the number of buffered bytes.
func (b *RingBuffer) Len() int {
	return b.q.length()
}

// Cap returns the fixed capacity in bytes.
func (b *RingBuffer) Cap() int {
	return b.q.capacity()
}

// Reset discards all buffered bytes. Only valid when neither a reader nor a
// writer is active, i.e. during engine teardown.
func (b *RingBuffer) Reset() {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.q.reset()
}

// lockedQueue adapts github.com/smallnest/ringbuffer in non-blocking mode.
type lockedQueue struct {
	rb *ringbuffer.RingBuffer
}

func (q *lockedQueue) push(p []byte) (int, error) {
	n, err := q.rb.Write(p)
	if err != nil {
		return n, fmt.Errorf("ring write: %w", err)
	}
	return n, nil
}

func (q *lockedQueue) pop(p []byte) (int, error) {
	n, err := q.rb.Read(p)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return n, fmt.Errorf("ring read: %w", err)
	}
	return n, nil
}

func (q *lockedQueue) length() int   { return q.rb.Length() }
func (q *lockedQueue) capacity() int { return q.rb.Capacity() }
func (q *lockedQueue) reset()        { q.rb.Reset() }
