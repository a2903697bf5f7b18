// Package handle implements a generation-checked handle table.
//
// A Handle packs a slot index and the slot's generation into one uint64 so it
// can cross the C boundary as a plain integer. Removing a value bumps the
// slot's generation, so a stale or doubly-freed handle is detected and
// rejected instead of resolving to whatever now occupies the slot.
package handle

import "sync"

// Handle identifies a value stored in a Table. The zero Handle is never
// issued.
type Handle uint64

// Null is the invalid handle.
const Null Handle = 0

func pack(index, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(index))
}

func (h Handle) index() uint32 { return uint32(h) }

func (h Handle) gen() uint32 { return uint32(h >> 32) }

type slot[T any] struct {
	gen   uint32
	used  bool
	value T
}

// Table maps handles to values. Safe for concurrent use.
type Table[T any] struct {
	mu    sync.RWMutex
	slots []slot[T] // slots[0] is reserved so no handle is Null
	free  []uint32
	count int
}

// New creates an empty table.
func New[T any]() *Table[T] {
	return &Table[T]{slots: make([]slot[T], 1)}
}

// Insert stores v and returns its handle.
func (t *Table[T]) Insert(v T) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, slot[T]{gen: 1})
	}

	s := &t.slots[idx]
	s.used = true
	s.value = v
	t.count++
	return pack(idx, s.gen)
}

// lookup returns the live slot for h. Caller holds t.mu.
func (t *Table[T]) lookup(h Handle) (*slot[T], bool) {
	idx := h.index()
	if idx == 0 || int(idx) >= len(t.slots) {
		return nil, false
	}
	s := &t.slots[idx]
	if !s.used || s.gen != h.gen() {
		return nil, false
	}
	return s, true
}

// Get resolves h. It reports false for Null, removed and never-issued handles.
func (t *Table[T]) Get(h Handle) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.lookup(h)
	if !ok {
		var zero T
		return zero, false
	}
	return s.value, true
}

// Remove deletes h and returns the value it referred to. A second Remove of
// the same handle reports false.
func (t *Table[T]) Remove(h Handle) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	s, ok := t.lookup(h)
	if !ok {
		return zero, false
	}
	v := s.value
	s.value = zero
	s.used = false
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	t.free = append(t.free, h.index())
	t.count--
	return v, true
}

// Len returns the number of live handles.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

// Range calls fn for each live handle until fn returns false. The table is
// read-locked for the duration; fn must not modify it.
func (t *Table[T]) Range(fn func(Handle, T) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i := 1; i < len(t.slots); i++ {
		s := &t.slots[i]
		if !s.used {
			continue
		}
		if !fn(pack(uint32(i), s.gen), s.value) {
			return
		}
	}
}
