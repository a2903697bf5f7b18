package fastsink

import (
	"context"
	"sync"
	"sync/atomic"
)

// StateFlag is a one-way controller → consumer state signal with
// acknowledgment.
//
// The controller calls Set, which publishes a desired value and waits until
// the consumer has applied it. The consumer picks the value up with GetNew,
// or with Changed + Apply when it already multiplexes other events in a
// select. Get reads the applied value from any goroutine without locking.
//
// It is built from two single-slot notifications: wake ("a desired value is
// pending") and applied ("the consumer took it").
//
// DEADLOCK HAZARD: the consumer must watch Changed (or call GetNew) on every
// iteration of its scheduling loop. A consumer that stops polling leaves any
// pending Set blocked until its context ends or the flag is closed.
//
// At most one Set may be outstanding at a time. This is the caller's
// responsibility and is not checked.
type StateFlag[T comparable] struct {
	actual atomic.Pointer[T]

	mu      sync.Mutex
	desired *T

	wake    chan struct{}
	applied chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// NewStateFlag creates a flag whose applied value starts at initial.
func NewStateFlag[T comparable](initial T) *StateFlag[T] {
	f := &StateFlag[T]{
		wake:    make(chan struct{}, 1),
		applied: make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
	f.actual.Store(&initial)
	return f
}

// Get returns the applied value. Safe from any goroutine, no side effects.
func (f *StateFlag[T]) Get() T {
	return *f.actual.Load()
}

// Set publishes v as the desired value and blocks until the consumer applied
// it. Returns ErrFlagClosed if the flag is closed first, or ctx.Err() if the
// caller gives up before the value was applied; in that case the value is
// withdrawn and never applied.
func (f *StateFlag[T]) Set(ctx context.Context, v T) error {
	select {
	case <-f.closed:
		return ErrFlagClosed
	default:
	}

	f.mu.Lock()
	f.desired = &v
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}

	select {
	case <-f.applied:
		return nil
	case <-f.closed:
		if f.withdraw() {
			return ErrFlagClosed
		}
		<-f.applied
		return nil
	case <-ctx.Done():
		if f.withdraw() {
			return ctx.Err()
		}
		// Applied while we were giving up; consume the acknowledgment so it
		// cannot satisfy the next Set.
		<-f.applied
		return nil
	}
}

// withdraw clears a pending desired value. It reports false when the consumer
// already applied it.
func (f *StateFlag[T]) withdraw() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.desired == nil {
		return false
	}
	f.desired = nil
	return true
}

// Changed returns the channel that receives when a desired value is pending.
// After receiving, the consumer must call Apply.
func (f *StateFlag[T]) Changed() <-chan struct{} {
	return f.wake
}

// Apply applies a pending desired value, acknowledges the controller and
// returns the new value. It returns false when nothing was pending (the
// controller withdrew it).
func (f *StateFlag[T]) Apply() (T, bool) {
	return f.ApplyWith(nil)
}

// ApplyWith is Apply with a transition hook: fn is called with the previous
// and the new value before the controller is acknowledged, so Set returns
// only once the consumer has fully acted on the change. fn must not call
// back into the flag.
func (f *StateFlag[T]) ApplyWith(fn func(prev, next T)) (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.desired == nil {
		return f.Get(), false
	}
	v := *f.desired
	prev := f.Get()
	if fn != nil {
		fn(prev, v)
	}
	f.actual.Store(&v)
	f.desired = nil

	select {
	case f.applied <- struct{}{}:
	default:
	}
	return v, true
}

// GetNew blocks until a desired value is pending, applies it and returns it.
func (f *StateFlag[T]) GetNew(ctx context.Context) (T, error) {
	for {
		select {
		case <-f.wake:
			if v, ok := f.Apply(); ok {
				return v, nil
			}
		case <-f.closed:
			var zero T
			return zero, ErrFlagClosed
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Close releases any pending and future Set callers with ErrFlagClosed.
// Idempotent.
func (f *StateFlag[T]) Close() {
	f.closeOnce.Do(func() {
		close(f.closed)
	})
}
