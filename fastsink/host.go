package fastsink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultWorkers is the worker count used by the C surface when the caller
// passes zero: one for the tick loop, one for callbacks, the rest headroom.
const DefaultWorkers = 4

// Host is the shared runtime every engine is built on.
//
// Long-lived loops (one tick loop per engine) are started with Go; short-lived
// work (refill callbacks) is started with Submit and runs only while one of
// the host's worker slots is free.
//
// Host uses reference counting: each engine retains the host for its whole
// life and releases it in Destroy. Close refuses to shut the host down while
// any engine still holds it, since an engine must never outlive its host.
//
// Thread Safety: all methods are safe for concurrent use.
type Host struct {
	workers int
	slots   *semaphore.Weighted
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	refs   int
	closed bool
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithHostLogger sets the logger used by the host. Defaults to slog.Default().
func WithHostLogger(l *slog.Logger) HostOption {
	return func(h *Host) {
		h.log = l
	}
}

// NewHost creates a host with the given number of worker slots.
// At least two are required (tick loop + callback); fewer fails with
// ErrRuntimeInit.
func NewHost(workers int, opts ...HostOption) (*Host, error) {
	if workers < 2 {
		return nil, fmt.Errorf("%w: need at least 2 workers, got %d", ErrRuntimeInit, workers)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		workers: workers,
		slots:   semaphore.NewWeighted(int64(workers)),
		log:     slog.Default(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(h)
	}

	h.log.Debug("host started", "workers", workers)
	return h, nil
}

// Workers returns the number of worker slots.
func (h *Host) Workers() int {
	return h.workers
}

// Refs returns the number of engines currently holding the host.
func (h *Host) Refs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refs
}

func (h *Host) retain() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHostClosed
	}
	h.refs++
	return nil
}

func (h *Host) release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refs > 0 {
		h.refs--
	}
}

// Close cancels every task started on the host. It fails with ErrHostInUse,
// leaving the host running, while engines still reference it.
//
// Close does not wait for tasks to return; use Wait for that. A refill
// callback that never returns keeps Wait blocked.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.refs > 0 {
		refs := h.refs
		h.mu.Unlock()
		h.log.Error("host close refused: engines still reference it", "refs", refs)
		return fmt.Errorf("%w: %d engine(s)", ErrHostInUse, refs)
	}
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	h.log.Debug("host closed")
	return nil
}

// Wait blocks until every task started on the host has returned.
func (h *Host) Wait() {
	h.wg.Wait()
}

// Task is a handle to work started on a Host.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel cancels the task's context. It does not wait for the task to return.
func (t *Task) Cancel() {
	t.cancel()
}

// Done is closed once the task has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Go starts a long-lived task. It does not occupy a worker slot.
func (h *Host) Go(fn func(ctx context.Context)) (*Task, error) {
	return h.start(fn, false)
}

// Submit starts a short-lived task once a worker slot is free. Submit itself
// never blocks; the wait for a slot happens on the task's own goroutine.
//
// fn is always called exactly once. If the task is cancelled before a slot
// frees up, fn runs with the already-cancelled context and without a slot, so
// anything fn owns (such as a serializer permit) is still released.
func (h *Host) Submit(fn func(ctx context.Context)) (*Task, error) {
	return h.start(fn, true)
}

func (h *Host) start(fn func(ctx context.Context), bounded bool) (*Task, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHostClosed
	}
	h.wg.Add(1)
	h.mu.Unlock()

	ctx, cancel := context.WithCancel(h.ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer h.wg.Done()
		defer close(t.done)
		defer cancel()

		if bounded {
			if err := h.slots.Acquire(ctx, 1); err == nil {
				defer h.slots.Release(1)
			}
		}

		defer func() {
			if r := recover(); r != nil {
				h.log.Error("panic in host task", "panic", r)
			}
		}()
		fn(ctx)
	}()

	return t, nil
}
