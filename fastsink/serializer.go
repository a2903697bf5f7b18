package fastsink

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Outcome is the result of CallbackSerializer.TryInvoke.
type Outcome int

const (
	// Scheduled means the callback was handed to a host worker.
	Scheduled Outcome = iota
	// Busy means a previous callback is still running; nothing was scheduled.
	// This is the normal backpressure signal, not an error.
	Busy
	// Cancelled means the serializer was torn down; nothing was scheduled.
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Scheduled:
		return "scheduled"
	case Busy:
		return "busy"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Err returns nil for Scheduled and ErrBusy or ErrCancelled otherwise.
func (o Outcome) Err() error {
	switch o {
	case Scheduled:
		return nil
	case Busy:
		return ErrBusy
	default:
		return ErrCancelled
	}
}

// CallbackSerializer runs callbacks on a Host one at a time.
//
// The critical section opens when a caller decides to invoke and closes only
// when the callback, running on another goroutine, returns. It is modelled as
// a permit: TryInvoke acquires it and moves it into the spawned task, which
// releases it on return, panic or cancellation. The caller never holds it.
//
// The host can take the same permit itself with Lock. Callbacks therefore
// always run exclusive of a host holding the lock, and ticks report Busy
// until Unlock.
//
// There is no per-callback timeout: a callback that never returns keeps the
// serializer Busy for good.
type CallbackSerializer struct {
	host *Host
	sem  *semaphore.Weighted
	log  *slog.Logger

	mu     sync.Mutex
	task   *Task
	closed bool

	busy   atomic.Bool
	held   atomic.Bool
	panics atomic.Uint64
}

// NewCallbackSerializer creates a serializer that schedules on host.
func NewCallbackSerializer(host *Host, log *slog.Logger) *CallbackSerializer {
	if log == nil {
		log = slog.Default()
	}
	return &CallbackSerializer{
		host: host,
		sem:  semaphore.NewWeighted(1),
		log:  log,
	}
}

// permit is the held exclusion. It is released exactly once.
type permit struct {
	s    *CallbackSerializer
	once sync.Once
}

func (p *permit) release() {
	p.once.Do(func() {
		p.s.busy.Store(false)
		p.s.sem.Release(1)
	})
}

func (s *CallbackSerializer) tryAcquire() (*permit, bool) {
	if !s.sem.TryAcquire(1) {
		return nil, false
	}
	s.busy.Store(true)
	return &permit{s: s}, true
}

// TryInvoke schedules fn on a host worker if no callback is in flight.
// It never blocks. fn receives a context that is cancelled by Cancel.
func (s *CallbackSerializer) TryInvoke(fn func(ctx context.Context)) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Cancelled
	}
	p, ok := s.tryAcquire()
	if !ok {
		return Busy
	}

	task, err := s.host.Submit(func(ctx context.Context) {
		defer p.release()
		defer func() {
			if r := recover(); r != nil {
				s.panics.Add(1)
				s.log.Error("panic in refill callback", "panic", r)
			}
		}()
		if ctx.Err() != nil {
			return
		}
		fn(ctx)
	})
	if err != nil {
		p.release()
		s.log.Warn("refill not scheduled", "error", err)
		return Cancelled
	}

	s.task = task
	return Scheduled
}

// Lock takes the permit for the caller, waiting for an in-flight callback to
// return. While it is held every TryInvoke returns Busy. It fails with
// ErrCancelled after Cancel and with ctx.Err() if ctx ends first.
//
// Lock must not be called from a refill callback: the callback already holds
// the permit and would wait for itself.
func (s *CallbackSerializer) Lock(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrCancelled
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	s.held.Store(true)
	return nil
}

// Unlock releases a permit taken with Lock. Unlocking a serializer that is
// not locked is logged and ignored.
func (s *CallbackSerializer) Unlock() {
	if !s.held.CompareAndSwap(true, false) {
		s.log.Error("unlock of serializer that is not locked")
		return
	}
	s.sem.Release(1)
}

// Locked reports whether the host holds the permit through Lock.
func (s *CallbackSerializer) Locked() bool {
	return s.held.Load()
}

// InFlight reports whether a callback currently holds the permit.
func (s *CallbackSerializer) InFlight() bool {
	return s.busy.Load()
}

// Panics returns how many callbacks panicked.
func (s *CallbackSerializer) Panics() uint64 {
	return s.panics.Load()
}

// Cancel is used at teardown: it cancels the in-flight callback's context and
// makes every later TryInvoke return Cancelled. No completion is reported.
// The permit is released by the callback's goroutine whenever it returns.
func (s *CallbackSerializer) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.task != nil {
		s.task.Cancel()
		s.task = nil
	}
}
