// Package fastsink provides an in-process, real-time audio sink.
//
// A host application feeds PCM bytes into an Engine; the engine drains them
// on a fixed clock, like a stream attached to a real audio server, and asks
// the host to refill the buffer before it runs dry. The bytes go nowhere:
// fastsink is the terminal point of the audio path.
//
// # Quick Start
//
//	host, _ := fastsink.NewHost(fastsink.DefaultWorkers)
//	defer host.Close()
//
//	eng, _ := fastsink.NewEngine(host, fastsink.Settings{
//	    SampleSize: 2, Channels: 2, SampleRate: 44100, BufferMs: 250,
//	})
//	defer eng.Destroy()
//
//	eng.SetRefillCallback(func(ctx context.Context, e *fastsink.Engine, n int) {
//	    e.Write(nextPCM(n))
//	})
//	eng.Play(ctx)
//
// # Components
//
//   - Host: shared runtime; runs tick loops and bounded refill callbacks
//   - RingBuffer: fixed-capacity byte FIFO between callback and tick loop
//   - StateFlag: synchronous pause/resume of the tick loop from a controller
//   - CallbackSerializer: at most one refill callback in flight
//   - Engine: the tick loop composing all of the above
//
// # Tick Loop
//
// Every tick (10ms by default) a Running engine drains read_size bytes, where
//
//	read_size = (sample_rate / (1000 / tick_ms)) * frame_size
//
// A short read is an underflow: it is counted and logged and the clock keeps
// going. When the free space reaches the refill threshold (5 read-sized blocks
// by default) the engine requests the largest whole number of blocks that fits.
// If the previous refill is still running the request is skipped for this
// tick.
//
// Pausing stops the clock; resuming restarts it one full interval later.
// Missed ticks are never caught up.
//
// # Refill Callback Constraints
//
// The refill callback runs on a host worker, never on the tick loop. It may
// call Write as often as it likes. It should return promptly: there is no
// timeout, and a callback that never returns starves every later refill.
//
// A host that shares state with its callback can hold Engine.Lock instead of
// its own mutex: callbacks never run while the lock is held.
package fastsink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State of an Engine.
type State int

const (
	StatePaused State = iota
	StateRunning
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StatePaused:
		return "paused"
	case StateRunning:
		return "running"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// RefillFunc asks the host for up to n more bytes. Implementations push data
// with e.Write. ctx is cancelled when the engine is destroyed.
type RefillFunc func(ctx context.Context, e *Engine, n int)

// TickReport describes one processed tick.
type TickReport struct {
	Seq       uint64
	Read      int
	Underflow bool
	// Requested is the refill size asked for on this tick, 0 if none. No
	// request is made while no refill callback is registered.
	Requested int
	// Refill is the serializer outcome; meaningful only when Requested > 0.
	Refill Outcome
}

// Engine is a real-time audio sink: a tick loop draining a RingBuffer that a
// host refill callback keeps topped up.
//
// Thread-safety model:
//   - Play, Pause, SetPlaying: controller goroutines, one at a time
//   - Write: any goroutine, typically the refill callback
//   - Destroy: any goroutine, idempotent
//   - the tick loop is the only reader of the ring buffer
type Engine struct {
	id       string
	settings Settings
	host     *Host
	log      *slog.Logger

	ring       *RingBuffer
	paused     *StateFlag[bool]
	serializer *CallbackSerializer
	refill     atomic.Pointer[RefillFunc]

	interval       time.Duration
	readSize       int
	writeThreshold int
	newTicker      func(time.Duration) ticker
	onTick         func(TickReport)

	tick  *Task
	ctlMu sync.Mutex // serializes Play/Pause so only one Set is outstanding

	lifeMu    sync.RWMutex
	destroyed bool

	// Written only by the tick loop.
	scratch      []byte
	underflowing bool

	ticks            atomic.Uint64
	underflows       atomic.Uint64
	bytesRead        atomic.Uint64
	bytesWritten     atomic.Uint64
	overflows        atomic.Uint64
	refillsScheduled atomic.Uint64
	refillsSkipped   atomic.Uint64
	stateChanges     atomic.Uint64
	discarded        atomic.Uint64
}

// NewEngine creates an engine on host and starts its tick loop in the Paused
// state. The engine holds a reference on host until Destroy.
func NewEngine(host *Host, settings Settings, opts ...Option) (*Engine, error) {
	if host == nil {
		return nil, fmt.Errorf("%w: nil host", ErrRuntimeInit)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(settings); err != nil {
		return nil, err
	}

	if err := host.retain(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	log := cfg.logger
	if log == nil {
		log = host.log
	}
	log = log.With("engine_id", id)

	capacity := settings.Capacity()
	readSize := settings.ReadSize(cfg.tickInterval)
	blocks := capacity / readSize
	if cfg.refillBlocks < blocks {
		blocks = cfg.refillBlocks
	}
	threshold := blocks * readSize

	ring := NewRingBuffer(capacity)
	if cfg.lockFree {
		ring = NewLockFreeRingBuffer(capacity)
	}

	e := &Engine{
		id:             id,
		settings:       settings,
		host:           host,
		log:            log,
		ring:           ring,
		paused:         NewStateFlag(true),
		serializer:     NewCallbackSerializer(host, log),
		interval:       cfg.tickInterval,
		readSize:       readSize,
		writeThreshold: threshold,
		newTicker:      cfg.newTicker,
		onTick:         cfg.onTick,
		scratch:        make([]byte, readSize),
	}

	task, err := host.Go(e.run)
	if err != nil {
		host.release()
		return nil, err
	}
	e.tick = task

	log.Info("engine created",
		"capacity", capacity,
		"read_size", readSize,
		"write_threshold", threshold,
		"tick_interval", cfg.tickInterval,
		"lock_free", cfg.lockFree)
	return e, nil
}

// ID returns the engine's unique identifier.
func (e *Engine) ID() string {
	return e.id
}

// Settings returns the stream settings the engine was created with.
func (e *Engine) Settings() Settings {
	return e.settings
}

// ReadSize returns the number of bytes drained per tick.
func (e *Engine) ReadSize() int {
	return e.readSize
}

// WriteThreshold returns the free space that triggers a refill request.
func (e *Engine) WriteThreshold() int {
	return e.writeThreshold
}

// Buffered returns the number of bytes waiting to be drained.
func (e *Engine) Buffered() int {
	return e.ring.Len()
}

// WriteCapacity returns the number of bytes Write can currently accept.
func (e *Engine) WriteCapacity() int {
	return e.ring.WriteCapacity()
}

// State returns the current engine state.
func (e *Engine) State() State {
	if e.isDestroyed() {
		return StateDestroyed
	}
	if e.paused.Get() {
		return StatePaused
	}
	return StateRunning
}

func (e *Engine) isDestroyed() bool {
	e.lifeMu.RLock()
	defer e.lifeMu.RUnlock()
	return e.destroyed
}

// SetRefillCallback registers fn as the refill callback. A nil fn disables
// refill requests.
func (e *Engine) SetRefillCallback(fn RefillFunc) {
	if fn == nil {
		e.refill.Store(nil)
		return
	}
	e.refill.Store(&fn)
}

// Play starts draining. It blocks until the tick loop acknowledged the
// change; if the engine is already running it returns immediately.
func (e *Engine) Play(ctx context.Context) error {
	return e.setPaused(ctx, false)
}

// Pause stops draining. It blocks until the tick loop acknowledged the
// change; if the engine is already paused it returns immediately.
func (e *Engine) Pause(ctx context.Context) error {
	return e.setPaused(ctx, true)
}

// SetPlaying is Play when play is true and Pause otherwise.
func (e *Engine) SetPlaying(ctx context.Context, play bool) error {
	return e.setPaused(ctx, !play)
}

func (e *Engine) setPaused(ctx context.Context, paused bool) error {
	if e.isDestroyed() {
		return ErrDestroyed
	}

	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()

	// Debounce
	if e.paused.Get() == paused {
		return nil
	}
	if err := e.paused.Set(ctx, paused); err != nil {
		if errors.Is(err, ErrFlagClosed) {
			return ErrDestroyed
		}
		return err
	}
	return nil
}

// Lock gives the caller exclusion from the refill callback: it waits for a
// running callback to return, and no callback starts until Unlock. Ticks keep
// draining meanwhile and count skipped refills. Callbacks run as if they held
// this lock, so they must not call Lock themselves.
func (e *Engine) Lock(ctx context.Context) error {
	if e.isDestroyed() {
		return ErrDestroyed
	}
	if err := e.serializer.Lock(ctx); err != nil {
		if errors.Is(err, ErrCancelled) {
			return ErrDestroyed
		}
		return err
	}
	return nil
}

// Unlock releases the lock taken with Lock.
func (e *Engine) Unlock() {
	e.serializer.Unlock()
}

// Write pushes p into the ring buffer. Either all of p is queued or none of
// it and ErrOverflow is returned. Fails with ErrDestroyed after Destroy.
func (e *Engine) Write(p []byte) (int, error) {
	e.lifeMu.RLock()
	defer e.lifeMu.RUnlock()

	if e.destroyed {
		return 0, ErrDestroyed
	}

	n, err := e.ring.Write(p)
	if err != nil {
		if errors.Is(err, ErrOverflow) {
			e.overflows.Add(1)
		}
		return n, err
	}
	e.bytesWritten.Add(uint64(n))
	return n, nil
}

// Destroy stops the tick loop, cancels any in-flight refill callback and
// discards buffered audio. Nothing is drained or flushed. It is idempotent and
// valid from any state; pending Play/Pause calls return ErrDestroyed.
//
// Destroy must not be called from the tick loop itself.
func (e *Engine) Destroy() {
	e.lifeMu.Lock()
	if e.destroyed {
		e.lifeMu.Unlock()
		return
	}
	e.destroyed = true
	e.lifeMu.Unlock()

	e.paused.Close()
	e.serializer.Cancel()
	e.tick.Cancel()
	<-e.tick.Done()

	discarded := e.ring.Len()
	e.ring.Reset()
	e.discarded.Store(uint64(discarded))
	e.host.release()

	e.log.Info("engine destroyed",
		"ticks", e.ticks.Load(),
		"underflows", e.underflows.Load(),
		"discarded_bytes", discarded)
}

// run is the tick loop. Its single select is the scheduling point that also
// services the pause flag, which keeps pending Play/Pause calls from stalling.
func (e *Engine) run(ctx context.Context) {
	t := e.newTicker(e.interval)
	defer t.Stop()

	running := !e.paused.Get()
	transition := func(_, paused bool) {
		switch {
		case paused && running:
			running = false
			t.Stop()
			e.stateChanges.Add(1)
			e.log.Info("engine paused")
		case !paused && !running:
			running = true
			t.Reset(e.interval)
			e.stateChanges.Add(1)
			e.log.Info("engine running")
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-e.paused.Changed():
			// The clock is stopped or restarted before the controller is
			// released.
			e.paused.ApplyWith(transition)

		case <-t.C():
			if !running {
				continue
			}
			e.processTick()
		}
	}
}

func (e *Engine) processTick() {
	seq := e.ticks.Add(1)
	report := TickReport{Seq: seq}

	n, err := e.ring.Read(e.scratch)
	report.Read = n
	e.bytesRead.Add(uint64(n))

	switch {
	case errors.Is(err, ErrUnderflow):
		report.Underflow = true
		e.underflows.Add(1)
		if !e.underflowing {
			e.underflowing = true
			e.log.Warn("buffer underflow", "tick", seq, "read", n, "want", e.readSize)
		} else {
			e.log.Debug("buffer underflow", "tick", seq, "read", n, "want", e.readSize)
		}
	case err != nil:
		e.log.Error("buffer read failed", "tick", seq, "error", err)
	case e.underflowing:
		e.underflowing = false
		e.log.Info("buffer recovered", "tick", seq)
	}

	// Without a callback there is nothing to request.
	if fn := e.refill.Load(); fn != nil {
		if free := e.ring.WriteCapacity(); free >= e.writeThreshold {
			report.Requested, report.Refill = e.requestRefill(*fn, free)
		}
	}

	if e.onTick != nil {
		e.onTick(report)
	}
}

// requestRefill asks the serializer to run the refill callback for the
// largest whole number of read-sized blocks that fit in free. It never waits
// for the callback.
func (e *Engine) requestRefill(fn RefillFunc, free int) (int, Outcome) {
	n := free / e.readSize * e.readSize
	out := e.serializer.TryInvoke(func(ctx context.Context) {
		fn(ctx, e, n)
	})

	switch out {
	case Scheduled:
		e.refillsScheduled.Add(1)
	case Busy:
		e.refillsSkipped.Add(1)
		e.log.Debug("refill skipped, callback running or engine locked", "requested", n)
	}
	return n, out
}
