package fastsink

import (
	"context"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cdQuality is 16-bit stereo at 44.1kHz with one second of buffer:
// capacity 176400 bytes, 1764 bytes per 10ms tick.
var cdQuality = Settings{SampleSize: 2, Channels: 2, SampleRate: 44100, BufferMs: 1000}

// manualTicker delivers ticks only when the test sends them.
type manualTicker struct {
	c      chan time.Time
	resets atomic.Int32
	stops  atomic.Int32
	last   atomic.Int64
}

func newManualTicker() *manualTicker {
	return &manualTicker{c: make(chan time.Time)}
}

func (m *manualTicker) C() <-chan time.Time { return m.c }

func (m *manualTicker) Stop() { m.stops.Add(1) }

func (m *manualTicker) Reset(d time.Duration) {
	m.last.Store(int64(d))
	m.resets.Add(1)
}

type engineHarness struct {
	t       *testing.T
	host    *Host
	eng     *Engine
	clock   *manualTicker
	reports chan TickReport
}

func newEngineHarness(t *testing.T, s Settings, opts ...Option) *engineHarness {
	t.Helper()

	h := &engineHarness{
		t:       t,
		host:    newTestHost(t, 4),
		clock:   newManualTicker(),
		reports: make(chan TickReport, 1024),
	}
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	opts = append(opts, func(c *engineConfig) {
		c.newTicker = func(time.Duration) ticker { return h.clock }
		c.onTick = func(r TickReport) { h.reports <- r }
	})

	eng, err := NewEngine(h.host, s, opts...)
	require.NoError(t, err)
	t.Cleanup(eng.Destroy)
	h.eng = eng
	return h
}

// tick fires the clock once and returns the report of the processed tick.
func (h *engineHarness) tick() TickReport {
	h.t.Helper()
	select {
	case h.clock.c <- time.Now():
	case <-time.After(2 * time.Second):
		h.t.Fatal("tick loop not receiving")
	}
	select {
	case r := <-h.reports:
		return r
	case <-time.After(2 * time.Second):
		h.t.Fatal("tick not processed")
	}
	return TickReport{}
}

// idleTick fires the clock on a paused engine; nothing is processed.
func (h *engineHarness) idleTick() {
	h.t.Helper()
	select {
	case h.clock.c <- time.Now():
	case <-time.After(2 * time.Second):
		h.t.Fatal("tick loop not receiving")
	}
}

func (h *engineHarness) play() {
	h.t.Helper()
	require.NoError(h.t, h.eng.Play(context.Background()))
}

func (h *engineHarness) pause() {
	h.t.Helper()
	require.NoError(h.t, h.eng.Pause(context.Background()))
}

func (h *engineHarness) fill(n int) {
	h.t.Helper()
	_, err := h.eng.Write(make([]byte, n))
	require.NoError(h.t, err)
}

func TestNewEngineDerivedSizes(t *testing.T) {
	h := newEngineHarness(t, cdQuality)

	assert.Equal(t, StatePaused, h.eng.State())
	assert.Equal(t, 176400, h.eng.Diagnostics().Capacity)
	assert.Equal(t, 1764, h.eng.ReadSize())
	assert.Equal(t, 5*1764, h.eng.WriteThreshold())
	assert.NotEmpty(t, h.eng.ID())
	assert.Equal(t, cdQuality, h.eng.Settings())
	assert.Equal(t, 1, h.host.Refs())
}

func TestNewEngineClampsThresholdToCapacity(t *testing.T) {
	s := cdQuality
	s.BufferMs = 25 // 4410 bytes, room for two whole ticks

	h := newEngineHarness(t, s)
	assert.Equal(t, 2*1764, h.eng.WriteThreshold())
}

func TestNewEngineErrors(t *testing.T) {
	host := newTestHost(t, 2)

	_, err := NewEngine(nil, cdQuality)
	require.ErrorIs(t, err, ErrRuntimeInit)

	bad := cdQuality
	bad.Channels = 0
	_, err = NewEngine(host, bad)
	require.ErrorIs(t, err, ErrInvalidSettings)

	tiny := cdQuality
	tiny.BufferMs = 5 // smaller than one 10ms tick
	_, err = NewEngine(host, tiny)
	require.ErrorIs(t, err, ErrInvalidSettings)

	huge := Settings{SampleSize: 1, Channels: 1 << 20, SampleRate: 1 << 20, BufferMs: 1 << 20}
	require.NotPanics(t, func() {
		_, err = NewEngine(host, huge)
	})
	require.ErrorIs(t, err, ErrInvalidSettings)

	eng, err := NewEngine(host, cdQuality, WithRefillBlocks(math.MaxInt))
	require.NoError(t, err)
	assert.Equal(t, 100*1764, eng.WriteThreshold(), "refill blocks are clamped to the buffer")
	eng.Destroy()

	_, err = NewEngine(host, cdQuality, WithTickInterval(1500*time.Microsecond))
	require.ErrorIs(t, err, ErrInvalidSettings)

	_, err = NewEngine(host, cdQuality, WithRefillBlocks(0))
	require.ErrorIs(t, err, ErrInvalidSettings)

	assert.Equal(t, 0, host.Refs(), "failed constructors must not hold the host")

	closed, err := NewHost(2, WithHostLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, closed.Close())
	_, err = NewEngine(closed, cdQuality)
	require.ErrorIs(t, err, ErrHostClosed)
}

func TestEnginePrefilledTicksDrainReadSize(t *testing.T) {
	for _, lockFree := range []bool{false, true} {
		t.Run(map[bool]string{false: "locked", true: "lockfree"}[lockFree], func(t *testing.T) {
			h := newEngineHarness(t, cdQuality, WithLockFree(lockFree))
			h.fill(10 * 1764)

			h.play()
			assert.Equal(t, StateRunning, h.eng.State())

			for i := 1; i <= 10; i++ {
				r := h.tick()
				assert.Equal(t, uint64(i), r.Seq)
				assert.Equal(t, 1764, r.Read)
				assert.False(t, r.Underflow)
				assert.Zero(t, r.Requested, "no callback registered")
			}

			d := h.eng.Diagnostics()
			assert.Equal(t, uint64(10), d.Ticks)
			assert.Equal(t, uint64(0), d.Underflows)
			assert.Equal(t, uint64(17640), d.BytesRead)
			assert.Equal(t, 0, d.Buffered)
			assert.True(t, d.Balanced())
		})
	}
}

func TestEngineEmptyBufferUnderflowsEveryTick(t *testing.T) {
	h := newEngineHarness(t, cdQuality)
	h.play()

	for i := 0; i < 10; i++ {
		r := h.tick()
		assert.True(t, r.Underflow)
		assert.Equal(t, 0, r.Read)
	}

	d := h.eng.Diagnostics()
	assert.Equal(t, uint64(10), d.Ticks, "the clock keeps going through underflow")
	assert.Equal(t, uint64(10), d.Underflows)
	assert.Equal(t, StateRunning, d.State)
}

func TestEnginePartialUnderflowDrainsWhatIsThere(t *testing.T) {
	h := newEngineHarness(t, cdQuality)
	h.fill(1000)
	h.play()

	r := h.tick()
	assert.True(t, r.Underflow)
	assert.Equal(t, 1000, r.Read)
	assert.Equal(t, 0, h.eng.Buffered())

	h.fill(1764)
	r = h.tick()
	assert.False(t, r.Underflow, "recovered")
}

func TestEngineRefillSkippedWhileBusy(t *testing.T) {
	h := newEngineHarness(t, cdQuality)

	// After one tick exactly one refill block (5 ticks) is free.
	h.fill(176400 - 5*1764 + 1764)

	release := make(chan struct{})
	var calls atomic.Int32
	var requested atomic.Int64
	h.eng.SetRefillCallback(func(ctx context.Context, e *Engine, n int) {
		calls.Add(1)
		requested.Store(int64(n))
		<-release
	})
	h.play()

	r := h.tick()
	assert.Equal(t, 5*1764, r.Requested)
	assert.Equal(t, Scheduled, r.Refill)

	r = h.tick()
	assert.Equal(t, 6*1764, r.Requested)
	assert.Equal(t, Busy, r.Refill, "previous refill still running")

	close(release)
	waitFor(t, func() bool { return !h.eng.serializer.InFlight() }, "refill did not finish")

	r = h.tick()
	assert.Equal(t, Scheduled, r.Refill, "next eligible tick tries again")
	assert.Equal(t, 7*1764, r.Requested)

	waitFor(t, func() bool { return calls.Load() == 2 }, "second refill did not run")
	assert.Equal(t, int64(7*1764), requested.Load())

	d := h.eng.Diagnostics()
	assert.Equal(t, uint64(2), d.RefillsScheduled)
	assert.Equal(t, uint64(1), d.RefillsSkipped)
}

func TestEngineNoRefillBelowThreshold(t *testing.T) {
	h := newEngineHarness(t, cdQuality)
	h.fill(176400)

	var calls atomic.Int32
	h.eng.SetRefillCallback(func(ctx context.Context, e *Engine, n int) { calls.Add(1) })
	h.play()

	for i := 0; i < 4; i++ {
		r := h.tick()
		assert.Zero(t, r.Requested, "tick %d: %d bytes free is below threshold", i, (i+1)*1764)
	}
	r := h.tick()
	assert.Equal(t, 5*1764, r.Requested)
	waitFor(t, func() bool { return calls.Load() == 1 }, "refill not invoked")
}

func TestEngineRefillRequestIsWholeBlocks(t *testing.T) {
	h := newEngineHarness(t, cdQuality)
	h.fill(176400 - 5*1764 - 100 + 1764)

	h.eng.SetRefillCallback(func(ctx context.Context, e *Engine, n int) {})
	h.play()

	r := h.tick()
	assert.Equal(t, 5*1764, r.Requested, "free space of 5 blocks + 100 bytes rounds down")
}

func TestEngineRefillCallbackWrites(t *testing.T) {
	h := newEngineHarness(t, cdQuality)

	wrote := make(chan int, 16)
	h.eng.SetRefillCallback(func(ctx context.Context, e *Engine, n int) {
		_, err := e.Write(make([]byte, n))
		assert.NoError(t, err)
		wrote <- n
	})
	h.play()

	r := h.tick()
	assert.True(t, r.Underflow)
	assert.Equal(t, 176400/1764*1764, r.Requested)
	assert.Equal(t, 176400, <-wrote)

	r = h.tick()
	assert.False(t, r.Underflow)
	assert.Equal(t, 1764, r.Read)
	assert.Zero(t, r.Requested)

	d := h.eng.Diagnostics()
	assert.Equal(t, uint64(176400), d.BytesWritten)
	assert.True(t, d.Balanced())
}

func TestEngineRefillPanicDoesNotStopClock(t *testing.T) {
	h := newEngineHarness(t, cdQuality)
	h.eng.SetRefillCallback(func(ctx context.Context, e *Engine, n int) {
		panic("host bug")
	})
	h.play()

	h.tick()
	waitFor(t, func() bool { return h.eng.Diagnostics().RefillPanics == 1 }, "panic not recorded")
	waitFor(t, func() bool { return !h.eng.serializer.InFlight() }, "permit leaked by panic")

	r := h.tick()
	assert.Equal(t, Scheduled, r.Refill)
	assert.Equal(t, StateRunning, h.eng.State())
}

func TestEngineSetRefillCallbackNilDisables(t *testing.T) {
	h := newEngineHarness(t, cdQuality)
	h.eng.SetRefillCallback(func(ctx context.Context, e *Engine, n int) {})
	h.eng.SetRefillCallback(nil)
	h.play()

	for i := 0; i < 3; i++ {
		r := h.tick()
		assert.Zero(t, r.Requested)
	}
	d := h.eng.Diagnostics()
	assert.Zero(t, d.RefillsScheduled)
	assert.Zero(t, d.RefillsSkipped, "an unregistered callback is not a busy one")
}

func TestEngineLockSkipsRefills(t *testing.T) {
	h := newEngineHarness(t, cdQuality)
	var calls atomic.Int32
	h.eng.SetRefillCallback(func(ctx context.Context, e *Engine, n int) {
		calls.Add(1)
	})
	h.play()

	require.NoError(t, h.eng.Lock(context.Background()))
	for i := 0; i < 3; i++ {
		r := h.tick()
		assert.Equal(t, Busy, r.Refill, "tick %d", i)
	}
	assert.Equal(t, uint64(3), h.eng.Diagnostics().RefillsSkipped)

	h.eng.Unlock()
	r := h.tick()
	assert.Equal(t, Scheduled, r.Refill)
	waitFor(t, func() bool { return calls.Load() == 1 }, "refill not run after unlock")
}

func TestEngineLockAfterDestroy(t *testing.T) {
	h := newEngineHarness(t, cdQuality)
	h.eng.Destroy()
	require.ErrorIs(t, h.eng.Lock(context.Background()), ErrDestroyed)
}

func TestEnginePauseProcessesNoTicks(t *testing.T) {
	h := newEngineHarness(t, cdQuality)
	h.fill(20 * 1764)

	h.play()
	h.tick()
	assert.Equal(t, int32(1), h.clock.resets.Load())
	assert.Equal(t, int64(DefaultTickInterval), h.clock.last.Load())

	h.pause()
	assert.Equal(t, StatePaused, h.eng.State())
	assert.Equal(t, int32(1), h.clock.stops.Load(), "pausing stops the clock")

	// Stray ticks while paused are dropped.
	h.idleTick()
	h.idleTick()

	h.play()
	assert.Equal(t, uint64(1), h.eng.Diagnostics().Ticks, "no ticks processed while paused")
	assert.Equal(t, int32(2), h.clock.resets.Load(), "resume restarts the clock one interval out")
	assert.Empty(t, h.reports, "no burst of owed ticks on resume")

	r := h.tick()
	assert.Equal(t, uint64(2), r.Seq)
	assert.Equal(t, 1764, r.Read)
}

func TestEngineDebounce(t *testing.T) {
	h := newEngineHarness(t, cdQuality)
	ctx := context.Background()

	require.NoError(t, h.eng.Pause(ctx))
	assert.Equal(t, uint64(0), h.eng.Diagnostics().StateChanges, "pause while paused")

	require.NoError(t, h.eng.Play(ctx))
	require.NoError(t, h.eng.Play(ctx))
	require.NoError(t, h.eng.SetPlaying(ctx, true))
	assert.Equal(t, uint64(1), h.eng.Diagnostics().StateChanges)
	assert.Equal(t, int32(1), h.clock.resets.Load())

	require.NoError(t, h.eng.Pause(ctx))
	require.NoError(t, h.eng.SetPlaying(ctx, false))
	assert.Equal(t, uint64(2), h.eng.Diagnostics().StateChanges)
	assert.Equal(t, int32(1), h.clock.stops.Load())
}

func TestEngineDebouncedPlayNeedsNoAcknowledgment(t *testing.T) {
	h := newEngineHarness(t, cdQuality)
	h.play()

	// An already-cancelled context would fail any call that had to wait for
	// the tick loop.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, h.eng.Play(ctx))
}

func TestEngineWriteOverflow(t *testing.T) {
	h := newEngineHarness(t, cdQuality)
	h.fill(176400 - 10)

	_, err := h.eng.Write(make([]byte, 11))
	require.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, 176400-10, h.eng.Buffered())
	assert.Equal(t, 10, h.eng.WriteCapacity())

	d := h.eng.Diagnostics()
	assert.Equal(t, uint64(1), d.Overflows)
	assert.Equal(t, uint64(176400-10), d.BytesWritten)
}

func TestEngineDestroyCancelsInFlightCallback(t *testing.T) {
	h := newEngineHarness(t, cdQuality)

	started := make(chan struct{})
	finished := make(chan error, 1)
	h.eng.SetRefillCallback(func(ctx context.Context, e *Engine, n int) {
		close(started)
		<-ctx.Done()
		_, err := e.Write(make([]byte, 1764))
		finished <- err
	})
	h.fill(100)
	h.play()
	h.tick()
	<-started

	h.eng.Destroy()

	select {
	case err := <-finished:
		require.ErrorIs(t, err, ErrDestroyed, "no buffer mutation after destroy")
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight callback was not cancelled")
	}

	assert.Equal(t, StateDestroyed, h.eng.State())
	assert.Equal(t, 0, h.eng.Buffered(), "buffered audio is discarded")
	assert.Equal(t, 0, h.host.Refs())

	d := h.eng.Diagnostics()
	assert.True(t, d.Balanced(), "%+v", d)
}

func TestEngineDestroyIsIdempotent(t *testing.T) {
	h := newEngineHarness(t, cdQuality)
	h.play()

	h.eng.Destroy()
	h.eng.Destroy()

	assert.Equal(t, 0, h.host.Refs())
	require.ErrorIs(t, h.eng.Play(context.Background()), ErrDestroyed)
	require.ErrorIs(t, h.eng.Pause(context.Background()), ErrDestroyed)
	_, err := h.eng.Write([]byte{1, 2})
	require.ErrorIs(t, err, ErrDestroyed)
}

func TestEngineDestroyFromPausedState(t *testing.T) {
	h := newEngineHarness(t, cdQuality)
	h.fill(1764)
	h.eng.Destroy()
	assert.Equal(t, StateDestroyed, h.eng.State())
	assert.Equal(t, uint64(1764), h.eng.Diagnostics().BytesDiscarded)
}

func TestEngineDestroyFromRefillCallback(t *testing.T) {
	h := newEngineHarness(t, cdQuality)

	done := make(chan struct{})
	h.eng.SetRefillCallback(func(ctx context.Context, e *Engine, n int) {
		e.Destroy()
		close(done)
	})
	h.play()
	h.tick()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Destroy from the refill callback did not return")
	}
	assert.Equal(t, StateDestroyed, h.eng.State())
}

func TestHostCloseRefusedWhileEngineAlive(t *testing.T) {
	h := newEngineHarness(t, cdQuality)

	require.ErrorIs(t, h.host.Close(), ErrHostInUse)
	h.eng.Destroy()
	require.NoError(t, h.host.Close())
}

func TestEngineRealClock(t *testing.T) {
	host := newTestHost(t, 4)
	eng, err := NewEngine(host, cdQuality, WithLogger(discardLogger()))
	require.NoError(t, err)
	defer eng.Destroy()

	eng.SetRefillCallback(func(ctx context.Context, e *Engine, n int) {
		_, _ = e.Write(make([]byte, n))
	})
	require.NoError(t, eng.Play(context.Background()))

	// About one tick per interval.
	start, before := time.Now(), eng.Diagnostics().Ticks
	time.Sleep(100 * time.Millisecond)
	got := eng.Diagnostics().Ticks - before
	want := float64(time.Since(start) / DefaultTickInterval)
	assert.InDelta(t, want, float64(got), 2, "%d ticks in %v", got, time.Since(start))

	require.NoError(t, eng.Pause(context.Background()))
	ticks := eng.Diagnostics().Ticks
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, ticks, eng.Diagnostics().Ticks, "paused engine must not tick")

	// Resuming does not replay the ticks missed while paused.
	require.NoError(t, eng.Play(context.Background()))
	assert.Equal(t, ticks, eng.Diagnostics().Ticks, "first tick after resume is one interval away")
	waitFor(t, func() bool { return eng.Diagnostics().Ticks > ticks }, "clock not restarted")
	require.NoError(t, eng.Pause(context.Background()))

	waitFor(t, func() bool { return !eng.serializer.InFlight() }, "refill still running")
	d := eng.Diagnostics()
	assert.Positive(t, d.BytesWritten)
	assert.True(t, d.Balanced(), "%+v", d)
}
