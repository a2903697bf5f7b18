package fastsink

import (
	"fmt"
	"io"
	"time"
)

// Diagnostics is a point-in-time snapshot of an engine's counters.
type Diagnostics struct {
	EngineID string
	State    State

	SampleRate   int
	Channels     int
	SampleSize   int
	TickInterval time.Duration

	Capacity       int
	ReadSize       int
	WriteThreshold int
	Buffered       int

	Ticks        uint64
	Underflows   uint64
	StateChanges uint64

	BytesWritten   uint64
	BytesRead      uint64
	BytesDiscarded uint64
	Overflows      uint64

	RefillsScheduled uint64
	RefillsSkipped   uint64
	RefillPanics     uint64
}

// Diagnostics returns a snapshot of the engine's counters. Safe to call from
// any goroutine, including after Destroy.
func (e *Engine) Diagnostics() Diagnostics {
	return Diagnostics{
		EngineID:         e.id,
		State:            e.State(),
		SampleRate:       e.settings.SampleRate,
		Channels:         e.settings.Channels,
		SampleSize:       e.settings.SampleSize,
		TickInterval:     e.interval,
		Capacity:         e.ring.Cap(),
		ReadSize:         e.readSize,
		WriteThreshold:   e.writeThreshold,
		Buffered:         e.ring.Len(),
		Ticks:            e.ticks.Load(),
		Underflows:       e.underflows.Load(),
		StateChanges:     e.stateChanges.Load(),
		BytesWritten:     e.bytesWritten.Load(),
		BytesRead:        e.bytesRead.Load(),
		BytesDiscarded:   e.discarded.Load(),
		Overflows:        e.overflows.Load(),
		RefillsScheduled: e.refillsScheduled.Load(),
		RefillsSkipped:   e.refillsSkipped.Load(),
		RefillPanics:     e.serializer.Panics(),
	}
}

// bytesToMs converts a byte count of this stream to milliseconds of audio.
func (d Diagnostics) bytesToMs(n int) float64 {
	perSec := d.SampleRate * d.Channels * d.SampleSize
	if perSec == 0 {
		return 0
	}
	return float64(n) / float64(perSec) * 1000
}

// BufferedMs returns the buffered audio in milliseconds.
func (d Diagnostics) BufferedMs() float64 {
	return d.bytesToMs(d.Buffered)
}

// Balanced reports whether every byte written is accounted for as read,
// still buffered, or discarded at teardown.
func (d Diagnostics) Balanced() bool {
	return d.BytesRead+uint64(d.Buffered)+d.BytesDiscarded == d.BytesWritten
}

// PrintDiagnostics writes a human-readable report to w.
func (d Diagnostics) PrintDiagnostics(w io.Writer) {
	fmt.Fprintf(w, "\nDiagnostics (engine %s, %s):\n", d.EngineID, d.State)
	fmt.Fprintf(w, "  Stream:             %d Hz, %d ch, %d bytes/sample, tick %v\n",
		d.SampleRate, d.Channels, d.SampleSize, d.TickInterval)
	fmt.Fprintf(w, "  Ring:               %d bytes / %.0f ms, %d buffered (%.1f ms)\n",
		d.Capacity, d.bytesToMs(d.Capacity), d.Buffered, d.BufferedMs())
	fmt.Fprintf(w, "  Per tick:           read %d bytes, refill at %d bytes free\n",
		d.ReadSize, d.WriteThreshold)
	fmt.Fprintf(w, "  Ticks:              %d\n", d.Ticks)
	fmt.Fprintf(w, "  State changes:      %d\n", d.StateChanges)
	if d.Underflows > 0 {
		fmt.Fprintf(w, "  Underflows:         %d\n", d.Underflows)
	}
	if d.Overflows > 0 {
		fmt.Fprintf(w, "  Overflows:          %d\n", d.Overflows)
	}
	fmt.Fprintf(w, "  Refills:            %d scheduled, %d skipped (busy)\n",
		d.RefillsScheduled, d.RefillsSkipped)
	if d.RefillPanics > 0 {
		fmt.Fprintf(w, "  Refill panics:      %d\n", d.RefillPanics)
	}

	fmt.Fprintf(w, "\n  Data integrity:\n")
	fmt.Fprintf(w, "    Host → Ring:    %d written\n", d.BytesWritten)
	fmt.Fprintf(w, "    Ring → Sink:    %d read, %d buffered, %d discarded",
		d.BytesRead, d.Buffered, d.BytesDiscarded)
	if d.Balanced() {
		fmt.Fprintf(w, "  ✓\n")
	} else {
		fmt.Fprintf(w, "  MISMATCH (expected %d, got %d)\n",
			d.BytesWritten, d.BytesRead+uint64(d.Buffered)+d.BytesDiscarded)
	}
}
