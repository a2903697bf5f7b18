package fastsink

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrRuntimeInit is returned when a Host cannot create its worker pool.
	ErrRuntimeInit = errors.New("fastsink: runtime initialization failed")
	// ErrOverflow is returned by Write when the data does not fit in the
	// remaining capacity. Nothing is written.
	ErrOverflow = errors.New("fastsink: ring buffer overflow")
	// ErrUnderflow is returned by Read when fewer bytes than requested were
	// available. The bytes that were available are still consumed.
	ErrUnderflow = errors.New("fastsink: ring buffer underflow")
	// ErrBusy reports that a refill callback is already in flight.
	ErrBusy = errors.New("fastsink: refill callback busy")
	// ErrCancelled reports work aborted by teardown.
	ErrCancelled = errors.New("fastsink: cancelled")
	// ErrInvalidHandle is returned by the C surface for unknown or stale handles.
	ErrInvalidHandle = errors.New("fastsink: invalid handle")
	// ErrInvalidSettings is returned when stream settings cannot describe a buffer.
	ErrInvalidSettings = errors.New("fastsink: invalid settings")
	// ErrDestroyed is returned by engine methods called after Destroy.
	ErrDestroyed = errors.New("fastsink: engine destroyed")
	// ErrHostClosed is returned when work is submitted to a closed Host.
	ErrHostClosed = errors.New("fastsink: host closed")
	// ErrHostInUse is returned by Host.Close while engines still hold the host.
	ErrHostInUse = errors.New("fastsink: host still referenced")
	// ErrFlagClosed is returned by StateFlag.Set once the consumer side is gone.
	ErrFlagClosed = errors.New("fastsink: state flag closed")
)

// Status codes exposed through the C surface. Zero is success.
const (
	StatusOK             = 0
	StatusRuntimeInit    = 1
	StatusOverflow       = 2
	StatusUnderflow      = 3
	StatusBusy           = 4
	StatusCancelled      = 5
	StatusInvalidHandle  = 6
	StatusInvalidSetting = 7
	StatusDestroyed      = 8
	StatusHostClosed     = 9
	StatusHostInUse      = 10
	StatusUnknown        = 255
)

var statusTable = []struct {
	err  error
	code int
}{
	{ErrRuntimeInit, StatusRuntimeInit},
	{ErrOverflow, StatusOverflow},
	{ErrUnderflow, StatusUnderflow},
	{ErrBusy, StatusBusy},
	{ErrCancelled, StatusCancelled},
	{ErrFlagClosed, StatusCancelled},
	{context.Canceled, StatusCancelled},
	{context.DeadlineExceeded, StatusCancelled},
	{ErrInvalidHandle, StatusInvalidHandle},
	{ErrInvalidSettings, StatusInvalidSetting},
	{ErrDestroyed, StatusDestroyed},
	{ErrHostClosed, StatusHostClosed},
	{ErrHostInUse, StatusHostInUse},
}

// StatusCode maps an error returned by this package onto its status code.
// Wrapped errors are matched with errors.Is.
func StatusCode(err error) int {
	if err == nil {
		return StatusOK
	}
	for _, s := range statusTable {
		if errors.Is(err, s.err) {
			return s.code
		}
	}
	return StatusUnknown
}

// StatusText returns a human-readable description of a status code.
func StatusText(code int) string {
	if code == StatusOK {
		return "success"
	}
	for _, s := range statusTable {
		if s.code == code {
			return s.err.Error()
		}
	}
	return fmt.Sprintf("fastsink: unknown status %d", code)
}
