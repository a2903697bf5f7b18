// Package bridge maps the handle-based C surface onto fastsink hosts and
// engines. Every entry point resolves its handle first, so stale, unknown
// and doubly-destroyed handles fail with fastsink.ErrInvalidHandle instead of
// touching freed state.
package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/drgolem/fastsink/fastsink"
	"github.com/drgolem/fastsink/internal/handle"
)

// RefillFunc is the handle-level refill callback: it receives the engine's
// own handle so the host can call back into Write.
type RefillFunc func(engine handle.Handle, n int)

type engineEntry struct {
	eng  *fastsink.Engine
	host handle.Handle
}

// Registry owns every host and engine created through the C surface.
type Registry struct {
	hosts   *handle.Table[*fastsink.Host]
	engines *handle.Table[*engineEntry]
	log     *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		hosts:   handle.New[*fastsink.Host](),
		engines: handle.New[*engineEntry](),
		log:     log,
	}
}

// CreateHost starts a host with the given worker count; 0 selects
// fastsink.DefaultWorkers.
func (r *Registry) CreateHost(workers int) (handle.Handle, error) {
	if workers == 0 {
		workers = fastsink.DefaultWorkers
	}
	host, err := fastsink.NewHost(workers, fastsink.WithHostLogger(r.log))
	if err != nil {
		return handle.Null, err
	}
	h := r.hosts.Insert(host)
	r.log.Debug("host registered", "handle", uint64(h), "workers", workers)
	return h, nil
}

// DestroyHost closes a host. While engines still reference it the call fails
// with fastsink.ErrHostInUse and the handle stays valid.
func (r *Registry) DestroyHost(h handle.Handle) error {
	host, ok := r.hosts.Get(h)
	if !ok {
		return fmt.Errorf("%w: host %#x", fastsink.ErrInvalidHandle, uint64(h))
	}
	if err := host.Close(); err != nil {
		return err
	}
	r.hosts.Remove(h)
	return nil
}

// CreateEngine creates a paused engine on the host behind hostH.
func (r *Registry) CreateEngine(hostH handle.Handle, s fastsink.Settings, opts ...fastsink.Option) (handle.Handle, error) {
	host, ok := r.hosts.Get(hostH)
	if !ok {
		return handle.Null, fmt.Errorf("%w: host %#x", fastsink.ErrInvalidHandle, uint64(hostH))
	}

	eng, err := fastsink.NewEngine(host, s, opts...)
	if err != nil {
		return handle.Null, err
	}
	h := r.engines.Insert(&engineEntry{eng: eng, host: hostH})
	r.log.Debug("engine registered", "handle", uint64(h), "engine_id", eng.ID())
	return h, nil
}

// Engine resolves an engine handle.
func (r *Registry) Engine(h handle.Handle) (*fastsink.Engine, error) {
	e, ok := r.engines.Get(h)
	if !ok {
		return nil, fmt.Errorf("%w: engine %#x", fastsink.ErrInvalidHandle, uint64(h))
	}
	return e.eng, nil
}

// DestroyEngine invalidates h and tears the engine down. Destroying an
// already-destroyed handle returns fastsink.ErrInvalidHandle and has no other
// effect.
func (r *Registry) DestroyEngine(h handle.Handle) error {
	e, ok := r.engines.Remove(h)
	if !ok {
		return fmt.Errorf("%w: engine %#x", fastsink.ErrInvalidHandle, uint64(h))
	}
	e.eng.Destroy()
	return nil
}

// Play switches the engine between Running (play) and Paused.
func (r *Registry) Play(ctx context.Context, h handle.Handle, play bool) error {
	eng, err := r.Engine(h)
	if err != nil {
		return err
	}
	return eng.SetPlaying(ctx, play)
}

// SetRefillCallback registers fn for the engine behind h. A nil fn disables
// refill requests.
func (r *Registry) SetRefillCallback(h handle.Handle, fn RefillFunc) error {
	eng, err := r.Engine(h)
	if err != nil {
		return err
	}
	if fn == nil {
		eng.SetRefillCallback(nil)
		return nil
	}
	eng.SetRefillCallback(func(ctx context.Context, _ *fastsink.Engine, n int) {
		fn(h, n)
	})
	return nil
}

// Lock blocks refill callbacks of the engine behind h until Unlock.
func (r *Registry) Lock(ctx context.Context, h handle.Handle) error {
	eng, err := r.Engine(h)
	if err != nil {
		return err
	}
	return eng.Lock(ctx)
}

// Unlock releases a lock taken with Lock.
func (r *Registry) Unlock(h handle.Handle) error {
	eng, err := r.Engine(h)
	if err != nil {
		return err
	}
	eng.Unlock()
	return nil
}

// Write pushes p into the engine's ring buffer.
func (r *Registry) Write(h handle.Handle, p []byte) (int, error) {
	eng, err := r.Engine(h)
	if err != nil {
		return 0, err
	}
	return eng.Write(p)
}

// Diagnostics returns the engine's counters.
func (r *Registry) Diagnostics(h handle.Handle) (fastsink.Diagnostics, error) {
	eng, err := r.Engine(h)
	if err != nil {
		return fastsink.Diagnostics{}, err
	}
	return eng.Diagnostics(), nil
}

// Counts returns the number of live hosts and engines.
func (r *Registry) Counts() (hosts, engines int) {
	return r.hosts.Len(), r.engines.Len()
}
