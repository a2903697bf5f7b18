// Command libfastsink builds the C-callable fastsink library:
//
//	go build -buildmode=c-shared -o libfastsink.so ./cmd/libfastsink
//
// The generated libfastsink.h declares the functions below. Hosts and engines
// are identified by opaque 64-bit handles; 0 is never a valid handle. Every
// call that returns int32_t returns 0 on success and a fastsink status code
// otherwise (see Engine_status_text).
//
// Typical use from C:
//
//	uint64_t host = Host_create(0);
//	EngineSettings s = { .sample_size = 2, .n_channels = 2,
//	                     .sample_rate = 44100, .buffer_ms = 250 };
//	uint64_t eng = Engine_create(host, &s);
//	Engine_set_refill_callback(eng, on_refill, my_state);
//	Engine_play(eng, true);
//	...
//	Engine_destroy(eng);
//	Host_destroy(host);
//
// The refill callback runs on a runtime worker thread, never on the caller's
// thread. It may call Engine_write and should return promptly.
//
// Engine_lock waits for a running refill callback and keeps new ones from
// starting until Engine_unlock. Callbacks always run as if holding this
// lock, so they must not call Engine_lock themselves.
package main

/*
#include <stdint.h>
#include <stdbool.h>
#include <stddef.h>

typedef struct {
    uint8_t  sample_size;
    uint32_t n_channels;
    uint32_t sample_rate;
    uint32_t buffer_ms;
} EngineSettings;

typedef void (*RefillCallback)(uint64_t engine, size_t n_bytes, void *user_context);

// Go cannot call a C function pointer directly.
static void callRefill(RefillCallback cb, uint64_t engine, size_t n_bytes, void *user_context) {
    cb(engine, n_bytes, user_context);
}
*/
import "C"

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"unsafe"

	"github.com/drgolem/fastsink/fastsink"
	"github.com/drgolem/fastsink/internal/bridge"
	"github.com/drgolem/fastsink/internal/config"
	"github.com/drgolem/fastsink/internal/handle"
)

var (
	registryOnce sync.Once
	registry     *bridge.Registry
	logger       *slog.Logger
)

func lib() *bridge.Registry {
	registryOnce.Do(func() {
		l, err := config.NewLogger(config.LogConfig{Level: "warn", Format: "text"}, os.Stderr)
		if err != nil {
			l = slog.New(slog.NewTextHandler(os.Stderr, nil))
			l.Warn("ignoring log level", "env", config.LogLevelEnv, "error", err)
		}
		logger = l
		registry = bridge.NewRegistry(l)
	})
	return registry
}

func status(err error) C.int32_t {
	return C.int32_t(fastsink.StatusCode(err))
}

//export Host_create
func Host_create(workers C.int32_t) C.uint64_t {
	h, err := lib().CreateHost(int(workers))
	if err != nil {
		logger.Error("Host_create failed", "workers", int(workers), "error", err)
		return 0
	}
	return C.uint64_t(h)
}

//export Host_destroy
func Host_destroy(host C.uint64_t) C.int32_t {
	return status(lib().DestroyHost(handle.Handle(host)))
}

//export Engine_create
func Engine_create(host C.uint64_t, settings *C.EngineSettings) C.uint64_t {
	r := lib()
	if settings == nil {
		logger.Error("Engine_create failed", "error", "nil settings")
		return 0
	}
	s := fastsink.Settings{
		SampleSize: int(settings.sample_size),
		Channels:   int(settings.n_channels),
		SampleRate: int(settings.sample_rate),
		BufferMs:   int(settings.buffer_ms),
	}
	h, err := r.CreateEngine(handle.Handle(host), s)
	if err != nil {
		logger.Error("Engine_create failed", "settings", s, "error", err)
		return 0
	}
	return C.uint64_t(h)
}

//export Engine_destroy
func Engine_destroy(engine C.uint64_t) {
	// Idempotent: a second destroy is an invalid handle, which is ignored.
	_ = lib().DestroyEngine(handle.Handle(engine))
}

//export Engine_play
func Engine_play(engine C.uint64_t, play C.bool) C.int32_t {
	return status(lib().Play(context.Background(), handle.Handle(engine), bool(play)))
}

//export Engine_set_refill_callback
func Engine_set_refill_callback(engine C.uint64_t, cb C.RefillCallback, userContext unsafe.Pointer) C.int32_t {
	if cb == nil {
		return status(lib().SetRefillCallback(handle.Handle(engine), nil))
	}
	return status(lib().SetRefillCallback(handle.Handle(engine), func(h handle.Handle, n int) {
		C.callRefill(cb, C.uint64_t(h), C.size_t(n), userContext)
	}))
}

//export Engine_lock
func Engine_lock(engine C.uint64_t) C.int32_t {
	return status(lib().Lock(context.Background(), handle.Handle(engine)))
}

//export Engine_unlock
func Engine_unlock(engine C.uint64_t) C.int32_t {
	return status(lib().Unlock(handle.Handle(engine)))
}

//export Engine_write
func Engine_write(engine C.uint64_t, data *C.uint8_t, n C.size_t) C.int32_t {
	if n == 0 {
		return status(nil)
	}
	if data == nil {
		return C.int32_t(fastsink.StatusUnknown)
	}
	p := unsafe.Slice((*byte)(unsafe.Pointer(data)), int(n))
	_, err := lib().Write(handle.Handle(engine), p)
	return status(err)
}

var (
	statusTextMu    sync.Mutex
	statusTextCache = map[int]*C.char{}
)

//export Engine_status_text
func Engine_status_text(code C.int32_t) *C.char {
	statusTextMu.Lock()
	defer statusTextMu.Unlock()

	// Strings are allocated once per code and never freed.
	if s, ok := statusTextCache[int(code)]; ok {
		return s
	}
	s := C.CString(fastsink.StatusText(int(code)))
	statusTextCache[int(code)] = s
	return s
}

func main() {}
