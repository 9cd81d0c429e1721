package lua

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/leafd/internal/lua/modules"
	"github.com/dokzlo13/leafd/internal/nanoleaf"
)

// ErrRuntimeClosed is returned when the Lua runtime is closed
var ErrRuntimeClosed = fmt.Errorf("lua runtime closed")

const (
	workQueueSize = 100
	// closeTimeout bounds how long Close waits for in-flight work
	closeTimeout = 5 * time.Second
)

// LuaWork represents work to be executed on the Lua VM.
// All Lua execution must go through the worker; LState is not goroutine safe.
type LuaWork func(ctx context.Context)

// Deps are the objects scripts can reach through the preloaded modules.
type Deps struct {
	Device  modules.Commander
	State   *nanoleaf.State
	Painter modules.Painter // nil disables nanoleaf.paint
	DB      *sql.DB         // nil disables the kv module
}

// Runtime manages the Lua VM with single-threaded execution
type Runtime struct {
	L *lua.LState

	nanoleafModule *modules.NanoleafModule

	workQueue chan LuaWork

	// closing is closed once; senders select on it instead of checking a flag
	closing   chan struct{}
	closeOnce sync.Once

	// stopped is closed when Run returns; started is guarded by mu
	mu      sync.Mutex
	started bool
	stopped chan struct{}
}

// NewRuntime creates a new Lua runtime
func NewRuntime(deps Deps) *Runtime {
	r := &Runtime{
		L:         lua.NewState(),
		workQueue: make(chan LuaWork, workQueueSize),
		closing:   make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	r.registerModules(deps)
	return r
}

func (r *Runtime) registerModules(deps Deps) {
	r.L.PreloadModule("log", modules.NewLogModule().Loader)

	r.nanoleafModule = modules.NewNanoleafModule(deps.Device, deps.State, deps.Painter)
	r.nanoleafModule.SetFlushFunc(r.flushBatch)
	r.L.PreloadModule("nanoleaf", r.nanoleafModule.Loader)

	if deps.DB != nil {
		r.L.PreloadModule("kv", modules.NewKVModule(deps.DB).Loader)
	}
}

// Close stops accepting new work, waits for the worker to finish what it has
// already taken and then closes the Lua state.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		close(r.closing)
		r.nanoleafModule.Close()

		r.mu.Lock()
		started := r.started
		r.mu.Unlock()

		if started {
			select {
			case <-r.stopped:
			case <-time.After(closeTimeout):
				// The worker still owns L; closing it now would race
				log.Warn().Dur("timeout", closeTimeout).Msg("Lua worker did not stop, leaving state open")
				return
			}
		}
		// workQueue stays open so concurrent senders never panic
		r.L.Close()
	})
}

func (r *Runtime) isClosing() bool {
	select {
	case <-r.closing:
		return true
	default:
		return false
	}
}

// Do queues work to be executed on the Lua VM (non-blocking).
// Returns false if the runtime is closing, the queue is full, or ctx is done.
func (r *Runtime) Do(ctx context.Context, work LuaWork) bool {
	if r.isClosing() {
		log.Warn().Msg("Lua runtime closing, dropping work")
		return false
	}
	select {
	case <-r.closing:
		log.Warn().Msg("Lua runtime closing, dropping work")
		return false
	case <-ctx.Done():
		log.Warn().Msg("Context cancelled, dropping Lua work")
		return false
	case r.workQueue <- work:
		return true
	default:
		log.Warn().Msg("Lua work queue full, dropping work")
		return false
	}
}

// DoSync queues work and blocks until it has been executed.
func (r *Runtime) DoSync(ctx context.Context, work func(context.Context) error) error {
	done := make(chan error, 1)
	wrapped := LuaWork(func(c context.Context) {
		done <- work(c)
	})

	if r.isClosing() {
		return ErrRuntimeClosed
	}
	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case r.workQueue <- wrapped:
	}

	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Dispatch runs the script handlers registered for kind that accept event.
// Batching handlers are fed to their collector instead.
func (r *Runtime) Dispatch(ctx context.Context, kind string, event map[string]any) bool {
	handlers := r.nanoleafModule.Handlers(kind, event)
	if len(handlers) == 0 {
		return false
	}

	var immediate []*modules.Handler
	for _, h := range handlers {
		if !h.Collect(event) {
			immediate = append(immediate, h)
		}
	}
	if len(immediate) == 0 {
		return true
	}

	return r.Do(ctx, func(ctx context.Context) {
		for _, h := range immediate {
			r.call(h, event)
		}
	})
}

// flushBatch delivers a collected batch as its last event, with the batch
// size in "count".
func (r *Runtime) flushBatch(h *modules.Handler, events []map[string]any) {
	last := make(map[string]any, len(events[len(events)-1])+1)
	for k, v := range events[len(events)-1] {
		last[k] = v
	}
	last["count"] = len(events)

	r.Do(context.Background(), func(ctx context.Context) {
		r.call(h, last)
	})
}

// call invokes a handler on the worker. Script errors are logged.
func (r *Runtime) call(h *modules.Handler, event map[string]any) {
	err := r.L.CallByParam(lua.P{
		Fn:      h.Fn,
		NRet:    0,
		Protect: true,
	}, modules.MapToTable(r.L, event))
	if err != nil {
		log.Error().Err(err).Str("kind", h.Kind).Msg("Lua handler failed")
	}
}

// HandlerCount returns the number of handlers the script registered.
func (r *Runtime) HandlerCount() int {
	return r.nanoleafModule.HandlerCount()
}

// Run starts the Lua worker; it is the only goroutine that touches the VM.
// Exits when ctx is cancelled or the runtime is closed.
func (r *Runtime) Run(ctx context.Context) {
	r.mu.Lock()
	if r.isClosing() || r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()
	defer close(r.stopped)

	for {
		select {
		case <-ctx.Done():
			r.drainQueue(ctx)
			return
		case <-r.closing:
			r.drainQueue(ctx)
			return
		case work := <-r.workQueue:
			r.executeWork(ctx, work)
		}
	}
}

func (r *Runtime) drainQueue(ctx context.Context) {
	for {
		select {
		case work := <-r.workQueue:
			r.executeWork(ctx, work)
		default:
			return
		}
	}
}

func (r *Runtime) executeWork(ctx context.Context, work LuaWork) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("Lua work panicked - worker continuing")
		}
	}()
	// Modules read the context back through L.Context()
	r.L.SetContext(ctx)
	work(ctx)
}

// LoadScript executes the script. Must be called before Run.
func (r *Runtime) LoadScript(path string) error {
	log.Info().Str("path", path).Msg("Loading Lua script")
	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}
	log.Info().Int("handlers", r.HandlerCount()).Msg("Lua script loaded")
	return nil
}

// LoadString executes inline Lua source. Must be called before Run.
func (r *Runtime) LoadString(source string) error {
	if err := r.L.DoString(source); err != nil {
		return fmt.Errorf("failed to execute Lua source: %w", err)
	}
	return nil
}
