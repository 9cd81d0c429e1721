package nanoleaf

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Callbacks receives decoded events. Any field may be nil.
// Callbacks run on their own goroutines; completion order across events is not guaranteed.
type Callbacks struct {
	State       func(context.Context, StateEvent) error
	Layout      func(context.Context, LayoutEvent) error
	Effects     func(context.Context, EffectsEvent) error
	Touch       func(context.Context, TouchEvent) error
	TouchStream func(context.Context, TouchStreamEvent) error
}

// ErrorHandler receives errors and recovered panics from callbacks.
type ErrorHandler func(kind string, err error)

func logCallbackError(kind string, err error) {
	log.Error().Err(err).Str("callback", kind).Msg("Event callback failed")
}

// Dispatcher runs callbacks as detached goroutines. A failing or panicking
// callback is reported to the error handler and never reaches the caller.
type Dispatcher struct {
	onError ErrorHandler
	spawn   func(func())
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. A nil handler logs errors.
func NewDispatcher(onError ErrorHandler) *Dispatcher {
	if onError == nil {
		onError = logCallbackError
	}
	return &Dispatcher{
		onError: onError,
		spawn:   func(f func()) { go f() },
	}
}

// Go schedules fn. Scheduling order follows call order.
func (d *Dispatcher) Go(ctx context.Context, kind string, fn func(context.Context) error) {
	d.wg.Add(1)
	d.spawn(func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.onError(kind, fmt.Errorf("callback panicked: %v", r))
			}
		}()
		if err := fn(ctx); err != nil {
			d.onError(kind, err)
		}
	})
}

// Wait blocks until all scheduled callbacks have returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
