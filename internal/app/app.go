package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/leafd/internal/config"
	"github.com/dokzlo13/leafd/internal/nanoleaf"
)

// App owns the services of one device daemon. It runs until the parent context
// is cancelled or the device event stream stops for good.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc

	mu       sync.Mutex
	fatalErr error
}

// New creates a new App instance with all services initialized but not started.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	services, err := NewServices(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		services: services,
	}, nil
}

// Start initializes and starts all services.
// The provided context is used for cancellation.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	if err := a.services.Start(a.ctx, a.fatal); err != nil {
		return err
	}

	log.Info().Str("device", a.services.Device.Name()).Msg("leafd started")
	return nil
}

// fatal records the first unrecoverable error and shuts the app down.
func (a *App) fatal(err error) {
	a.mu.Lock()
	if a.fatalErr != nil {
		a.mu.Unlock()
		return
	}
	a.fatalErr = err
	a.mu.Unlock()

	if errors.Is(err, nanoleaf.ErrInvalidToken) {
		log.Error().Err(err).Msg("Device rejected the auth token; pair again with -reset-token and -pair")
	} else {
		log.Error().Err(err).Msg("Fatal error, initiating shutdown")
	}
	a.cancel()
}

// Err returns the error that stopped the app, or nil after a normal shutdown.
func (a *App) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fatalErr
}

// Stop gracefully shuts down all services.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down...")

	if a.cancel != nil {
		a.cancel()
	}

	if a.services != nil {
		return a.services.Stop()
	}

	return nil
}

// Wait blocks until the application context is cancelled.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
