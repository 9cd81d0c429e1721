package app

import (
	"context"
	"errors"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/leafd/internal/config"
	"github.com/dokzlo13/leafd/internal/eventbus"
	luart "github.com/dokzlo13/leafd/internal/lua"
)

// LuaService wraps the Lua runtime and feeds it bus events.
type LuaService struct {
	cfg     *config.Config
	bus     *eventbus.Bus
	Runtime *luart.Runtime
	loaded  bool
}

// NewLuaService creates the runtime bound to the device.
func NewLuaService(cfg *config.Config, bus *eventbus.Bus, device *DeviceService) *LuaService {
	deps := luart.Deps{
		Device: device.Client,
		State:  device.State,
		DB:     device.db.DB,
	}
	// A nil *Painter must not become a non-nil interface
	if device.Painter != nil {
		deps.Painter = device.Painter
	}

	return &LuaService{
		cfg:     cfg,
		bus:     bus,
		Runtime: luart.NewRuntime(deps),
	}
}

// LoadScript runs the configured script. A missing script disables scripting.
// Must be called before Start.
func (s *LuaService) LoadScript() error {
	if _, err := os.Stat(s.cfg.Script); errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", s.cfg.Script).Msg("Lua script not found, scripting disabled")
		return nil
	}
	if err := s.Runtime.LoadScript(s.cfg.Script); err != nil {
		return err
	}
	s.loaded = true
	return nil
}

// Start runs the Lua worker and subscribes the script to device events.
func (s *LuaService) Start(ctx context.Context) {
	if !s.loaded {
		return
	}

	// The worker is the only goroutine that touches Lua
	go s.Runtime.Run(ctx)

	if s.Runtime.HandlerCount() == 0 {
		return
	}
	s.bus.SubscribeAll(func(event eventbus.Event) {
		s.Runtime.Dispatch(ctx, string(event.Type), event.Data)
	})
}

// Close closes the Lua runtime.
func (s *LuaService) Close() {
	if s.Runtime != nil {
		s.Runtime.Close()
	}
}
