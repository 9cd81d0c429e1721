package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/leafd/internal/config"
	"github.com/dokzlo13/leafd/internal/db"
	"github.com/dokzlo13/leafd/internal/eventbus"
	"github.com/dokzlo13/leafd/internal/nanoleaf"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	DB  *db.DB
	Bus *eventbus.Bus

	Device *DeviceService
	MQTT   *MQTTService
	Lua    *LuaService
	Health *HealthService
}

// NewServices creates all services. When no host is configured the device
// is looked up over mDNS first.
func NewServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	host, err := resolveHost(ctx, cfg)
	if err != nil {
		return nil, err
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())
	s.Device = NewDeviceService(cfg, host, database, s.Bus)
	s.MQTT = NewMQTTService(cfg, s.Bus, s.Device)
	s.Lua = NewLuaService(cfg, s.Bus, s.Device)
	s.Health = NewHealthService(cfg, func() string { return s.Device.Stream.State().String() })

	return s, nil
}

// resolveHost returns the configured host or the first discovered device.
func resolveHost(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.Device.Host != "" {
		return cfg.Device.Host, nil
	}

	devices, err := nanoleaf.Discover(ctx, cfg.Device.DiscoverTimeout.Duration())
	if err != nil {
		return "", fmt.Errorf("device discovery failed: %w", err)
	}
	if len(devices) == 0 {
		return "", fmt.Errorf("no device found on the local network")
	}
	if len(devices) > 1 {
		log.Warn().Int("found", len(devices)).Msg("Several devices discovered, using the first; set device.host to choose")
	}
	d := devices[0]
	log.Info().Str("name", d.Name).Str("address", d.Address()).Msg("Discovered device")
	if d.Port != 0 && d.Port != cfg.Device.Port {
		cfg.Device.Port = d.Port
	}
	return d.Host, nil
}

// Start starts all services in the correct order.
// onFatalError is called when the event stream stops for good (invalid token).
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	if err := s.Device.Start(ctx); err != nil {
		return err
	}

	// Handlers must be registered before events start flowing
	if err := s.Lua.LoadScript(); err != nil {
		return err
	}
	if err := s.MQTT.Start(ctx); err != nil {
		return err
	}

	s.Lua.Start(ctx)
	s.Device.StartBackground(ctx, onFatalError)
	s.Health.Start(ctx)

	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
	defer cancel()

	if s.Bus != nil {
		s.Bus.Close(ctx)
	}
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.MQTT != nil {
		s.MQTT.Close()
	}
	if s.Lua != nil {
		s.Lua.Close()
	}
	if s.Device != nil {
		s.Device.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
