package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/leafd/internal/config"
	"github.com/dokzlo13/leafd/internal/db"
	"github.com/dokzlo13/leafd/internal/eventbus"
	"github.com/dokzlo13/leafd/internal/kv"
	"github.com/dokzlo13/leafd/internal/nanoleaf"
)

// ErrNoToken is returned when neither the config nor the credential store has a token.
var ErrNoToken = errors.New("no auth token configured or stored, run leafd -pair")

const cleanupInterval = time.Hour

// DeviceService wraps the device client, its state cache, the event stream
// and the optional realtime painter.
type DeviceService struct {
	cfg *config.Config
	db  *db.DB

	Client  *nanoleaf.Client
	State   *nanoleaf.State
	Stream  *nanoleaf.EventStream
	Painter *nanoleaf.Painter // nil unless paint is enabled

	credentials *kv.Credentials
	pub         publisher
}

// NewDeviceService creates the client for host. Nothing is contacted yet.
func NewDeviceService(cfg *config.Config, host string, database *db.DB, bus *eventbus.Bus) *DeviceService {
	clientCfg := nanoleaf.DefaultClientConfig()
	clientCfg.Port = cfg.Device.Port
	clientCfg.Timeout = cfg.Device.Timeout.Duration()
	clientCfg.MaxImmediateRetries = cfg.Stream.GetMaxImmediateRetries()

	client := nanoleaf.NewClient(host, cfg.Device.Token, clientCfg)
	state := nanoleaf.NewState()

	decoder := nanoleaf.DefaultTelemetryDecoder
	if cfg.Stream.NoSecondaryPanel != nil {
		decoder.NoSecondaryPanel = *cfg.Stream.NoSecondaryPanel
	}
	stream := nanoleaf.NewEventStream(client, state, nanoleaf.EventStreamConfig{
		Backoff:             cfg.Stream.Backoff.Duration(),
		ConnectTimeout:      cfg.Stream.ConnectTimeout.Duration(),
		MaxImmediateRetries: cfg.Stream.GetMaxImmediateRetries(),
		TouchStreamPort:     cfg.Stream.TouchPort,
		TouchDecoder:        decoder,
		RefreshOnConnect:    cfg.Stream.GetRefreshOnConnect(),
	})

	s := &DeviceService{
		cfg:         cfg,
		db:          database,
		Client:      client,
		State:       state,
		Stream:      stream,
		credentials: kv.NewCredentials(database.DB),
	}
	s.pub = publisher{bus: bus, device: s.Name}

	if cfg.Paint.Enabled {
		s.Painter = nanoleaf.NewPainter(host, cfg.Paint.Port, cfg.Paint.RateLimitRPS)
	}
	return s
}

// Name returns the device name once the state is loaded, else the host.
func (s *DeviceService) Name() string {
	if name := s.State.Name(); name != "" {
		return name
	}
	return s.Client.Host()
}

// Start resolves the token and loads the initial snapshot.
func (s *DeviceService) Start(ctx context.Context) error {
	if s.cfg.Device.Token == "" {
		cred, ok, err := s.credentials.Load(ctx, s.Client.Host())
		if err != nil {
			return fmt.Errorf("failed to load stored credentials: %w", err)
		}
		if !ok {
			return ErrNoToken
		}
		s.Client.SetToken(cred.Token)
		log.Info().Str("host", s.Client.Host()).Time("paired_at", cred.PairedAt).Msg("Using stored device token")
	}

	if err := s.Client.Refresh(ctx, s.State); err != nil {
		return fmt.Errorf("failed to load device state: %w", err)
	}

	snap := s.State.Snapshot()
	log.Info().
		Str("name", snap.Name).
		Str("model", snap.Model).
		Str("firmware", snap.FirmwareVersion).
		Int("panels", len(snap.Panels)).
		Msg("Connected to device")
	return nil
}

// StartBackground runs the event stream. An invalid token is fatal.
func (s *DeviceService) StartBackground(ctx context.Context, onFatalError func(error)) {
	s.Stream.OnStateChange(func(st nanoleaf.EngineState) {
		s.pub.publish(eventbus.EventTypeEngine, engineEventData(st))
	})
	s.Stream.SetErrorHandler(func(kind string, err error) {
		log.Error().Err(err).Str("callback", kind).Msg("Device event callback failed")
	})

	go func() {
		if err := s.Stream.Listen(ctx, s.callbacks()); err != nil {
			onFatalError(fmt.Errorf("device event stream stopped: %w", err))
		}
	}()

	go s.cleanupLoop(ctx)
}

// callbacks forwards every subscribed event kind to the bus.
func (s *DeviceService) callbacks() nanoleaf.Callbacks {
	cb := nanoleaf.Callbacks{
		State: func(_ context.Context, ev nanoleaf.StateEvent) error {
			s.pub.publish(eventbus.EventTypeState, stateEventData(ev))
			return nil
		},
		Effects: func(_ context.Context, ev nanoleaf.EffectsEvent) error {
			s.pub.publish(eventbus.EventTypeEffects, effectsEventData(ev))
			return nil
		},
	}
	if s.cfg.Stream.Layout {
		cb.Layout = func(_ context.Context, ev nanoleaf.LayoutEvent) error {
			s.pub.publish(eventbus.EventTypeLayout, layoutEventData(ev))
			return nil
		}
	}
	if s.cfg.Stream.Touch {
		cb.Touch = func(_ context.Context, ev nanoleaf.TouchEvent) error {
			s.pub.publish(eventbus.EventTypeTouch, touchEventData(ev))
			return nil
		}
	}
	if s.cfg.Stream.TouchStream {
		cb.TouchStream = func(_ context.Context, ev nanoleaf.TouchStreamEvent) error {
			s.pub.publish(eventbus.EventTypeTouchStream, touchStreamEventData(ev))
			return nil
		}
	}
	return cb
}

// cleanupLoop drops expired kv entries left behind by scripts.
func (s *DeviceService) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := kv.CleanupExpired(ctx, s.db.DB)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to clean up expired kv entries")
				continue
			}
			if n > 0 {
				log.Debug().Int64("removed", n).Msg("Cleaned up expired kv entries")
			}
		}
	}
}

// Ready reports whether the event stream is connected.
func (s *DeviceService) Ready() bool {
	return s.Stream.State() == nanoleaf.EngineStreaming
}

// Close releases the painter socket and idle connections.
func (s *DeviceService) Close() {
	if s.Painter != nil {
		if err := s.Painter.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close painter")
		}
	}
	if err := s.Client.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close device client")
	}
}
