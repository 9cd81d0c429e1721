package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/leafd/internal/config"
	"github.com/dokzlo13/leafd/internal/eventbus"
	"github.com/dokzlo13/leafd/internal/mqtt"
	"github.com/dokzlo13/leafd/internal/nanoleaf"
)

// publisherClient is the part of the MQTT client the bridge uses.
type publisherClient interface {
	Topics() mqtt.Topics
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler mqtt.MessageHandler) error
	Close() error
}

// commander executes MQTT commands against the device.
type commander interface {
	SetState(ctx context.Context, update nanoleaf.StateUpdate) error
	SetEffect(ctx context.Context, state *nanoleaf.State, effect string) error
	Identify(ctx context.Context) error
}

// MQTTService bridges bus events to MQTT and MQTT commands to the device.
type MQTTService struct {
	cfg    *config.Config
	bus    *eventbus.Bus
	device *DeviceService

	client  publisherClient
	command commander
	state   *nanoleaf.State
}

// NewMQTTService creates the bridge. Start connects.
func NewMQTTService(cfg *config.Config, bus *eventbus.Bus, device *DeviceService) *MQTTService {
	return &MQTTService{
		cfg:     cfg,
		bus:     bus,
		device:  device,
		command: device.Client,
		state:   device.State,
	}
}

// Start connects to the broker once the device name is known.
func (s *MQTTService) Start(ctx context.Context) error {
	if !s.cfg.MQTT.Enabled {
		return nil
	}

	client, err := mqtt.Connect(s.cfg.MQTT, s.device.Name())
	if err != nil {
		return err
	}
	return s.attach(ctx, client)
}

// attach wires an already connected client to the bus and the command topic.
func (s *MQTTService) attach(ctx context.Context, client publisherClient) error {
	s.client = client

	err := client.Subscribe(client.Topics().Command(), func(_ string, payload []byte) error {
		return s.handleCommand(ctx, payload)
	})
	if err != nil {
		return err
	}

	s.bus.SubscribeAll(s.handleEvent)
	s.publishState()

	log.Info().Str("command_topic", client.Topics().Command()).Msg("MQTT bridge started")
	return nil
}

// eventMessage is the JSON published on the event topics.
type eventMessage struct {
	Type   string         `json:"type"`
	Device string         `json:"device"`
	Time   time.Time      `json:"time"`
	Data   map[string]any `json:"data"`
}

func (s *MQTTService) handleEvent(event eventbus.Event) {
	payload, err := json.Marshal(eventMessage{
		Type:   string(event.Type),
		Device: event.Device,
		Time:   event.Time,
		Data:   event.Data,
	})
	if err != nil {
		log.Warn().Err(err).Str("type", string(event.Type)).Msg("Failed to encode event for MQTT")
		return
	}
	if err := s.client.Publish(s.client.Topics().Event(string(event.Type)), payload, false); err != nil {
		log.Warn().Err(err).Str("type", string(event.Type)).Msg("Failed to publish event")
	}

	switch event.Type {
	case eventbus.EventTypeState, eventbus.EventTypeEffects:
		s.publishState()
	}
}

// publishState publishes the cached snapshot as the retained state message.
func (s *MQTTService) publishState() {
	payload, err := json.Marshal(s.state.Snapshot())
	if err != nil {
		log.Warn().Err(err).Msg("Failed to encode state for MQTT")
		return
	}
	if err := s.client.Publish(s.client.Topics().State(), payload, true); err != nil {
		log.Warn().Err(err).Msg("Failed to publish state")
	}
}

func (s *MQTTService) handleCommand(ctx context.Context, payload []byte) error {
	cmd, err := mqtt.ParseCommand(payload)
	if err != nil {
		return err
	}

	if update := cmd.StateUpdate(); !update.Empty() {
		if err := s.command.SetState(ctx, update); err != nil {
			return fmt.Errorf("set state: %w", err)
		}
	}
	if cmd.Effect != nil {
		if err := s.command.SetEffect(ctx, s.state, *cmd.Effect); err != nil {
			return fmt.Errorf("set effect: %w", err)
		}
	}
	if cmd.Identify {
		if err := s.command.Identify(ctx); err != nil {
			return fmt.Errorf("identify: %w", err)
		}
	}

	log.Debug().RawJSON("command", payload).Msg("Applied MQTT command")
	return nil
}

// Close publishes "offline" and disconnects.
func (s *MQTTService) Close() {
	if s.client == nil {
		return
	}
	if err := s.client.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close MQTT client")
	}
}
