package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/leafd/internal/config"
	"github.com/dokzlo13/leafd/internal/eventbus"
	"github.com/dokzlo13/leafd/internal/mqtt"
	"github.com/dokzlo13/leafd/internal/nanoleaf"
)

type sentMessage struct {
	topic    string
	payload  string
	retained bool
}

// fakeBroker records publishes and keeps the command handler.
type fakeBroker struct {
	topics mqtt.Topics

	mu      sync.Mutex
	sent    []sentMessage
	handler mqtt.MessageHandler
	closed  bool
}

func (b *fakeBroker) Topics() mqtt.Topics { return b.topics }

func (b *fakeBroker) Publish(topic string, payload []byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sentMessage{topic: topic, payload: string(payload), retained: retained})
	return nil
}

func (b *fakeBroker) Subscribe(topic string, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if topic != b.topics.Command() {
		return errors.New("unexpected topic " + topic)
	}
	b.handler = handler
	return nil
}

func (b *fakeBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBroker) messages(topic string) []sentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []sentMessage
	for _, m := range b.sent {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// fakeCommander records device commands.
type fakeCommander struct {
	mu    sync.Mutex
	calls []string
}

func (c *fakeCommander) add(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *fakeCommander) SetState(_ context.Context, u nanoleaf.StateUpdate) error {
	body, _ := json.Marshal(u)
	c.add("state " + string(body))
	return nil
}

func (c *fakeCommander) SetEffect(_ context.Context, _ *nanoleaf.State, effect string) error {
	c.add("effect " + effect)
	return nil
}

func (c *fakeCommander) Identify(context.Context) error {
	c.add("identify")
	return nil
}

func newTestBridge(t *testing.T) (*MQTTService, *fakeBroker, *fakeCommander, *eventbus.Bus) {
	t.Helper()
	state := nanoleaf.NewState()
	if err := state.Replace(testInfo()); err != nil {
		t.Fatal(err)
	}

	bus := eventbus.NewWithConfig(1, 16)
	t.Cleanup(func() { bus.Close(context.Background()) })

	cmd := &fakeCommander{}
	s := &MQTTService{cfg: &config.Config{}, bus: bus, command: cmd, state: state}
	broker := &fakeBroker{topics: mqtt.NewTopics("leafd", "Canvas 5A3F")}
	if err := s.attach(context.Background(), broker); err != nil {
		t.Fatalf("attach: %v", err)
	}
	return s, broker, cmd, bus
}

func TestMQTTService_PublishesInitialState(t *testing.T) {
	_, broker, _, _ := newTestBridge(t)

	msgs := broker.messages("leafd/canvas_5a3f/state")
	if len(msgs) != 1 || !msgs[0].retained {
		t.Fatalf("state messages = %+v", msgs)
	}
	var snap nanoleaf.Snapshot
	if err := json.Unmarshal([]byte(msgs[0].payload), &snap); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if snap.Name != "Canvas 5A3F" || snap.Brightness.Value != 50 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestMQTTService_ForwardsBusEvents(t *testing.T) {
	_, broker, _, bus := newTestBridge(t)

	bus.Publish(eventbus.Event{
		Type:   eventbus.EventTypeTouch,
		Device: "Canvas 5A3F",
		Data:   map[string]any{"gesture": "Swipe Up", "panel_id": nil},
	})
	bus.Publish(eventbus.Event{
		Type:   eventbus.EventTypeState,
		Device: "Canvas 5A3F",
		Data:   map[string]any{"attr": "brightness", "value": 10},
	})

	deadline := time.Now().Add(2 * time.Second)
	for len(broker.messages("leafd/canvas_5a3f/state")) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("state not republished after a state event")
		}
		time.Sleep(5 * time.Millisecond)
	}

	touch := broker.messages("leafd/canvas_5a3f/event/touch")
	if len(touch) != 1 || touch[0].retained {
		t.Fatalf("touch messages = %+v", touch)
	}
	var msg eventMessage
	if err := json.Unmarshal([]byte(touch[0].payload), &msg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if msg.Type != "touch" || msg.Device != "Canvas 5A3F" || msg.Data["gesture"] != "Swipe Up" || msg.Time.IsZero() {
		t.Errorf("touch message = %+v", msg)
	}
}

func TestMQTTService_Commands(t *testing.T) {
	tests := []struct {
		payload string
		want    []string
		wantErr bool
	}{
		{`{"on":false}`, []string{`state {"on":{"value":false}}`}, false},
		{`{"brightness":5,"relative":true,"transition":1}`, []string{`state {"brightness":{"increment":5,"duration":1}}`}, false},
		{`{"effect":"Flames","identify":true}`, []string{"effect Flames", "identify"}, false},
		{`{"on":true,"effect":"Forest"}`, []string{`state {"on":{"value":true}}`, "effect Forest"}, false},
		{`{}`, nil, true},
		{`garbage`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			s, _, cmd, _ := newTestBridge(t)

			err := s.handleCommand(context.Background(), []byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("handleCommand err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, mqtt.ErrInvalidCommand) {
				t.Errorf("err = %v, want ErrInvalidCommand", err)
			}
			if len(cmd.calls) != len(tt.want) {
				t.Fatalf("calls = %q, want %q", cmd.calls, tt.want)
			}
			for i := range tt.want {
				if cmd.calls[i] != tt.want[i] {
					t.Errorf("call %d = %q, want %q", i, cmd.calls[i], tt.want[i])
				}
			}
		})
	}
}

func TestMQTTService_CommandThroughBroker(t *testing.T) {
	s, broker, cmd, _ := newTestBridge(t)

	if err := broker.handler(broker.topics.Command(), []byte(`{"identify":true}`)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(cmd.calls) != 1 || cmd.calls[0] != "identify" {
		t.Errorf("calls = %q", cmd.calls)
	}

	s.Close()
	if !broker.closed {
		t.Error("broker client not closed")
	}
}

func TestMQTTService_DisabledStartIsNoop(t *testing.T) {
	s := &MQTTService{cfg: &config.Config{}}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Close()
}
