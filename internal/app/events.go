package app

import (
	"github.com/dokzlo13/leafd/internal/eventbus"
	"github.com/dokzlo13/leafd/internal/nanoleaf"
)

// Bus payloads for device events. Keys are what Lua handlers filter on and
// what the MQTT bridge serializes.

func stateEventData(ev nanoleaf.StateEvent) map[string]any {
	name, err := ev.Attribute()
	if err != nil {
		name = ""
	}
	return map[string]any{
		"attr":    name,
		"attr_id": ev.AttributeID(),
		"value":   ev.Value(),
	}
}

func layoutEventData(ev nanoleaf.LayoutEvent) map[string]any {
	name, err := ev.Attribute()
	if err != nil {
		name = ""
	}
	return map[string]any{
		"attr":    name,
		"attr_id": ev.AttributeID(),
		"value":   ev.Raw()["value"],
	}
}

func effectsEventData(ev nanoleaf.EffectsEvent) map[string]any {
	return map[string]any{"effect": ev.Effect()}
}

func touchEventData(ev nanoleaf.TouchEvent) map[string]any {
	data := map[string]any{
		"gesture":    ev.Gesture(),
		"gesture_id": int(ev.GestureID()),
		"panel_id":   nil,
	}
	if id, ok := ev.PanelID(); ok {
		data["panel_id"] = id
	}
	return data
}

func touchStreamEventData(ev nanoleaf.TouchStreamEvent) map[string]any {
	data := map[string]any{
		"panel_id":           ev.PanelID,
		"touch_type":         ev.TouchType(),
		"strength":           ev.Strength,
		"secondary_panel_id": nil,
	}
	if id, ok := ev.SecondaryPanelID(); ok {
		data["secondary_panel_id"] = id
	} else if ev.HasSecondaryPanel() {
		// wider than an int64, keep it lossless
		data["secondary_panel_id"] = ev.RawSecondaryPanelID().String()
	}
	return data
}

func engineEventData(s nanoleaf.EngineState) map[string]any {
	return map[string]any{"state": s.String()}
}

// publisher stamps events with the device name before they hit the bus.
type publisher struct {
	bus    *eventbus.Bus
	device func() string
}

func (p publisher) publish(t eventbus.EventType, data map[string]any) {
	p.bus.Publish(eventbus.Event{Type: t, Device: p.device(), Data: data})
}
