package nanoleaf

import (
	"errors"
	"testing"
)

func TestStateEvent_Attribute(t *testing.T) {
	tests := []struct {
		attr float64
		want string
	}{
		{1, "is_on"},
		{2, "brightness"},
		{3, "hue"},
		{4, "saturation"},
		{5, "color_temperature"},
		{6, "color_mode"},
	}

	for _, tt := range tests {
		ev := NewStateEvent(map[string]interface{}{"attr": tt.attr, "value": 1.0})
		got, err := ev.Attribute()
		if err != nil {
			t.Errorf("attr %v: unexpected error %v", tt.attr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("attr %v: Attribute() = %q, want %q", tt.attr, got, tt.want)
		}
		if ev.AttributeID() != int(tt.attr) {
			t.Errorf("attr %v: AttributeID() = %d", tt.attr, ev.AttributeID())
		}
	}
}

func TestStateEvent_UnknownAttribute(t *testing.T) {
	for _, attr := range []float64{0, 7, 42, -1} {
		ev := NewStateEvent(map[string]interface{}{"attr": attr, "value": 1.0})
		if _, err := ev.Attribute(); !errors.Is(err, ErrKeyLookup) {
			t.Errorf("attr %v: err = %v, want ErrKeyLookup", attr, err)
		}
	}

	// Missing attr is also a lookup failure
	ev := NewStateEvent(map[string]interface{}{"value": 1.0})
	if _, err := ev.Attribute(); !errors.Is(err, ErrKeyLookup) {
		t.Errorf("missing attr: err = %v, want ErrKeyLookup", err)
	}
}

func TestLayoutEvent_Attribute(t *testing.T) {
	ev := NewLayoutEvent(map[string]interface{}{"attr": 1.0})
	if got, err := ev.Attribute(); err != nil || got != "layout" {
		t.Errorf("Attribute() = (%q, %v), want layout", got, err)
	}
	ev = NewLayoutEvent(map[string]interface{}{"attr": 2.0})
	if got, err := ev.Attribute(); err != nil || got != "global_orientation" {
		t.Errorf("Attribute() = (%q, %v), want global_orientation", got, err)
	}
	ev = NewLayoutEvent(map[string]interface{}{"attr": 3.0})
	if _, err := ev.Attribute(); !errors.Is(err, ErrKeyLookup) {
		t.Errorf("err = %v, want ErrKeyLookup", err)
	}
}

func TestEffectsEvent_Effect(t *testing.T) {
	ev := NewEffectsEvent(map[string]interface{}{"attr": 1.0, "value": "Northern Lights"})
	if ev.Effect() != "Northern Lights" {
		t.Errorf("Effect() = %q", ev.Effect())
	}
	if ev.AttributeID() != 1 {
		t.Errorf("AttributeID() = %d, want 1", ev.AttributeID())
	}
}

func TestTouchEvent(t *testing.T) {
	tests := []struct {
		gesture float64
		want    string
	}{
		{0, "Single Tap"},
		{1, "Double Tap"},
		{2, "Swipe Up"},
		{3, "Swipe Down"},
		{4, "Swipe Left"},
		{5, "Swipe Right"},
		{6, "6"},
	}
	for _, tt := range tests {
		ev := NewTouchEvent(map[string]interface{}{"gesture": tt.gesture, "panelId": 12.0})
		if got := ev.Gesture(); got != tt.want {
			t.Errorf("gesture %v: Gesture() = %q, want %q", tt.gesture, got, tt.want)
		}
	}

	ev := NewTouchEvent(map[string]interface{}{"gesture": 0.0, "panelId": 12.0})
	if id, ok := ev.PanelID(); !ok || id != 12 {
		t.Errorf("PanelID() = (%d, %v), want (12, true)", id, ok)
	}

	ev = NewTouchEvent(map[string]interface{}{"gesture": 2.0, "panelId": -1.0})
	if _, ok := ev.PanelID(); ok {
		t.Error("panelId -1 should be absent")
	}
}

func TestParseEventType(t *testing.T) {
	for id, want := range map[int]EventType{1: EventTypeState, 2: EventTypeLayout, 3: EventTypeEffects, 4: EventTypeTouch} {
		got, err := ParseEventType(id)
		if err != nil || got != want {
			t.Errorf("ParseEventType(%d) = (%v, %v), want %v", id, got, err, want)
		}
	}
	for _, id := range []int{0, 5, 99} {
		if _, err := ParseEventType(id); !errors.Is(err, ErrUnknownEventType) {
			t.Errorf("ParseEventType(%d): err = %v, want ErrUnknownEventType", id, err)
		}
	}
}

func TestNewEvent(t *testing.T) {
	ev, err := NewEvent(EventTypeEffects, map[string]interface{}{"value": "Flames"})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	eff, ok := ev.(EffectsEvent)
	if !ok {
		t.Fatalf("NewEvent returned %T, want EffectsEvent", ev)
	}
	if eff.Effect() != "Flames" {
		t.Errorf("Effect() = %q", eff.Effect())
	}
	if _, err := NewEvent(EventType(9), nil); !errors.Is(err, ErrUnknownEventType) {
		t.Errorf("err = %v, want ErrUnknownEventType", err)
	}
}
