package nanoleaf

import (
	"fmt"
	"strconv"
)

// EventType is the SSE event type id.
type EventType int

const (
	EventTypeState   EventType = 1
	EventTypeLayout  EventType = 2
	EventTypeEffects EventType = 3
	EventTypeTouch   EventType = 4
)

// String returns the event kind name.
func (t EventType) String() string {
	switch t {
	case EventTypeState:
		return "state"
	case EventTypeLayout:
		return "layout"
	case EventTypeEffects:
		return "effects"
	case EventTypeTouch:
		return "touch"
	default:
		return strconv.Itoa(int(t))
	}
}

// ParseEventType validates a raw SSE event type id.
func ParseEventType(id int) (EventType, error) {
	switch t := EventType(id); t {
	case EventTypeState, EventTypeLayout, EventTypeEffects, EventTypeTouch:
		return t, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownEventType, id)
	}
}

// StateAttribute identifies the state topic carried by a StateEvent.
type StateAttribute int

const (
	AttrIsOn             StateAttribute = 1
	AttrBrightness       StateAttribute = 2
	AttrHue              StateAttribute = 3
	AttrSaturation       StateAttribute = 4
	AttrColorTemperature StateAttribute = 5
	AttrColorMode        StateAttribute = 6
)

// Name returns the semantic attribute name.
func (a StateAttribute) Name() (string, error) {
	switch a {
	case AttrIsOn:
		return "is_on", nil
	case AttrBrightness:
		return "brightness", nil
	case AttrHue:
		return "hue", nil
	case AttrSaturation:
		return "saturation", nil
	case AttrColorTemperature:
		return "color_temperature", nil
	case AttrColorMode:
		return "color_mode", nil
	default:
		return "", fmt.Errorf("%w: state attribute %d", ErrKeyLookup, int(a))
	}
}

// LayoutAttribute identifies what changed in a LayoutEvent.
type LayoutAttribute int

const (
	AttrLayout            LayoutAttribute = 1
	AttrGlobalOrientation LayoutAttribute = 2
)

// Name returns the semantic attribute name.
func (a LayoutAttribute) Name() (string, error) {
	switch a {
	case AttrLayout:
		return "layout", nil
	case AttrGlobalOrientation:
		return "global_orientation", nil
	default:
		return "", fmt.Errorf("%w: layout attribute %d", ErrKeyLookup, int(a))
	}
}

// Gesture is the touch gesture reported by a TouchEvent.
type Gesture int

const (
	GestureSingleTap  Gesture = 0
	GestureDoubleTap  Gesture = 1
	GestureSwipeUp    Gesture = 2
	GestureSwipeDown  Gesture = 3
	GestureSwipeLeft  Gesture = 4
	GestureSwipeRight Gesture = 5
)

// String returns the gesture name, or the numeric id for unknown gestures.
func (g Gesture) String() string {
	switch g {
	case GestureSingleTap:
		return "Single Tap"
	case GestureDoubleTap:
		return "Double Tap"
	case GestureSwipeUp:
		return "Swipe Up"
	case GestureSwipeDown:
		return "Swipe Down"
	case GestureSwipeLeft:
		return "Swipe Left"
	case GestureSwipeRight:
		return "Swipe Right"
	default:
		return strconv.Itoa(int(g))
	}
}

// Event is implemented by StateEvent, LayoutEvent, EffectsEvent and TouchEvent.
type Event interface {
	Type() EventType
	Raw() map[string]interface{}
}

// NewEvent builds the Event variant for an SSE type id.
func NewEvent(t EventType, data map[string]interface{}) (Event, error) {
	switch t {
	case EventTypeState:
		return StateEvent{data: data}, nil
	case EventTypeLayout:
		return LayoutEvent{data: data}, nil
	case EventTypeEffects:
		return EffectsEvent{data: data}, nil
	case EventTypeTouch:
		return TouchEvent{data: data}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownEventType, int(t))
	}
}

// StateEvent reports a change of one state topic.
type StateEvent struct {
	data map[string]interface{}
}

// NewStateEvent wraps a decoded state event record.
func NewStateEvent(data map[string]interface{}) StateEvent {
	return StateEvent{data: data}
}

func (e StateEvent) Type() EventType                { return EventTypeState }
func (e StateEvent) Raw() map[string]interface{}    { return e.data }
func (e StateEvent) AttributeID() int               { return intField(e.data, "attr", 0) }
func (e StateEvent) StateAttribute() StateAttribute { return StateAttribute(e.AttributeID()) }

// Attribute returns the semantic attribute name, or ErrKeyLookup.
func (e StateEvent) Attribute() (string, error) {
	return e.StateAttribute().Name()
}

// Value is the new value of the attribute: bool, float64 or string as decoded from JSON.
func (e StateEvent) Value() interface{} {
	return e.data["value"]
}

// LayoutEvent reports a layout or orientation change.
type LayoutEvent struct {
	data map[string]interface{}
}

// NewLayoutEvent wraps a decoded layout event record.
func NewLayoutEvent(data map[string]interface{}) LayoutEvent {
	return LayoutEvent{data: data}
}

func (e LayoutEvent) Type() EventType             { return EventTypeLayout }
func (e LayoutEvent) Raw() map[string]interface{} { return e.data }
func (e LayoutEvent) AttributeID() int            { return intField(e.data, "attr", 0) }

// Attribute returns the semantic attribute name, or ErrKeyLookup.
func (e LayoutEvent) Attribute() (string, error) {
	return LayoutAttribute(e.AttributeID()).Name()
}

// EffectsEvent reports a change of the selected effect.
type EffectsEvent struct {
	data map[string]interface{}
}

// NewEffectsEvent wraps a decoded effects event record.
func NewEffectsEvent(data map[string]interface{}) EffectsEvent {
	return EffectsEvent{data: data}
}

func (e EffectsEvent) Type() EventType             { return EventTypeEffects }
func (e EffectsEvent) Raw() map[string]interface{} { return e.data }
func (e EffectsEvent) AttributeID() int            { return intField(e.data, "attr", 0) }

// Effect returns the newly selected effect name.
func (e EffectsEvent) Effect() string {
	s, _ := e.data["value"].(string)
	return s
}

// TouchEvent reports a gesture recognised by the device.
type TouchEvent struct {
	data map[string]interface{}
}

// NewTouchEvent wraps a decoded touch event record.
func NewTouchEvent(data map[string]interface{}) TouchEvent {
	return TouchEvent{data: data}
}

func (e TouchEvent) Type() EventType             { return EventTypeTouch }
func (e TouchEvent) Raw() map[string]interface{} { return e.data }
func (e TouchEvent) GestureID() Gesture          { return Gesture(intField(e.data, "gesture", -1)) }

// Gesture returns the gesture name.
func (e TouchEvent) Gesture() string {
	return e.GestureID().String()
}

// PanelID returns the panel the gesture happened on; false for whole-device gestures.
func (e TouchEvent) PanelID() (int, bool) {
	id := intField(e.data, "panelId", -1)
	if id == -1 {
		return 0, false
	}
	return id, true
}

func intField(data map[string]interface{}, key string, def int) int {
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return def
	}
}
