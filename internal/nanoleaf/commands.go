package nanoleaf

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
)

// Topic names of the state object.
const (
	TopicOn         = "on"
	TopicBrightness = "brightness"
	TopicHue        = "hue"
	TopicSaturation = "sat"
	TopicColorTemp  = "ct"
)

// TopicValue is an absolute or relative write to a numeric topic.
type TopicValue struct {
	Value    int
	Relative bool
	// Duration is the transition time in seconds; only honoured for brightness.
	Duration *int
}

func (v TopicValue) MarshalJSON() ([]byte, error) {
	m := orderedObject{}
	if v.Relative {
		m = m.with("increment", v.Value)
	} else {
		m = m.with("value", v.Value)
	}
	if v.Duration != nil {
		m = m.with("duration", *v.Duration)
	}
	return m.MarshalJSON()
}

// StateUpdate writes several topics in one request. Nil fields are not sent.
type StateUpdate struct {
	On               *bool
	Brightness       *TopicValue
	Hue              *TopicValue
	Saturation       *TopicValue
	ColorTemperature *TopicValue
}

// Empty reports whether the update writes nothing.
func (u StateUpdate) Empty() bool {
	return u.On == nil && u.Brightness == nil && u.Hue == nil && u.Saturation == nil && u.ColorTemperature == nil
}

// MarshalJSON keeps "on" as the last key; the device applies topics in order.
func (u StateUpdate) MarshalJSON() ([]byte, error) {
	m := orderedObject{}
	if u.Brightness != nil {
		m = m.with(TopicBrightness, *u.Brightness)
	}
	if u.ColorTemperature != nil {
		m = m.with(TopicColorTemp, *u.ColorTemperature)
	}
	if u.Hue != nil {
		m = m.with(TopicHue, *u.Hue)
	}
	if u.Saturation != nil {
		m = m.with(TopicSaturation, *u.Saturation)
	}
	if u.On != nil {
		m = m.with(TopicOn, map[string]bool{"value": *u.On})
	}
	return m.MarshalJSON()
}

// SetState writes a state update. An empty update is a no-op.
func (c *Client) SetState(ctx context.Context, update StateUpdate) error {
	if update.Empty() {
		return nil
	}
	resp, err := c.request(ctx, http.MethodPut, "state", update)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// SetBrightness sets absolute or relative brightness, with an optional transition in seconds.
func (c *Client) SetBrightness(ctx context.Context, brightness int, relative bool, transition *int) error {
	return c.SetState(ctx, StateUpdate{Brightness: &TopicValue{Value: brightness, Relative: relative, Duration: transition}})
}

// SetHue sets absolute or relative hue.
func (c *Client) SetHue(ctx context.Context, hue int, relative bool) error {
	return c.SetState(ctx, StateUpdate{Hue: &TopicValue{Value: hue, Relative: relative}})
}

// SetSaturation sets absolute or relative saturation.
func (c *Client) SetSaturation(ctx context.Context, saturation int, relative bool) error {
	return c.SetState(ctx, StateUpdate{Saturation: &TopicValue{Value: saturation, Relative: relative}})
}

// SetColorTemperature sets absolute or relative color temperature.
func (c *Client) SetColorTemperature(ctx context.Context, ct int, relative bool) error {
	return c.SetState(ctx, StateUpdate{ColorTemperature: &TopicValue{Value: ct, Relative: relative}})
}

// TurnOn switches the device on.
func (c *Client) TurnOn(ctx context.Context) error {
	on := true
	return c.SetState(ctx, StateUpdate{On: &on})
}

// TurnOff switches the device off. With a transition, brightness is faded to 0 instead.
func (c *Client) TurnOff(ctx context.Context, transition *int) error {
	if transition != nil {
		return c.SetBrightness(ctx, 0, false, transition)
	}
	off := false
	return c.SetState(ctx, StateUpdate{On: &off})
}

type orderedField struct {
	key   string
	value interface{}
}

// orderedObject marshals to a JSON object preserving insertion order.
type orderedObject []orderedField

func (o orderedObject) with(key string, value interface{}) orderedObject {
	return append(o, orderedField{key: key, value: value})
}

func (o orderedObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
