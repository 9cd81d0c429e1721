package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/dokzlo13/leafd/internal/nanoleaf"
)

// Command is the JSON payload accepted on the command topic.
// Every field is optional; at least one must be set.
//
//	{"on": true, "brightness": 40, "transition": 2}
//	{"brightness": -10, "relative": true}
//	{"effect": "Northern Lights"}
type Command struct {
	On               *bool   `json:"on,omitempty"`
	Brightness       *int    `json:"brightness,omitempty"`
	Hue              *int    `json:"hue,omitempty"`
	Saturation       *int    `json:"sat,omitempty"`
	ColorTemperature *int    `json:"ct,omitempty"`
	Relative         bool    `json:"relative,omitempty"`   // values are increments
	Transition       *int    `json:"transition,omitempty"` // seconds, brightness only
	Effect           *string `json:"effect,omitempty"`
	Identify         bool    `json:"identify,omitempty"`
}

// ParseCommand decodes and validates a command payload.
func ParseCommand(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if cmd.On == nil && cmd.Brightness == nil && cmd.Hue == nil && cmd.Saturation == nil &&
		cmd.ColorTemperature == nil && cmd.Effect == nil && !cmd.Identify {
		return Command{}, fmt.Errorf("%w: no fields set", ErrInvalidCommand)
	}
	if cmd.Transition != nil && *cmd.Transition < 0 {
		return Command{}, fmt.Errorf("%w: transition must be >= 0", ErrInvalidCommand)
	}
	if cmd.Effect != nil && *cmd.Effect == "" {
		return Command{}, fmt.Errorf("%w: effect name is empty", ErrInvalidCommand)
	}
	return cmd, nil
}

// StateUpdate returns the state write the command describes. Effect and
// identify are separate requests and are not part of it.
func (c Command) StateUpdate() nanoleaf.StateUpdate {
	topic := func(v *int, duration *int) *nanoleaf.TopicValue {
		if v == nil {
			return nil
		}
		return &nanoleaf.TopicValue{Value: *v, Relative: c.Relative, Duration: duration}
	}
	return nanoleaf.StateUpdate{
		On:               c.On,
		Brightness:       topic(c.Brightness, c.Transition),
		Hue:              topic(c.Hue, nil),
		Saturation:       topic(c.Saturation, nil),
		ColorTemperature: topic(c.ColorTemperature, nil),
	}
}
