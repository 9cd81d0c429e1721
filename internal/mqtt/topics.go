package mqtt

import (
	"fmt"
	"strings"
)

// Topics builds the topic tree of one device:
//
//	<prefix>/<device>/status         online/offline (retained, LWT)
//	<prefix>/<device>/state          cached device state (retained)
//	<prefix>/<device>/event/<kind>   device events
//	<prefix>/<device>/set            commands
type Topics struct {
	Prefix string
	Device string
}

// NewTopics normalizes the device name into a single topic level.
func NewTopics(prefix, device string) Topics {
	return Topics{
		Prefix: strings.TrimRight(prefix, "/"),
		Device: TopicSafe(device),
	}
}

func (t Topics) base() string {
	return fmt.Sprintf("%s/%s", t.Prefix, t.Device)
}

// Status returns the availability topic.
func (t Topics) Status() string {
	return t.base() + "/status"
}

// State returns the retained state topic.
func (t Topics) State() string {
	return t.base() + "/state"
}

// Event returns the topic for one event kind.
func (t Topics) Event(kind string) string {
	return fmt.Sprintf("%s/event/%s", t.base(), kind)
}

// Command returns the topic commands are received on.
func (t Topics) Command() string {
	return t.base() + "/set"
}

// TopicSafe lowercases s and replaces characters that are not valid inside a topic level.
func TopicSafe(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', ' ', 0:
			return '_'
		}
		return r
	}, s)
}
