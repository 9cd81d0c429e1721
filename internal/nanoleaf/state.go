package nanoleaf

import (
	"fmt"
	"sync"
)

// Range is a numeric state topic with its bounds.
type Range struct {
	Value int `json:"value"`
	Min   int `json:"min"`
	Max   int `json:"max"`
}

// Snapshot is a point-in-time copy of the cached device state.
type Snapshot struct {
	Name             string         `json:"name"`
	SerialNo         string         `json:"serial_no"`
	Manufacturer     string         `json:"manufacturer"`
	FirmwareVersion  string         `json:"firmware_version"`
	HardwareVersion  string         `json:"hardware_version,omitempty"`
	Model            string         `json:"model"`
	IsOn             bool           `json:"is_on"`
	Brightness       Range          `json:"brightness"`
	Hue              Range          `json:"hue"`
	Saturation       Range          `json:"saturation"`
	ColorTemperature Range          `json:"color_temperature"`
	ColorMode        string         `json:"color_mode"`
	EffectsList      []string       `json:"effects_list"`
	Effect           string         `json:"effect"`
	Palette          []PaletteColor `json:"palette,omitempty"`
	Panels           PanelSet       `json:"-"`
}

// SelectedEffect returns the effect only if it is present in the effects list.
func (s Snapshot) SelectedEffect() (string, bool) {
	for _, name := range s.EffectsList {
		if name == s.Effect {
			return s.Effect, true
		}
	}
	return "", false
}

// State is the in-memory mirror of the device. It is replaced by a full info
// fetch and patched field by field by inbound events.
//
// Every accessor and write locks on its own: a batch of several patches is not
// atomic and readers may observe it half applied.
type State struct {
	mu     sync.RWMutex
	s      Snapshot
	loaded bool
}

// NewState creates an empty state cache.
func NewState() *State {
	return &State{}
}

// Replace overwrites the cache from a full info fetch.
func (st *State) Replace(info InfoData) error {
	panels, err := NewPanelSet(info.PanelLayout.Layout.PositionData)
	if err != nil {
		return err
	}

	effects := make([]string, len(info.Effects.EffectsList))
	copy(effects, info.Effects.EffectsList)

	st.mu.Lock()
	defer st.mu.Unlock()

	// The palette belongs to the effect it was fetched for
	var palette []PaletteColor
	if info.Effects.Select == st.s.Effect {
		palette = st.s.Palette
	}
	st.s = Snapshot{
		Name:             info.Name,
		SerialNo:         info.SerialNo,
		Manufacturer:     info.Manufacturer,
		FirmwareVersion:  info.FirmwareVersion,
		HardwareVersion:  info.HardwareVersion,
		Model:            info.Model,
		IsOn:             info.State.On.Value,
		Brightness:       rangeOf(info.State.Brightness),
		Hue:              rangeOf(info.State.Hue),
		Saturation:       rangeOf(info.State.Sat),
		ColorTemperature: rangeOf(info.State.Ct),
		ColorMode:        info.State.ColorMode,
		EffectsList:      effects,
		Effect:           info.Effects.Select,
		Palette:          palette,
		Panels:           panels,
	}
	st.loaded = true
	return nil
}

func rangeOf(v ValueWithRange) Range {
	return Range{Value: v.Value, Min: v.Min, Max: v.Max}
}

// stateSetters maps each state attribute to the cache field it writes.
var stateSetters = map[StateAttribute]func(s *Snapshot, value interface{}) error{
	AttrIsOn: func(s *Snapshot, value interface{}) error {
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("is_on: expected bool, got %T", value)
		}
		s.IsOn = v
		return nil
	},
	AttrBrightness: func(s *Snapshot, value interface{}) error {
		return setRangeValue(&s.Brightness, "brightness", value)
	},
	AttrHue: func(s *Snapshot, value interface{}) error {
		return setRangeValue(&s.Hue, "hue", value)
	},
	AttrSaturation: func(s *Snapshot, value interface{}) error {
		return setRangeValue(&s.Saturation, "saturation", value)
	},
	AttrColorTemperature: func(s *Snapshot, value interface{}) error {
		return setRangeValue(&s.ColorTemperature, "color_temperature", value)
	},
	AttrColorMode: func(s *Snapshot, value interface{}) error {
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("color_mode: expected string, got %T", value)
		}
		s.ColorMode = v
		return nil
	},
}

func setRangeValue(r *Range, name string, value interface{}) error {
	switch v := value.(type) {
	case float64:
		r.Value = int(v)
	case int:
		r.Value = v
	default:
		return fmt.Errorf("%s: expected number, got %T", name, value)
	}
	return nil
}

// Patch writes a single attribute. Fields the attribute does not name are untouched.
func (st *State) Patch(attr StateAttribute, value interface{}) error {
	set, ok := stateSetters[attr]
	if !ok {
		_, err := attr.Name()
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return set(&st.s, value)
}

// SetEffect writes the current effect name. A cached palette is dropped when
// the effect changes.
func (st *State) SetEffect(name string) {
	st.mu.Lock()
	if name != st.s.Effect {
		st.s.Palette = nil
	}
	st.s.Effect = name
	st.mu.Unlock()
}

// SetEffectsList replaces the list of available effects.
func (st *State) SetEffectsList(list []string) {
	list = append([]string(nil), list...)
	st.mu.Lock()
	st.s.EffectsList = list
	st.mu.Unlock()
}

// SetPalette stores the palette of effect if it is the current effect.
// It reports whether the palette was stored.
func (st *State) SetPalette(effect string, palette []PaletteColor) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if effect != st.s.Effect {
		return false
	}
	st.s.Palette = append([]PaletteColor(nil), palette...)
	return true
}

// Loaded reports whether a full fetch has been applied.
func (st *State) Loaded() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.loaded
}

// Snapshot returns a copy of the cached state.
func (st *State) Snapshot() Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s := st.s
	s.EffectsList = append([]string(nil), st.s.EffectsList...)
	s.Palette = append([]PaletteColor(nil), st.s.Palette...)
	return s
}

// SelectedEffect is recomputed from the current effect and effects list on every call.
func (st *State) SelectedEffect() (string, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.SelectedEffect()
}

// HasEffect reports whether name is in the effects list.
func (st *State) HasEffect(name string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	for _, e := range st.s.EffectsList {
		if e == name {
			return true
		}
	}
	return false
}

func (st *State) Name() string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.Name
}

func (st *State) SerialNo() string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.SerialNo
}

func (st *State) Model() string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.Model
}

func (st *State) FirmwareVersion() string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.FirmwareVersion
}

func (st *State) IsOn() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.IsOn
}

func (st *State) Brightness() Range {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.Brightness
}

func (st *State) Hue() Range {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.Hue
}

func (st *State) Saturation() Range {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.Saturation
}

func (st *State) ColorTemperature() Range {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.ColorTemperature
}

func (st *State) ColorMode() string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.ColorMode
}

func (st *State) Effect() string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.Effect
}

func (st *State) EffectsList() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return append([]string(nil), st.s.EffectsList...)
}

func (st *State) Panels() PanelSet {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.Panels
}
