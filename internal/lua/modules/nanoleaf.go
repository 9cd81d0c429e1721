package modules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/leafd/internal/nanoleaf"
)

// Event kinds a script can subscribe to.
var eventKinds = map[string]bool{
	"state":        true,
	"layout":       true,
	"effects":      true,
	"touch":        true,
	"touch_stream": true,
	"engine":       true,
}

// Commander is the part of the device client scripts can drive.
type Commander interface {
	SetState(ctx context.Context, update nanoleaf.StateUpdate) error
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context, transition *int) error
	SetEffect(ctx context.Context, state *nanoleaf.State, effect string) error
	Identify(ctx context.Context) error
	EnableExternalControl(ctx context.Context) error
}

// Painter sends realtime panel colors.
type Painter interface {
	Paint(ctx context.Context, updates ...nanoleaf.Update) error
}

// Handler is a script callback registered with nanoleaf.on.
type Handler struct {
	Kind    string
	Filters map[string]Matcher
	Fn      *lua.LFunction

	collector Collector
}

// Matches reports whether every filter accepts the event.
func (h *Handler) Matches(event map[string]any) bool {
	for field, m := range h.Filters {
		v, ok := event[field]
		if !ok || v == nil || !m.Matches(fmt.Sprint(v)) {
			return false
		}
	}
	return true
}

// FlushFunc receives the events a batching handler collected.
type FlushFunc func(h *Handler, events []map[string]any)

// NanoleafModule provides the nanoleaf module to Lua.
type NanoleafModule struct {
	device  Commander
	state   *nanoleaf.State
	painter Painter

	mu       sync.Mutex
	handlers []*Handler
	onFlush  FlushFunc
}

// NewNanoleafModule creates the module. painter may be nil when realtime
// paint is disabled.
func NewNanoleafModule(device Commander, state *nanoleaf.State, painter Painter) *NanoleafModule {
	return &NanoleafModule{
		device:  device,
		state:   state,
		painter: painter,
	}
}

// SetFlushFunc sets where debounced handlers deliver their batches.
func (m *NanoleafModule) SetFlushFunc(fn FlushFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFlush = fn
}

// Loader is the module loader for Lua.
func (m *NanoleafModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetFuncs(mod, map[string]lua.LGFunction{
		"on":                    m.on,
		"state":                 m.snapshot,
		"panels":                m.panels,
		"turn_on":               m.turnOn,
		"turn_off":              m.turnOff,
		"set_brightness":        m.setTopic(nanoleaf.TopicBrightness),
		"set_hue":               m.setTopic(nanoleaf.TopicHue),
		"set_saturation":        m.setTopic(nanoleaf.TopicSaturation),
		"set_color_temperature": m.setTopic(nanoleaf.TopicColorTemp),
		"set_effect":            m.setEffect,
		"identify":              m.identify,
		"external_control":      m.externalControl,
		"paint":                 m.paint,
	})

	L.Push(mod)
	return 1
}

// Handlers returns the handlers for kind whose filters accept event.
func (m *NanoleafModule) Handlers(kind string, event map[string]any) []*Handler {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Handler
	for _, h := range m.handlers {
		if h.Kind == kind && h.Matches(event) {
			out = append(out, h)
		}
	}
	return out
}

// Collect hands the event to the handler's collector. It returns false
// for handlers that run immediately.
func (h *Handler) Collect(event map[string]any) bool {
	if h.collector == nil {
		return false
	}
	h.collector.Add(event)
	return true
}

// HandlerCount returns the number of registered handlers.
func (m *NanoleafModule) HandlerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}

// Close stops pending debounce timers.
func (m *NanoleafModule) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.handlers {
		if h.collector != nil {
			h.collector.Close()
		}
	}
}

// on(kind, [filter], fn)
// filter: { <event field> = "pattern", quiet_ms = n, every = n }
// quiet_ms delivers the last event once no new one arrived for n ms,
// every delivers each n-th event. Both add the batch size as "count".
func (m *NanoleafModule) on(L *lua.LState) int {
	kind := L.CheckString(1)
	if !eventKinds[kind] {
		L.ArgError(1, "unknown event kind: "+kind)
		return 0
	}

	var (
		filter *lua.LTable
		fn     *lua.LFunction
	)
	if L.GetTop() >= 3 {
		filter = L.CheckTable(2)
		fn = L.CheckFunction(3)
	} else {
		fn = L.CheckFunction(2)
	}

	h := &Handler{Kind: kind, Filters: make(map[string]Matcher), Fn: fn}
	var (
		quiet time.Duration
		every int
	)
	if filter != nil {
		filter.ForEach(func(k, v lua.LValue) {
			switch key := lua.LVAsString(k); key {
			case "quiet_ms":
				quiet = time.Duration(lua.LVAsNumber(v)) * time.Millisecond
			case "every":
				every = int(lua.LVAsNumber(v))
			default:
				h.Filters[key] = ParseMatcher(lua.LVAsString(v))
			}
		})
	}

	flush := func(events []map[string]any) {
		m.mu.Lock()
		fn := m.onFlush
		m.mu.Unlock()
		if fn != nil {
			fn(h, events)
		}
	}
	switch {
	case every > 1:
		h.collector = NewCountCollector(every, flush)
	case quiet > 0:
		h.collector = NewQuietCollector(quiet, flush)
	}

	m.mu.Lock()
	m.handlers = append(m.handlers, h)
	m.mu.Unlock()

	log.Debug().Str("kind", kind).Int("filters", len(h.Filters)).Dur("quiet", quiet).Msg("Registered Lua handler")
	return 0
}

// state() -> table
func (m *NanoleafModule) snapshot(L *lua.LState) int {
	s := m.state.Snapshot()

	tbl := MapToTable(L, map[string]any{
		"name":              s.Name,
		"serial_no":         s.SerialNo,
		"model":             s.Model,
		"firmware_version":  s.FirmwareVersion,
		"is_on":             s.IsOn,
		"brightness":        s.Brightness.Value,
		"hue":               s.Hue.Value,
		"saturation":        s.Saturation.Value,
		"color_temperature": s.ColorTemperature.Value,
		"color_mode":        s.ColorMode,
		"effect":            s.Effect,
		"effects_list":      s.EffectsList,
	})
	if effect, ok := s.SelectedEffect(); ok {
		tbl.RawSetString("selected_effect", lua.LString(effect))
	}
	L.Push(tbl)
	return 1
}

// panels() -> { {id, x, y, orientation, shape}, ... } ordered by id
func (m *NanoleafModule) panels(L *lua.LState) int {
	set := m.state.Panels()

	tbl := L.NewTable()
	for _, id := range set.IDs() {
		p := set[id]
		tbl.Append(MapToTable(L, map[string]any{
			"id":          p.ID,
			"x":           p.X,
			"y":           p.Y,
			"orientation": p.Orientation,
			"shape":       p.Shape().Name,
		}))
	}
	L.Push(tbl)
	return 1
}

// pushResult follows the Lua convention: true, or nil plus an error message.
func pushResult(L *lua.LState, op string, err error) int {
	if err != nil {
		log.Warn().Err(err).Str("op", op).Msg("Lua device command failed")
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

func optInt(L *lua.LState, tbl *lua.LTable, field string) *int {
	if tbl == nil {
		return nil
	}
	if n, ok := L.GetField(tbl, field).(lua.LNumber); ok {
		v := int(n)
		return &v
	}
	return nil
}

func (m *NanoleafModule) turnOn(L *lua.LState) int {
	return pushResult(L, "turn_on", m.device.TurnOn(contextOf(L)))
}

// turn_off([transition])
func (m *NanoleafModule) turnOff(L *lua.LState) int {
	var transition *int
	if n, ok := L.Get(1).(lua.LNumber); ok {
		v := int(n)
		transition = &v
	}
	return pushResult(L, "turn_off", m.device.TurnOff(contextOf(L), transition))
}

// setTopic builds set_<topic>(value, { relative = bool, transition = n })
func (m *NanoleafModule) setTopic(topic string) lua.LGFunction {
	return func(L *lua.LState) int {
		value := L.CheckInt(1)
		opts := L.OptTable(2, nil)

		tv := nanoleaf.TopicValue{Value: value}
		if opts != nil {
			tv.Relative = lua.LVAsBool(L.GetField(opts, "relative"))
			if topic == nanoleaf.TopicBrightness {
				tv.Duration = optInt(L, opts, "transition")
			}
		}

		var update nanoleaf.StateUpdate
		switch topic {
		case nanoleaf.TopicBrightness:
			update.Brightness = &tv
		case nanoleaf.TopicHue:
			update.Hue = &tv
		case nanoleaf.TopicSaturation:
			update.Saturation = &tv
		case nanoleaf.TopicColorTemp:
			update.ColorTemperature = &tv
		}
		return pushResult(L, "set "+topic, m.device.SetState(contextOf(L), update))
	}
}

func (m *NanoleafModule) setEffect(L *lua.LState) int {
	name := L.CheckString(1)
	return pushResult(L, "set_effect", m.device.SetEffect(contextOf(L), m.state, name))
}

func (m *NanoleafModule) identify(L *lua.LState) int {
	return pushResult(L, "identify", m.device.Identify(contextOf(L)))
}

func (m *NanoleafModule) externalControl(L *lua.LState) int {
	return pushResult(L, "external_control", m.device.EnableExternalControl(contextOf(L)))
}

// paint(panel, "#rrggbb", [transition]) or paint({ {panel=, color=, transition=}, ... })
// transition is in tenths of a second.
func (m *NanoleafModule) paint(L *lua.LState) int {
	if m.painter == nil {
		return pushResult(L, "paint", fmt.Errorf("realtime paint is disabled"))
	}

	var updates []nanoleaf.Update
	if batch, ok := L.Get(1).(*lua.LTable); ok {
		var bad error
		batch.ForEach(func(_, v lua.LValue) {
			entry, ok := v.(*lua.LTable)
			if !ok || bad != nil {
				return
			}
			u, err := paintUpdate(
				int(lua.LVAsNumber(L.GetField(entry, "panel"))),
				lua.LVAsString(L.GetField(entry, "color")),
				int(lua.LVAsNumber(L.GetField(entry, "transition"))),
			)
			if err != nil {
				bad = err
				return
			}
			updates = append(updates, u)
		})
		if bad != nil {
			return pushResult(L, "paint", bad)
		}
	} else {
		u, err := paintUpdate(L.CheckInt(1), L.CheckString(2), L.OptInt(3, 1))
		if err != nil {
			return pushResult(L, "paint", err)
		}
		updates = append(updates, u)
	}

	return pushResult(L, "paint", m.painter.Paint(contextOf(L), updates...))
}

func paintUpdate(panel int, hex string, transition int) (nanoleaf.Update, error) {
	if panel < 0 || panel > 0xFFFF {
		return nanoleaf.Update{}, fmt.Errorf("panel id %d out of range", panel)
	}
	if transition < 0 || transition > 0xFFFF {
		return nanoleaf.Update{}, fmt.Errorf("transition %d out of range", transition)
	}
	color, err := nanoleaf.ColorFromHex(hex)
	if err != nil {
		return nanoleaf.Update{}, err
	}
	return nanoleaf.Update{PanelID: uint16(panel), Color: color, TransitionTime: uint16(transition)}, nil
}
