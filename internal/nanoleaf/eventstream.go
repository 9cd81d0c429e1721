package nanoleaf

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrAlreadyListening is returned when Listen is called while another Listen is running.
var ErrAlreadyListening = errors.New("nanoleaf: event stream already listening")

// TouchEventsPortHeader advertises the client's touch stream UDP port to the device.
const TouchEventsPortHeader = "TouchEventsPort"

// maxFrameSize bounds a single SSE line.
const maxFrameSize = 1 << 20

// EngineState is the lifecycle state of an EventStream.
type EngineState int32

const (
	EngineIdle EngineState = iota
	EngineConnecting
	EngineStreaming
	EngineBackoff
	EngineStopped
)

func (s EngineState) String() string {
	switch s {
	case EngineIdle:
		return "idle"
	case EngineConnecting:
		return "connecting"
	case EngineStreaming:
		return "streaming"
	case EngineBackoff:
		return "backoff"
	case EngineStopped:
		return "stopped"
	default:
		return strconv.Itoa(int(s))
	}
}

// EventStreamConfig contains configuration for the event stream.
type EventStreamConfig struct {
	Backoff             time.Duration    // Fixed wait between reconnect attempts
	ConnectTimeout      time.Duration    // Dial and response header timeout; the body has no read timeout
	MaxImmediateRetries int              // Immediate retries when the device drops the first request of an attempt
	TouchStreamPort     int              // Local UDP port for touch telemetry, 0 = ephemeral
	TouchDecoder        TelemetryDecoder // Touch telemetry decoder
	RefreshOnConnect    bool             // Refetch the full snapshot after every (re)connect
}

// DefaultEventStreamConfig returns the defaults used by the device integration.
func DefaultEventStreamConfig() EventStreamConfig {
	return EventStreamConfig{
		Backoff:             5 * time.Second,
		ConnectTimeout:      5 * time.Second,
		MaxImmediateRetries: 1,
		TouchDecoder:        DefaultTelemetryDecoder,
	}
}

// EventStream consumes the device's server-sent event stream, keeps State in sync
// and dispatches callbacks. It reconnects forever until cancelled.
type EventStream struct {
	client     *Client
	state      *State
	config     EventStreamConfig
	httpClient *http.Client
	dispatcher *Dispatcher

	status        atomic.Int32
	running       atomic.Bool
	onStateChange func(EngineState)
}

// NewEventStream creates an event stream listener for client, patching state.
func NewEventStream(client *Client, state *State, config EventStreamConfig) *EventStream {
	if config.Backoff <= 0 {
		config.Backoff = 5 * time.Second
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 5 * time.Second
	}
	if config.MaxImmediateRetries < 0 {
		config.MaxImmediateRetries = 0
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: config.ConnectTimeout}).DialContext,
		ResponseHeaderTimeout: config.ConnectTimeout,
	}

	return &EventStream{
		client: client,
		state:  state,
		config: config,
		httpClient: &http.Client{
			Transport: transport,
			// No timeout for SSE - it's a long-lived connection
		},
		dispatcher: NewDispatcher(nil),
	}
}

// SetErrorHandler replaces the handler for callback failures. Call before Listen.
func (e *EventStream) SetErrorHandler(h ErrorHandler) {
	e.dispatcher = NewDispatcher(h)
}

// OnStateChange registers a hook called on every engine state transition. Call before Listen.
func (e *EventStream) OnStateChange(fn func(EngineState)) {
	e.onStateChange = fn
}

// State returns the current engine state.
func (e *EventStream) State() EngineState {
	return EngineState(e.status.Load())
}

func (e *EventStream) setState(s EngineState) {
	if EngineState(e.status.Swap(int32(s))) == s {
		return
	}
	if e.onStateChange != nil {
		e.onStateChange(s)
	}
}

// Listen streams events until ctx is cancelled (returns nil) or the device rejects
// the token (returns ErrInvalidToken). Every other failure is retried after Backoff.
func (e *EventStream) Listen(ctx context.Context, cb Callbacks) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyListening
	}
	defer e.running.Store(false)

	if _, err := e.client.Token(); err != nil {
		return err
	}
	defer e.setState(EngineStopped)
	// In-flight callbacks finish before Listen returns
	defer e.dispatcher.Wait()

	var listener *TouchListener
	if cb.TouchStream != nil {
		var err error
		listener, err = ListenTouchStream(e.config.TouchStreamPort, e.config.TouchDecoder, func(ev TouchStreamEvent) {
			e.dispatcher.Go(ctx, "touch_stream", func(ctx context.Context) error {
				return cb.TouchStream(ctx, ev)
			})
		})
		if err != nil {
			return err
		}
		readerDone := make(chan struct{})
		go func() {
			listener.Run(ctx)
			close(readerDone)
		}()
		defer func() {
			listener.Close()
			<-readerDone
		}()
	}

	touchPort := 0
	if listener != nil {
		touchPort = listener.Port()
	}
	path := eventsPath(cb, touchPort != 0)
	retryCount := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		e.setState(EngineConnecting)
		var err error
		if listener != nil {
			// The device address may change between attempts
			err = listener.SetDeviceHost(ctx, e.client.Host())
		}
		if err == nil {
			err = e.connect(ctx, path, touchPort, cb)
		}
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrInvalidToken) {
			log.Error().Msg("Event stream: device rejected auth token, stopping")
			return err
		}

		retryCount++
		e.setState(EngineBackoff)
		log.Warn().
			Err(err).
			Dur("backoff", e.config.Backoff).
			Int("retry", retryCount).
			Msg("Event stream disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(e.config.Backoff):
		}
	}
}

// eventsPath builds the subscription path. State and effects are always requested
// so the cache stays in sync.
func eventsPath(cb Callbacks, touchStream bool) string {
	ids := []string{
		strconv.Itoa(int(EventTypeState)),
		strconv.Itoa(int(EventTypeEffects)),
	}
	if cb.Layout != nil {
		ids = append(ids, strconv.Itoa(int(EventTypeLayout)))
	}
	if cb.Touch != nil || touchStream {
		ids = append(ids, strconv.Itoa(int(EventTypeTouch)))
	}
	return "events?id=" + strings.Join(ids, ",")
}

func (e *EventStream) connect(ctx context.Context, path string, touchPort int, cb Callbacks) error {
	url, err := e.client.authURL(path)
	if err != nil {
		return err
	}
	attemptID := uuid.NewString()

	newRequest := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/event-stream")
		if touchPort != 0 {
			req.Header.Set(TouchEventsPortHeader, strconv.Itoa(touchPort))
		}
		return req, nil
	}

	resp, err := doWithImmediateRetry(ctx, e.httpClient, newRequest, e.config.MaxImmediateRetries)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp, http.MethodGet, "/events"); err != nil {
		return err
	}

	e.setState(EngineStreaming)
	log.Info().
		Str("attempt", attemptID).
		Str("host", e.client.Host()).
		Int("touch_port", touchPort).
		Msg("Connected to device event stream")

	if e.config.RefreshOnConnect {
		if err := e.client.Refresh(ctx, e.state); err != nil {
			log.Warn().Err(err).Str("attempt", attemptID).Msg("Failed to refresh device state after connect")
		}
	}

	err = e.readFrames(ctx, resp.Body, cb)
	log.Debug().Err(err).Str("attempt", attemptID).Msg("Event stream attempt ended")
	return err
}

// readFrames parses "id:" / "data:" / blank-line frames until the body ends.
func (e *EventStream) readFrames(ctx context.Context, body io.Reader, cb Callbacks) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	var (
		eventID int
		haveID  bool
		data    strings.Builder
	)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		switch {
		case line == "":
			// Empty line marks end of frame
			if !haveID && data.Len() == 0 {
				continue
			}
			if !haveID {
				return fmt.Errorf("event stream frame without id line")
			}
			if err := e.processFrame(ctx, eventID, data.String(), cb); err != nil {
				return err
			}
			haveID = false
			data.Reset()

		case strings.HasPrefix(line, ":"):
			// Comment / heartbeat
			continue

		case strings.HasPrefix(line, "id:"):
			raw := strings.TrimSpace(strings.TrimPrefix(line, "id:"))
			id, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("invalid event id %q: %w", raw, err)
			}
			eventID = id
			haveID = true

		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))

		default:
			log.Trace().Str("line", line).Msg("Ignoring unknown event stream line")
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}

func (e *EventStream) processFrame(ctx context.Context, id int, data string, cb Callbacks) error {
	eventType, err := ParseEventType(id)
	if err != nil {
		return err
	}

	var payload struct {
		Events []map[string]interface{} `json:"events"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return fmt.Errorf("failed to parse %s event payload: %w", eventType, err)
	}

	for _, record := range payload.Events {
		e.handleRecord(ctx, eventType, record, cb)
	}
	return nil
}

func (e *EventStream) handleRecord(ctx context.Context, eventType EventType, record map[string]interface{}, cb Callbacks) {
	switch eventType {
	case EventTypeState:
		ev := NewStateEvent(record)
		if err := e.state.Patch(ev.StateAttribute(), ev.Value()); err != nil {
			log.Warn().
				Err(err).
				Int("attr", ev.AttributeID()).
				Interface("value", ev.Value()).
				Msg("State event not applied to cache")
		} else {
			log.Debug().
				Int("attr", ev.AttributeID()).
				Interface("value", ev.Value()).
				Msg("State event")
		}
		if cb.State != nil {
			e.dispatcher.Go(ctx, "state", func(ctx context.Context) error {
				return cb.State(ctx, ev)
			})
		}

	case EventTypeEffects:
		ev := NewEffectsEvent(record)
		e.state.SetEffect(ev.Effect())
		log.Debug().Str("effect", ev.Effect()).Msg("Effects event")
		if cb.Effects != nil {
			e.dispatcher.Go(ctx, "effects", func(ctx context.Context) error {
				return cb.Effects(ctx, ev)
			})
		}

	case EventTypeLayout:
		ev := NewLayoutEvent(record)
		log.Debug().Int("attr", ev.AttributeID()).Msg("Layout event")
		if cb.Layout != nil {
			e.dispatcher.Go(ctx, "layout", func(ctx context.Context) error {
				return cb.Layout(ctx, ev)
			})
		}

	case EventTypeTouch:
		ev := NewTouchEvent(record)
		log.Debug().Str("gesture", ev.Gesture()).Msg("Touch event")
		if cb.Touch != nil {
			e.dispatcher.Go(ctx, "touch", func(ctx context.Context) error {
				return cb.Touch(ctx, ev)
			})
		}
	}
}
