package nanoleaf

import (
	"errors"
	"fmt"
)

// Errors returned by the client and the event stream.
// Use errors.Is() to check for them.
var (
	// ErrUnavailable is returned when the device cannot be reached (connect error or timeout).
	ErrUnavailable = errors.New("nanoleaf: device unavailable")

	// ErrInvalidToken is returned on HTTP 401. Retrying with the same token cannot succeed.
	ErrInvalidToken = errors.New("nanoleaf: invalid auth token")

	// ErrUnauthorized is returned by Authorize when the device is not in pairing mode.
	ErrUnauthorized = errors.New("nanoleaf: not authorizing new tokens, hold the on-off button for 5-7 seconds and retry within 30 seconds")

	// ErrNoAuthToken is returned before any I/O when no token is configured.
	ErrNoAuthToken = errors.New("nanoleaf: no auth token, authorize or set a token first")

	// ErrInvalidEffect is returned when an effect is not in the cached effects list.
	ErrInvalidEffect = errors.New("nanoleaf: invalid effect")

	// ErrMalformedTelemetry is returned when a touch stream datagram cannot be decoded.
	ErrMalformedTelemetry = errors.New("nanoleaf: malformed touch telemetry")

	// ErrUnknownEventType is returned for an SSE event type id outside the known kinds.
	ErrUnknownEventType = errors.New("nanoleaf: unknown event type")

	// ErrKeyLookup is returned when an attribute id has no semantic name.
	ErrKeyLookup = errors.New("nanoleaf: unknown attribute id")
)

// StatusError is returned for unexpected non-2xx responses.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("nanoleaf: %s %s: unexpected status code: %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("nanoleaf: %s %s: unexpected status code: %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}
