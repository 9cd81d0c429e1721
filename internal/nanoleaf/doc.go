// Package nanoleaf is a client for Nanoleaf-style lighting controllers.
//
// It covers the local REST API (port 16021), the server-sent event stream used to
// keep a State cache in sync, the UDP touch telemetry stream and the realtime
// external-control paint protocol.
//
// EventStream.Listen is the long-lived part: it reconnects forever with a fixed
// backoff and only returns on context cancellation or ErrInvalidToken.
package nanoleaf
