package nanoleaf

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultPort is the device's HTTP API port.
const DefaultPort = 16021

// ClientConfig contains connection settings for the command API.
type ClientConfig struct {
	Port                int           // API port (default: 16021)
	Timeout             time.Duration // Total request timeout (default: 5s)
	ConnectTimeout      time.Duration // Dial timeout (default: 3s)
	MaxImmediateRetries int           // Immediate retries when the device drops an idle connection
}

// DefaultClientConfig returns defaults matching the device's behaviour.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Port:                DefaultPort,
		Timeout:             5 * time.Second,
		ConnectTimeout:      3 * time.Second,
		MaxImmediateRetries: 1,
	}
}

// Client issues authenticated requests to a single device.
type Client struct {
	host       string
	config     ClientConfig
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// NewClient creates a client for the device at host. token may be empty until Authorize is called.
func NewClient(host, token string, config ClientConfig) *Client {
	def := DefaultClientConfig()
	if config.Port == 0 {
		config.Port = def.Port
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = def.ConnectTimeout
	}
	if config.MaxImmediateRetries < 0 {
		config.MaxImmediateRetries = 0
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: config.ConnectTimeout}).DialContext,
	}

	return &Client{
		host:   host,
		config: config,
		token:  token,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// Host returns the device host.
func (c *Client) Host() string {
	return c.host
}

// Port returns the device API port.
func (c *Client) Port() int {
	return c.config.Port
}

// Address returns host:port.
func (c *Client) Address() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.config.Port))
}

// Token returns the auth token, or ErrNoAuthToken.
func (c *Client) Token() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return "", ErrNoAuthToken
	}
	return c.token, nil
}

// SetToken replaces the auth token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) apiURL() string {
	return fmt.Sprintf("http://%s/api/v1", c.Address())
}

func (c *Client) authURL(path string) (string, error) {
	token, err := c.Token()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s", c.apiURL(), token, path), nil
}

// request performs an authorized request. The body is JSON encoded.
// The caller must close the response body.
func (c *Client) request(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	url, err := c.authURL(path)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	newRequest := func(ctx context.Context) (*http.Request, error) {
		var r io.Reader
		if payload != nil {
			r = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, r)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}

	resp, err := doWithImmediateRetry(ctx, c.httpClient, newRequest, c.config.MaxImmediateRetries)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	if err := checkResponse(resp, method, "/"+path); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// doWithImmediateRetry retries a request up to maxRetries times without delay when the
// peer closed the connection before answering.
func doWithImmediateRetry(
	ctx context.Context,
	client *http.Client,
	newRequest func(context.Context) (*http.Request, error),
	maxRetries int,
) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		req, err := newRequest(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err == nil {
			return resp, nil
		}
		if attempt >= maxRetries || !isPeerDisconnect(err) || ctx.Err() != nil {
			return nil, err
		}
		log.Debug().
			Err(err).
			Str("url", req.URL.Redacted()).
			Int("attempt", attempt+1).
			Msg("Device closed connection, retrying immediately")
	}
}

// isPeerDisconnect reports whether err means the server dropped the connection.
func isPeerDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || isPeerDisconnect(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

func checkResponse(resp *http.Response, method, path string) error {
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrInvalidToken
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

// Authorize requests a new token. The device must be in pairing mode
// (on-off button held for 5-7 seconds, then call within 30 seconds).
func (c *Client) Authorize(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL()+"/new", nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return "", ErrUnauthorized
	}
	if err := checkResponse(resp, http.MethodPost, "/new"); err != nil {
		return "", err
	}

	var result struct {
		AuthToken string `json:"auth_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode authorize response: %w", err)
	}
	if result.AuthToken == "" {
		return "", fmt.Errorf("authorize response carried no auth_token")
	}

	c.SetToken(result.AuthToken)
	log.Info().Str("host", c.host).Msg("Authorized with device")
	return result.AuthToken, nil
}

// Deauthorize revokes the current token on the device and forgets it.
func (c *Client) Deauthorize(ctx context.Context) error {
	resp, err := c.request(ctx, http.MethodDelete, "", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()

	c.SetToken("")
	return nil
}

// GetInfo fetches the full device info.
func (c *Client) GetInfo(ctx context.Context) (*InfoData, error) {
	resp, err := c.request(ctx, http.MethodGet, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var info InfoData
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode device info: %w", err)
	}
	return &info, nil
}

// Refresh fetches the full device info and replaces the cache with it.
func (c *Client) Refresh(ctx context.Context, state *State) error {
	info, err := c.GetInfo(ctx)
	if err != nil {
		return err
	}
	if err := state.Replace(*info); err != nil {
		return err
	}

	log.Debug().
		Str("name", info.Name).
		Str("model", info.Model).
		Int("panels", len(info.PanelLayout.Layout.PositionData)).
		Int("effects", len(info.Effects.EffectsList)).
		Msg("Device state refreshed")
	return nil
}

// Identify makes the device flash.
func (c *Client) Identify(ctx context.Context) error {
	resp, err := c.request(ctx, http.MethodPut, "identify", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// SetEffect selects an effect. The name must be in the cached effects list;
// otherwise ErrInvalidEffect is returned without contacting the device.
func (c *Client) SetEffect(ctx context.Context, state *State, effect string) error {
	if !state.HasEffect(effect) {
		return fmt.Errorf("%w: %q", ErrInvalidEffect, effect)
	}
	resp, err := c.request(ctx, http.MethodPut, "effects", map[string]string{"select": effect})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// EffectPalette requests the definition of an effect. The palette is cached in
// state when effect is the current effect.
func (c *Client) EffectPalette(ctx context.Context, state *State, effect string) ([]PaletteColor, error) {
	if !state.HasEffect(effect) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEffect, effect)
	}
	body := map[string]interface{}{
		"write": map[string]string{
			"command":  "request",
			"animName": effect,
		},
	}
	resp, err := c.request(ctx, http.MethodPut, "effects", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var data EffectData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode effect %q: %w", effect, err)
	}
	state.SetPalette(effect, data.Palette)
	return data.Palette, nil
}
