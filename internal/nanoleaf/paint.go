package nanoleaf

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"

	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// DefaultPaintPort is the device's external control UDP port.
const DefaultPaintPort = 60222

const updateSize = 2 + 4 + 2

// Color is an RGBW panel color. W is ignored by current devices.
type Color struct {
	R, G, B, W uint8
}

// ColorFromHex parses "#rrggbb".
func ColorFromHex(s string) (Color, error) {
	c, err := colorful.Hex(s)
	if err != nil {
		return Color{}, err
	}
	if !c.IsValid() {
		return Color{}, fmt.Errorf("color %s is invalid", s)
	}
	r, g, b := c.Clamped().RGB255()
	return Color{R: r, G: g, B: b}, nil
}

// Update paints one panel, fading over TransitionTime (units of 100ms).
type Update struct {
	PanelID        uint16
	Color          Color
	TransitionTime uint16
}

// EncodeUpdates serializes updates: 2-byte count, then per update 2-byte panel id,
// R G B W, and 2-byte transition time, all big-endian.
func EncodeUpdates(updates []Update) ([]byte, error) {
	if len(updates) > math.MaxUint16 {
		return nil, fmt.Errorf("too many updates: %d", len(updates))
	}
	buf := make([]byte, 2+len(updates)*updateSize)
	binary.BigEndian.PutUint16(buf, uint16(len(updates)))
	off := 2
	for _, u := range updates {
		binary.BigEndian.PutUint16(buf[off:], u.PanelID)
		buf[off+2] = u.Color.R
		buf[off+3] = u.Color.G
		buf[off+4] = u.Color.B
		buf[off+5] = u.Color.W
		binary.BigEndian.PutUint16(buf[off+6:], u.TransitionTime)
		off += updateSize
	}
	return buf, nil
}

// EnableExternalControl switches the device into realtime UDP paint mode.
func (c *Client) EnableExternalControl(ctx context.Context) error {
	body := map[string]interface{}{
		"write": map[string]string{
			"command":           "display",
			"animType":          "extControl",
			"extControlVersion": "v2",
		},
	}
	resp, err := c.request(ctx, http.MethodPut, "effects", body)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Painter sends realtime paint datagrams to the device, rate limited.
type Painter struct {
	address string
	limiter *rate.Limiter

	mu   sync.Mutex
	conn net.Conn
}

// NewPainter creates a painter for host:port sending at most rps datagrams per second.
func NewPainter(host string, port int, rps float64) *Painter {
	if port == 0 {
		port = DefaultPaintPort
	}
	if rps <= 0 {
		rps = 10
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Painter{
		address: net.JoinHostPort(host, strconv.Itoa(port)),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Paint sends updates in one datagram, waiting for the rate limiter.
func (p *Painter) Paint(ctx context.Context, updates ...Update) error {
	if len(updates) == 0 {
		return nil
	}
	buf, err := EncodeUpdates(updates)
	if err != nil {
		return err
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "udp", p.address)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		p.conn = conn
	}

	if _, err := p.conn.Write(buf); err != nil {
		p.conn.Close()
		p.conn = nil
		return fmt.Errorf("failed to send paint datagram: %w", err)
	}

	log.Trace().Int("updates", len(updates)).Str("address", p.address).Msg("Paint datagram sent")
	return nil
}

// Close releases the UDP socket.
func (p *Painter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}
