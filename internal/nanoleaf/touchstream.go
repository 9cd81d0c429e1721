package nanoleaf

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog/log"
)

// TouchListener receives touch stream datagrams from the device.
// Datagrams from any other address are dropped.
type TouchListener struct {
	conn    *net.UDPConn
	decoder TelemetryDecoder
	deliver func(TouchStreamEvent)

	mu      sync.RWMutex
	allowed []net.IP

	done      chan struct{}
	closeOnce sync.Once
}

// ListenTouchStream binds a UDP socket on port (0 = ephemeral). No sender is
// accepted until SetDeviceHost succeeds.
func ListenTouchStream(port int, decoder TelemetryDecoder, deliver func(TouchStreamEvent)) (*TouchListener, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("failed to bind touch stream port %d: %w", port, err)
	}

	l := &TouchListener{
		conn:    conn,
		decoder: decoder,
		deliver: deliver,
		done:    make(chan struct{}),
	}

	log.Info().Int("port", l.Port()).Msg("Touch stream listener bound")

	return l, nil
}

// SetDeviceHost resolves host and accepts datagrams only from its addresses.
// On failure the previous sender list is kept.
func (l *TouchListener) SetDeviceHost(ctx context.Context, host string) error {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: failed to resolve device host %q: %w", ErrUnavailable, host, err)
	}
	allowed := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		allowed = append(allowed, a.IP)
	}

	l.mu.Lock()
	l.allowed = allowed
	l.mu.Unlock()

	log.Debug().Str("host", host).Int("addresses", len(allowed)).Msg("Touch stream sender resolved")
	return nil
}

// Port returns the bound local port.
func (l *TouchListener) Port() int {
	return l.conn.LocalAddr().(*net.UDPAddr).Port
}

// Close releases the socket. Safe to call more than once.
func (l *TouchListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.conn.Close()
	})
	return err
}

// Run reads datagrams until ctx is cancelled or the listener is closed.
func (l *TouchListener) Run(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			l.Close()
		case <-l.done:
		}
	}()

	buf := make([]byte, 1500)
	for {
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn().Err(err).Msg("Touch stream read failed")
			continue
		}

		if !l.allowedFrom(addr.IP) {
			log.Debug().
				Str("from", addr.String()).
				Msg("Dropping touch datagram from unknown sender")
			continue
		}

		ev, err := l.decoder.Decode(buf[:n])
		if err != nil {
			log.Debug().Err(err).Int("bytes", n).Msg("Dropping malformed touch datagram")
			continue
		}

		log.Trace().
			Int("panel_id", ev.PanelID).
			Str("touch_type", ev.TouchType()).
			Int("strength", ev.Strength).
			Msg("Touch stream event")

		l.deliver(ev)
	}
}

func (l *TouchListener) allowedFrom(ip net.IP) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, a := range l.allowed {
		if a.Equal(ip) {
			return true
		}
	}
	return false
}
